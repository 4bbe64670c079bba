package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/pkg/models"
)

// Extensions the file endpoints will hand out. Anything else 404s even
// if it exists on disk.
var (
	outputExts     = map[string]bool{".png": true, ".jpg": true, ".pdf": true}
	attachmentExts = map[string]bool{".las": true, ".txt": true, ".csv": true, ".pdf": true}
)

// ── LAS Files ────────────────────────────────────────────────

func (h *Handlers) ListLasFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.Store.ListLasFiles(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []models.LasFile{}
	}
	respondJSON(w, http.StatusOK, files)
}

func (h *Handlers) RegisterLasFile(w http.ResponseWriter, r *http.Request) {
	var req models.LasFile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		respondError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if req.Filepath == "" {
		req.Filepath = filepath.Join(h.Config.LasDir, filepath.Base(req.Filename))
	}
	if req.Source == "" {
		req.Source = models.SourceUpload
	}

	record, err := h.Store.AddLasFile(r.Context(), req)
	if err != nil && !store.IsWriteError(err) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("file", record.Filename).Msg("LAS file registered")
	h.Bus.Publish(bus.EventNewLasFile, record)
	h.Bus.Publish(bus.EventFilesUpdated, map[string]string{"kind": "las"})
	respondJSON(w, http.StatusCreated, record)
}

// ── Output Files ─────────────────────────────────────────────

func (h *Handlers) ListOutputFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.Store.ListOutputFiles(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []models.OutputFile{}
	}
	respondJSON(w, http.StatusOK, files)
}

func (h *Handlers) ServeOutputFile(w http.ResponseWriter, r *http.Request) {
	serveFromDir(w, r, h.Config.OutputDir, chi.URLParam(r, "filename"), outputExts)
}

func (h *Handlers) ServeAttachment(w http.ResponseWriter, r *http.Request) {
	serveFromDir(w, r, h.Config.AttachmentsDir, chi.URLParam(r, "filename"), attachmentExts)
}

// serveFromDir serves a single file from dir. The name is reduced to its
// basename so path traversal cannot escape the directory, and the
// extension must be on the allow list.
func serveFromDir(w http.ResponseWriter, r *http.Request, dir, name string, allowed map[string]bool) {
	base := filepath.Base(name)
	if base == "." || base == ".." || base != name {
		respondError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !allowed[strings.ToLower(filepath.Ext(base))] {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}

	path := filepath.Join(dir, base)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, path)
}
