// Package watcher ingests well-log and output files dropped into the
// watched directories. Files already present at startup are registered
// silently; files arriving while the server runs are registered and
// broadcast so connected sessions refresh immediately.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/pkg/models"
)

// Watcher registers file arrivals in the store and broadcasts live ones.
// The seen set is per-instance and sits on top of the store's
// (filename, filepath) dedup, so restarts never double-register.
type Watcher struct {
	store     store.Store
	bus       *bus.Bus
	lasDir    string
	outputDir string
	seen      map[string]struct{}
}

func New(s store.Store, b *bus.Bus, lasDir, outputDir string) *Watcher {
	return &Watcher{
		store:     s,
		bus:       b,
		lasDir:    lasDir,
		outputDir: outputDir,
		seen:      make(map[string]struct{}),
	}
}

// Run scans both directories, then watches them until ctx is cancelled.
// The initial scan is silent: no events for files that predate the server.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.lasDir, w.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create watch dir %s: %w", dir, err)
		}
	}

	w.scanExisting(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start fs watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range []string{w.lasDir, w.outputDir} {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	log.Info().Str("las", w.lasDir).Str("output", w.outputDir).Msg("Watching for file arrivals")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// Create for atomic drops, Write for files streamed in place.
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handle(ctx, ev.Name, true)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// scanExisting registers files already on disk without broadcasting.
func (w *Watcher) scanExisting(ctx context.Context) {
	for _, dir := range []string{w.lasDir, w.outputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Initial scan failed")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			w.handle(ctx, filepath.Join(dir, entry.Name()), false)
		}
	}
}

// handle classifies a path by directory and extension and registers it.
// broadcast distinguishes live arrivals from the startup scan.
func (w *Watcher) handle(ctx context.Context, path string, broadcast bool) {
	if _, dup := w.seen[path]; dup {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	ext := strings.ToLower(filepath.Ext(path))
	dir := filepath.Dir(path)
	switch {
	case dir == filepath.Clean(w.lasDir) && ext == ".las":
		w.seen[path] = struct{}{}
		w.registerLas(ctx, path, info.Size(), broadcast)
	case dir == filepath.Clean(w.outputDir) && isOutputExt(ext):
		w.seen[path] = struct{}{}
		w.registerOutput(ctx, path, ext, broadcast)
	}
}

func (w *Watcher) registerLas(ctx context.Context, path string, size int64, broadcast bool) {
	record, err := w.store.AddLasFile(ctx, models.LasFile{
		Filename: filepath.Base(path),
		Filepath: path,
		Size:     humanSize(size),
		Source:   models.SourceManual,
	})
	if err != nil && !store.IsWriteError(err) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to register LAS file")
		return
	}
	log.Info().Str("file", record.Filename).Str("size", record.Size).Msg("Registered LAS file")
	if broadcast {
		w.bus.Publish(bus.EventNewLasFile, record)
		w.bus.Publish(bus.EventFilesUpdated, map[string]string{"kind": "las"})
	}
}

func (w *Watcher) registerOutput(ctx context.Context, path, ext string, broadcast bool) {
	record, err := w.store.AddOutputFile(ctx, models.OutputFile{
		Filename: filepath.Base(path),
		Filepath: path,
		FileType: outputTypeFor(ext),
	})
	if err != nil && !store.IsWriteError(err) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to register output file")
		return
	}
	log.Info().Str("file", record.Filename).Str("type", string(record.FileType)).Msg("Registered output file")
	if broadcast {
		w.bus.Publish(bus.EventNewOutputFile, record)
		w.bus.Publish(bus.EventFilesUpdated, map[string]string{"kind": "output"})
	}
}

func isOutputExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".pdf":
		return true
	}
	return false
}

func outputTypeFor(ext string) models.OutputType {
	if ext == ".pdf" {
		return models.OutputReport
	}
	return models.OutputPlot
}

// humanSize renders a byte count the way the dashboard displays it.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
