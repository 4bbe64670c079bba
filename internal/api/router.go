package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wellscope/wellscope/internal/api/handlers"
	"github.com/wellscope/wellscope/internal/api/middleware"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", h.Version)
	r.Get("/ws", h.EventStream)

	r.Route("/api", func(r chi.Router) {
		r.Route("/agent", func(r chi.Router) {
			r.Get("/config", h.GetAgentConfig)
			r.Post("/config", h.UpdateAgentConfig)
			r.Post("/test-connection", h.TestConnection)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Get("/messages", h.ListChatMessages)
			r.Post("/message", h.PostChatMessage)
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/las", h.ListLasFiles)
			r.Post("/las", h.RegisterLasFile)
			r.Get("/output", h.ListOutputFiles)
			r.Get("/output/{filename}", h.ServeOutputFile)
		})

		r.Route("/emails", func(r chi.Router) {
			r.Get("/", h.ListEmails)
			r.Post("/", h.AddEmail)

			r.Route("/monitor", func(r chi.Router) {
				r.Get("/status", h.MonitorStatus)
				r.Put("/status", h.UpdateMonitorStatus)
				r.Post("/start", h.StartMonitor)
				r.Post("/stop", h.StopMonitor)
			})

			r.Post("/process", h.ProcessEmail)
			r.Post("/process-auto", h.ProcessAuto)
			r.Post("/process-enhanced", h.ProcessEnhanced)
			r.Post("/send-reply", h.SendReply)

			r.Get("/processing-steps", h.ListProcessingSteps)
			r.Delete("/processing-steps", h.ClearProcessingSteps)

			r.Get("/attachments/{filename}", h.ServeAttachment)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEmail)
				r.Delete("/", h.DeleteEmail)
				r.Put("/status", h.UpdateEmailStatus)
			})
		})
	})

	return r
}
