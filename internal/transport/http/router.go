package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"study-session-engine/internal/metrics"
)

// NewRouter mounts the REST API, the session stream, health and metrics.
func NewRouter(h *Handler, ws *WSHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	if ws != nil {
		r.Get("/ws", ws.ServeWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/status", h.SessionStatus)
				r.Post("/break/start", h.StartBreak)
				r.Post("/break/end", h.EndBreak)
				r.Post("/complete", h.CompleteSession)
				r.Post("/camera", h.CameraPermission)
				r.Post("/camera/request", h.RequestCamera)
				r.Post("/proctoring", h.RecordProctoring)
				r.Post("/screenshot", h.Screenshot)
				r.Get("/violations", h.Violations)
				r.Post("/engagement", h.RecordEngagement)
				r.Get("/engagement", h.Engagement)
				r.Post("/test", h.GenerateTest)
			})
		})

		r.Route("/tests/{id}", func(r chi.Router) {
			r.Get("/", h.GetTest)
			r.Post("/start", h.StartTest)
			r.Post("/answers", h.SubmitAnswer)
			r.Post("/complete", h.CompleteTest)
		})

		r.Get("/learners/{id}/weak-points", h.WeakPoints)
		r.Post("/difficulty/predict", h.PredictDifficulty)
	})
	return r
}
