package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phuslu/log"

	"github.com/snapcollect/collector/internal/config"
	"github.com/snapcollect/collector/internal/job"
	"github.com/snapcollect/collector/internal/output"
	"github.com/snapcollect/collector/internal/ws"
)

type Deps struct {
	Config  *config.Config
	Runs    job.JobStore
	Runner  *Runner
	Results *output.Store
	Hub     *ws.Hub
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := NewHandlers(d.Config, d.Runs, d.Runner, d.Hub)
	results := NewResultHandlers(d.Results)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)

	// Runs API
	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", h.StartRun)
		r.Get("/", h.ListRuns)
		r.Get("/{id}", h.GetRun)
		r.Post("/{id}/cancel", h.CancelRun)
	})

	// Saved results
	r.Get("/api/results", results.List)
	r.Get("/api/results/{name}", results.Get)

	// WebSocket
	r.Get("/ws/progress", d.Hub.HandleSubscribe)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request completed")
		}()

		next.ServeHTTP(ww, r)
	})
}
