package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"github.com/snapcollect/collector/internal/config"
	"github.com/snapcollect/collector/internal/job"
	"github.com/snapcollect/collector/internal/ws"
)

const version = "0.1.0"

var startTime = time.Now()

type Handlers struct {
	cfg      *config.Config
	store    job.JobStore
	runner   *Runner
	hub      *ws.Hub
	validate *validator.Validate
}

func NewHandlers(cfg *config.Config, store job.JobStore, runner *Runner, hub *ws.Hub) *Handlers {
	return &Handlers{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		hub:      hub,
		validate: validator.New(),
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        version,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"dataset_id":     h.cfg.Credentials.DatasetID,
		"result_format":  h.cfg.ResultFormat,
		"output_dir":     h.cfg.OutputDir,
		"poll": map[string]any{
			"max_attempts":    h.cfg.PollMaxAttempts,
			"delay_seconds":   int(h.cfg.PollDelay.Seconds()),
			"timeout_seconds": int(h.cfg.PollTimeout.Seconds()),
		},
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()
	byState := make(map[string]int, len(stats.ByState))
	for state, n := range stats.ByState {
		byState[string(state)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"runs": map[string]any{
			"total":    stats.Total,
			"active":   h.runner.Active(),
			"by_state": byState,
		},
		"subscribers": h.hub.Count(),
	})
}

func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	j, err := h.runner.Start(req)
	if err != nil {
		log.Error().Err(err).Msg("start run")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, j)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := h.store.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	state := r.URL.Query().Get("state")

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	runs, total := h.store.List(limit, offset, state)
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := h.store.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err := h.runner.Cancel(id); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run is not active", "state": string(j.State)})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
