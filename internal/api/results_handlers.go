package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snapcollect/collector/internal/output"
)

type ResultHandlers struct {
	store *output.Store
}

func NewResultHandlers(store *output.Store) *ResultHandlers {
	return &ResultHandlers{store: store}
}

type ResultList struct {
	Files []output.File `json:"files"`
	Count int           `json:"count"`
}

func (h *ResultHandlers) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ResultList{Files: files, Count: len(files)})
}

func (h *ResultHandlers) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	content, err := h.store.Open(name)
	if errors.Is(err, output.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
