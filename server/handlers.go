package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	src     StatusSource
	archive Pinger
}

// NewHandlers creates a Handlers. archive may be nil.
func NewHandlers(src StatusSource, archive Pinger) *Handlers {
	return &Handlers{src: src, archive: archive}
}

// HandleStatus serves the monitor status document.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.src.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", slog.Any("err", err), slog.String("component", "http"))
	}
}
