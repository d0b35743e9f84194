package server

import (
	"errors"
	"net/http"
)

// HandleHealthz is the liveness probe: the process is up and serving.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports not ready while every credential is exhausted, any
// breaker is open or the archive (when configured) is unreachable.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	st := h.src.Status()
	checks := []struct {
		name string
		fn   func() error
	}{
		{"credentials", func() error {
			if st.AllExhausted() {
				return errors.New("all credentials exhausted")
			}
			return nil
		}},
		{"circuit_breaker", func() error {
			if st.AnyBreakerOpen() {
				return errors.New("circuit breaker open")
			}
			return nil
		}},
		{"database", func() error {
			if h.archive == nil {
				return nil
			}
			return h.archive.Ping(r.Context())
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
