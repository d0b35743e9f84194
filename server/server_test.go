package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/chat"
	"github.com/onnwee/livewatch/stream"
)

type staticStatus chat.Status

func (s staticStatus) Status() chat.Status { return chat.Status(s) }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func healthyStatus() chat.Status {
	return chat.Status{
		Channel:          "UC1",
		ActiveCredential: "a",
		Credentials: []chat.CredentialStatus{
			{ID: "a", Used: 105, Limit: 10000, Headroom: 0.9895},
			{ID: "b", Used: 10000, Limit: 10000, Exhausted: true, ExhaustedUntil: time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)},
		},
		Breakers: []breaker.Snapshot{{Name: breaker.Discovery, State: breaker.Closed.String()}},
		Stream:   &stream.Stream{VideoID: "abcdefghijk", ChatID: "chat-1", Title: "live"},
		Polling:  true,
	}
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestHealthz(t *testing.T) {
	rr := serve(t, NewMux(staticStatus{}, nil), http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	allSpent := healthyStatus()
	allSpent.Credentials[0].Exhausted = true
	open := healthyStatus()
	open.Breakers = append(open.Breakers, breaker.Snapshot{Name: breaker.Poll, State: breaker.Open.String()})

	tests := []struct {
		name       string
		status     chat.Status
		archive    Pinger
		wantCode   int
		wantFailed string
	}{
		{"ready", healthyStatus(), nil, http.StatusOK, ""},
		{"ready with archive", healthyStatus(), pinger{}, http.StatusOK, ""},
		{"no credentials configured yet", chat.Status{}, nil, http.StatusOK, ""},
		{"all credentials exhausted", allSpent, nil, http.StatusServiceUnavailable, "credentials"},
		{"breaker open", open, nil, http.StatusServiceUnavailable, "circuit_breaker"},
		{"archive down", healthyStatus(), pinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, NewMux(staticStatus(tt.status), tt.archive), http.MethodGet, "/readyz")
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d, body=%s", tt.wantCode, rr.Code, rr.Body.String())
			}
			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["failed_check"] != tt.wantFailed {
				t.Errorf("failed_check = %q, want %q", resp["failed_check"], tt.wantFailed)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	rr := serve(t, NewMux(staticStatus(healthyStatus()), nil), http.MethodGet, "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var doc map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["active_credential"] != "a" || doc["channel"] != "UC1" {
		t.Errorf("doc = %v", doc)
	}
	creds, _ := doc["credentials"].([]any)
	if len(creds) != 2 {
		t.Fatalf("credentials = %v", doc["credentials"])
	}
	second, _ := creds[1].(map[string]any)
	if second["exhausted"] != true || second["exhausted_until"] == nil {
		t.Errorf("exhausted credential = %v", second)
	}
	first, _ := creds[0].(map[string]any)
	if _, ok := first["exhausted_until"]; ok {
		t.Errorf("zero exhausted_until serialized: %v", first)
	}
	st, _ := doc["stream"].(map[string]any)
	if st["video_id"] != "abcdefghijk" {
		t.Errorf("stream = %v", doc["stream"])
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	rr := serve(t, NewMux(staticStatus(healthyStatus()), nil), http.MethodPost, "/status")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := serve(t, NewMux(staticStatus{}, nil), http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("metrics output missing default collectors")
	}
}

func TestCorrelationID(t *testing.T) {
	h := NewMux(staticStatus{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("echoed id = %q", got)
	}

	rr = serve(t, h, http.MethodGet, "/healthz")
	if got := rr.Header().Get("X-Correlation-ID"); len(got) != 36 {
		t.Errorf("generated id = %q, want a uuid", got)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", NewMux(staticStatus{}, nil)) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
