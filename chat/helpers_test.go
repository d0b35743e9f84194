package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/quota"
	"github.com/onnwee/livewatch/session"
	"github.com/onnwee/livewatch/stream"
	"github.com/onnwee/livewatch/testutil"
	"github.com/onnwee/livewatch/youtubeapi"
)

var liveStream = stream.Stream{VideoID: "abcdefghijk", ChatID: "chat-1", Title: "live"}

type fixture struct {
	mocks   map[string]*testutil.MockYouTubeServer
	rotator *quota.Rotator
	reg     *breaker.Registry
	cache   *session.Cache
	deps    stream.Deps
}

// newFixture builds a rotator with one credential per id, each backed by its own mock server.
func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	if len(ids) == 0 {
		ids = []string{"a"}
	}
	dir := t.TempDir()
	f := &fixture{mocks: map[string]*testutil.MockYouTubeServer{}}
	clients := map[string]youtubeapi.Client{}
	for _, id := range ids {
		m := testutil.NewMockYouTubeServer(t)
		f.mocks[id] = m
		clients[id] = youtubeapi.NewService(m.Service(t))
	}
	ledger, err := quota.OpenLedger(dir, ids, 10000, time.UTC, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	f.rotator, err = quota.NewRotator(ledger, clients)
	if err != nil {
		t.Fatal(err)
	}
	f.reg = breaker.NewRegistry(breaker.Config{Threshold: 3, Cooldown: time.Minute, IsFailure: youtubeapi.IsBreakerFailure, IsNeutral: quota.IsLocal})
	f.cache = session.NewCache(dir)
	f.deps = stream.Deps{Rotator: f.rotator, Breakers: f.reg, Cache: f.cache}
	return f
}

func (f *fixture) mock() *testutil.MockYouTubeServer { return f.mocks["a"] }

// chatPages serves liveChatMessages.list and records the page tokens it was asked for.
type chatPages struct {
	mu     sync.Mutex
	tokens []string
}

func (c *chatPages) install(m *testutil.MockYouTubeServer, next string, intervalMillis int64, offline bool) {
	m.Handle(testutil.ChatListRoute, func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.tokens = append(c.tokens, r.URL.Query().Get("pageToken"))
		c.mu.Unlock()
		body := map[string]any{
			"nextPageToken":         next,
			"pollingIntervalMillis": intervalMillis,
			"items": []map[string]any{{
				"id":            "m-" + next,
				"snippet":       map[string]string{"displayMessage": "hello", "publishedAt": "2025-03-10T10:00:00Z"},
				"authorDetails": map[string]string{"channelId": "UCviewer", "displayName": "viewer"},
			}},
		}
		if offline {
			body["offlineAt"] = "2025-03-10T11:00:00Z"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (c *chatPages) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

// fakeClock drives Poller and Monitor time; sleeping advances it.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}
