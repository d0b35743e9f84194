package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// YouTube Data API paths served by MockYouTubeServer.
const (
	SearchPath    = "/youtube/v3/search"
	VideosPath    = "/youtube/v3/videos"
	ChatPath      = "/youtube/v3/liveChat/messages"
	InsertRoute   = http.MethodPost + " " + ChatPath
	ChatListRoute = http.MethodGet + " " + ChatPath
)

// MockYouTubeServer creates a test server that mocks YouTube Data API responses.
// Handlers are keyed by "METHOD /path" first, then by "/path".
type MockYouTubeServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockYouTubeServer creates a new mock YouTube API server.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		handler, ok := m.handlers[r.Method+" "+r.URL.Path]
		if !ok {
			handler, ok = m.handlers[r.URL.Path]
		}
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		writeError(w, http.StatusNotFound, "notFound")
	}))
	t.Cleanup(m.Close)
	return m
}

// Service returns a generated YouTube client pointed at the mock server.
func (m *MockYouTubeServer) Service(t *testing.T) *yt.Service {
	t.Helper()
	svc, err := yt.NewService(context.Background(),
		option.WithEndpoint(m.URL+"/"),
		option.WithHTTPClient(m.Client()),
	)
	if err != nil {
		t.Fatalf("youtube service: %v", err)
	}
	return svc
}

// Handle installs a handler for a route ("/path" or "METHOD /path").
func (m *MockYouTubeServer) Handle(route string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[route] = h
}

// Hits returns how many requests reached path.
func (m *MockYouTubeServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// MockSearchResponse serves search.list with the given videos, each a map with
// videoId, title and channelId keys.
func (m *MockYouTubeServer) MockSearchResponse(videos []map[string]string) {
	m.Handle(SearchPath, func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 0, len(videos))
		for _, v := range videos {
			items = append(items, map[string]any{
				"kind": "youtube#searchResult",
				"id":   map[string]string{"kind": "youtube#video", "videoId": v["videoId"]},
				"snippet": map[string]string{
					"title":                v["title"],
					"channelId":            v["channelId"],
					"liveBroadcastContent": "live",
				},
			})
		}
		writeJSON(w, map[string]any{"kind": "youtube#searchListResponse", "items": items})
	})
}

// MockVideoResponse serves videos.list. An empty videoID yields an empty item list.
func (m *MockYouTubeServer) MockVideoResponse(videoID, chatID, title string, ended bool) {
	m.Handle(VideosPath, func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{}
		if videoID != "" {
			details := map[string]string{"actualStartTime": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)}
			if chatID != "" {
				details["activeLiveChatId"] = chatID
			}
			if ended {
				details["actualEndTime"] = time.Now().UTC().Format(time.RFC3339)
			}
			items = append(items, map[string]any{
				"kind":                 "youtube#video",
				"id":                   videoID,
				"snippet":              map[string]string{"title": title, "channelId": "UCmock"},
				"liveStreamingDetails": details,
			})
		}
		writeJSON(w, map[string]any{"kind": "youtube#videoListResponse", "items": items})
	})
}

// MockChatResponse serves liveChatMessages.list. Each message is a map with id,
// author, authorChannelId and text keys.
func (m *MockYouTubeServer) MockChatResponse(nextToken string, intervalMillis int64, messages []map[string]string) {
	m.Handle(ChatListRoute, func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 0, len(messages))
		for _, msg := range messages {
			items = append(items, map[string]any{
				"kind": "youtube#liveChatMessage",
				"id":   msg["id"],
				"snippet": map[string]string{
					"type":           "textMessageEvent",
					"displayMessage": msg["text"],
					"publishedAt":    time.Now().UTC().Format(time.RFC3339),
				},
				"authorDetails": map[string]string{
					"channelId":   msg["authorChannelId"],
					"displayName": msg["author"],
				},
			})
		}
		writeJSON(w, map[string]any{
			"kind":                  "youtube#liveChatMessageListResponse",
			"nextPageToken":         nextToken,
			"pollingIntervalMillis": intervalMillis,
			"items":                 items,
		})
	})
}

// MockInsertResponse accepts liveChatMessages.insert calls.
func (m *MockYouTubeServer) MockInsertResponse() {
	m.Handle(InsertRoute, func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // echo back what we can
		body["id"] = "inserted-1"
		writeJSON(w, body)
	})
}

// MockError makes route fail with the given status and googleapi reason.
func (m *MockYouTubeServer) MockError(route string, code int, reason string) {
	m.Handle(route, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, code, reason)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

func writeError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
		"error": map[string]any{
			"code":    code,
			"message": http.StatusText(code),
			"errors": []map[string]string{
				{"reason": reason, "domain": "youtube", "message": http.StatusText(code)},
			},
		},
	})
}
