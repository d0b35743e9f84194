// Package session persists the last resolved live stream so a restart can
// skip the expensive search call.
package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"time"

	"github.com/onnwee/livewatch/statefile"
)

// FileName is the cache file inside the data directory.
const FileName = "session_cache.json"

var (
	videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	chatIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Session is the cached identity of a live stream.
type Session struct {
	VideoID  string    `json:"video_id"`
	ChatID   string    `json:"chat_id"`
	Title    string    `json:"title"`
	CachedAt time.Time `json:"cached_at"`
}

// Valid reports whether both identifiers are present and well formed.
func (s Session) Valid() bool {
	return videoIDPattern.MatchString(s.VideoID) && chatIDPattern.MatchString(s.ChatID)
}

// Cache stores one Session in a JSON file. Staleness is not tracked here;
// callers validate against the API and Clear on rejection.
type Cache struct {
	path string
	now  func() time.Time
}

func NewCache(dir string) *Cache {
	return &Cache{path: filepath.Join(dir, FileName), now: time.Now}
}

// Path returns the backing file.
func (c *Cache) Path() string { return c.path }

// Load returns the cached session. Missing, malformed or invalid records are absent.
func (c *Cache) Load() (Session, bool) {
	var s Session
	if !statefile.ReadJSON(c.path, &s) {
		return Session{}, false
	}
	if !s.Valid() {
		slog.Warn("ignoring invalid session cache", slog.String("video_id", s.VideoID), slog.String("component", "session"))
		return Session{}, false
	}
	return s, true
}

// Save replaces the cached session.
func (c *Cache) Save(videoID, chatID, title string) error {
	s := Session{VideoID: videoID, ChatID: chatID, Title: title, CachedAt: c.now().UTC()}
	if !s.Valid() {
		return fmt.Errorf("session: refusing to cache invalid ids video=%q chat=%q", videoID, chatID)
	}
	if err := statefile.WriteJSON(c.path, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the cached session. Clearing an empty cache is not an error.
func (c *Cache) Clear() error {
	if err := statefile.Remove(c.path); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
