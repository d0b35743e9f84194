// Package stream finds the channel's active live stream and its chat id,
// preferring the cached session over a fresh search.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/quota"
	"github.com/onnwee/livewatch/telemetry"
	"github.com/onnwee/livewatch/youtubeapi"
)

// ErrNoActiveStream means the channel is not live right now.
var ErrNoActiveStream = errors.New("stream: no active live stream")

// errEnded marks a cached video that is no longer live.
var errEnded = errors.New("stream: cached broadcast ended")

// Stream identifies a live broadcast and its chat.
type Stream struct {
	VideoID    string    `json:"video_id"`
	ChatID     string    `json:"chat_id"`
	Title      string    `json:"title"`
	ResolvedAt time.Time `json:"resolved_at"`
	FromCache  bool      `json:"from_cache"`
}

// Resolver resolves a channel to its live stream. It does not retry; the
// cadence manager decides when to call again.
type Resolver struct {
	deps Deps
	now  func() time.Time

	mu   sync.Mutex
	last *Stream
}

func NewResolver(deps Deps) *Resolver {
	return &Resolver{deps: deps, now: time.Now}
}

// Last returns the most recent successful resolution.
func (r *Resolver) Last() (Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Stream{}, false
	}
	return *r.last, true
}

// Forget drops the last resolution once its chat is known to be gone.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}

// Resolve returns the live stream for channelID. Failures are typed:
// ErrNoActiveStream, quota.ErrNoCredentialsAvailable, breaker.ErrCircuitOpen
// or a youtubeapi error.
func (r *Resolver) Resolve(ctx context.Context, channelID string) (Stream, error) {
	ctx, span := telemetry.StartSpan(ctx, "stream.Resolve", attribute.String("channel_id", channelID))
	var (
		st  Stream
		err error
	)
	telemetry.TimeFunc(telemetry.ResolveDuration, func() {
		st, err = r.resolve(ctx, channelID)
	})
	if err == nil {
		span.SetAttributes(attribute.String("video_id", st.VideoID), attribute.Bool("from_cache", st.FromCache))
	}
	telemetry.EndSpan(span, err)

	switch {
	case err == nil:
		telemetry.IncSearch("found")
		r.mu.Lock()
		r.last = &st
		r.mu.Unlock()
	case errors.Is(err, ErrNoActiveStream):
		telemetry.IncSearch("not_found")
	default:
		telemetry.IncSearch("error")
	}
	return st, err
}

func (r *Resolver) resolve(ctx context.Context, channelID string) (Stream, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "stream"))

	if cached, ok := r.deps.Cache.Load(); ok {
		st, err := r.validate(ctx, cached.VideoID, cached.ChatID, cached.Title)
		if err == nil {
			logger.Debug("cached session still live", slog.String("video_id", st.VideoID))
			return st, nil
		}
		if !invalidates(err) {
			// Keep the cache: a timeout or open circuit says nothing about the stream.
			return Stream{}, err
		}
		logger.Info("cached session rejected; searching",
			slog.String("video_id", cached.VideoID),
			slog.Any("reason", err))
		if cerr := r.deps.Cache.Clear(); cerr != nil {
			logger.Warn("clear session cache", slog.Any("err", cerr))
		}
	}
	return r.discover(ctx, channelID, logger)
}

// invalidates reports whether a validation failure proves the cached session stale.
func invalidates(err error) bool {
	return errors.Is(err, errEnded) ||
		errors.Is(err, youtubeapi.ErrNotFound) ||
		errors.Is(err, youtubeapi.ErrForbidden)
}

func (r *Resolver) validate(ctx context.Context, videoID, chatID, title string) (Stream, error) {
	var v youtubeapi.LiveVideo
	err := r.deps.Call(ctx, breaker.Discovery, youtubeapi.CostVideosList, func(ctx context.Context, c youtubeapi.Client) error {
		var err error
		v, err = c.GetVideo(ctx, videoID)
		return err
	})
	if err != nil {
		return Stream{}, err
	}
	if !v.Live() {
		return Stream{}, errEnded
	}
	if v.Title != "" {
		title = v.Title
	}
	if v.ChatID != chatID {
		if err := r.deps.Cache.Save(videoID, v.ChatID, title); err != nil {
			slog.Warn("update session cache", slog.Any("err", err), slog.String("component", "stream"))
		}
	}
	return Stream{VideoID: videoID, ChatID: v.ChatID, Title: title, ResolvedAt: r.now(), FromCache: true}, nil
}

func (r *Resolver) discover(ctx context.Context, channelID string, logger *slog.Logger) (Stream, error) {
	var found []youtubeapi.LiveVideo
	err := r.deps.Call(ctx, breaker.Discovery, youtubeapi.CostSearch, func(ctx context.Context, c youtubeapi.Client) error {
		var err error
		found, err = c.SearchLive(ctx, channelID)
		return err
	})
	if err != nil {
		return Stream{}, err
	}
	if len(found) == 0 {
		return Stream{}, fmt.Errorf("channel %s: %w", channelID, ErrNoActiveStream)
	}
	if len(found) > 1 {
		logger.Warn("channel has several live streams; using the first",
			slog.Int("count", len(found)),
			slog.String("video_id", found[0].VideoID))
	}

	st, err := r.validate(ctx, found[0].VideoID, "", found[0].Title)
	if err != nil {
		if errors.Is(err, errEnded) || errors.Is(err, youtubeapi.ErrNotFound) {
			return Stream{}, fmt.Errorf("channel %s: video %s has no active chat: %w", channelID, found[0].VideoID, ErrNoActiveStream)
		}
		return Stream{}, err
	}
	st.FromCache = false
	logger.Info("live stream resolved",
		slog.String("video_id", st.VideoID),
		slog.String("chat_id", st.ChatID),
		slog.String("title", st.Title))
	return st, nil
}

// Compile-time check that the production rotator satisfies Rotator.
var _ Rotator = (*quota.Rotator)(nil)
