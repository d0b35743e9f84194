package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/stream"
	"github.com/onnwee/livewatch/telemetry"
	"github.com/onnwee/livewatch/youtubeapi"
)

// ErrNoChat is returned by PollOnce before a chat has been set.
var ErrNoChat = errors.New("chat: no active chat")

// Scaler stretches a delay under backpressure.
type Scaler interface {
	Scale(time.Duration) time.Duration
}

// PollState is the continuation state of the current chat.
type PollState struct {
	NextPageToken   string        `json:"next_page_token"`
	PollingInterval time.Duration `json:"polling_interval"`
}

// PollerConfig tunes the Poller.
type PollerConfig struct {
	// DefaultInterval is our own cadence; the server interval wins when longer.
	DefaultInterval time.Duration
	// FallbackDelay is returned after the chat id was rejected.
	FallbackDelay time.Duration
}

// Poller reads one live chat at a time.
type Poller struct {
	deps   stream.Deps
	cfg    PollerConfig
	scaler Scaler

	// now and sleep are replaced in tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu        sync.Mutex
	current   stream.Stream
	hasChat   bool
	state     PollState
	notBefore time.Time
}

// NewPoller returns a Poller. scaler may be nil.
func NewPoller(deps stream.Deps, cfg PollerConfig, scaler Scaler) *Poller {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 5 * time.Second
	}
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = 30 * time.Second
	}
	return &Poller{deps: deps, cfg: cfg, scaler: scaler, now: time.Now, sleep: sleepCtx}
}

// SetChat switches to st and resets the continuation state.
func (p *Poller) SetChat(st stream.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasChat && p.current.ChatID == st.ChatID {
		p.current = st
		return
	}
	p.current = st
	p.hasChat = st.ChatID != ""
	p.state = PollState{}
	p.notBefore = time.Time{}
}

// HasChat reports whether a chat id is set.
func (p *Poller) HasChat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasChat
}

// ChatID returns the current chat id, or "" when there is none.
func (p *Poller) ChatID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasChat {
		return ""
	}
	return p.current.ChatID
}

// State returns the current continuation state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// dropChat forgets the chat so the next cycle re-resolves.
func (p *Poller) dropChat() {
	p.mu.Lock()
	p.hasChat = false
	p.current = stream.Stream{}
	p.state = PollState{}
	p.mu.Unlock()
}

func (p *Poller) floor() time.Duration {
	d := p.cfg.DefaultInterval
	if p.scaler != nil {
		d = p.scaler.Scale(d)
	}
	return d
}

// PollOnce fetches the next page of messages and returns the delay before the
// next poll. A call that arrives before the previous delay has elapsed blocks
// until it has. A rejected chat (403/404) yields no messages, FallbackDelay
// and a nil error.
func (p *Poller) PollOnce(ctx context.Context) ([]Message, time.Duration, error) {
	p.mu.Lock()
	if !p.hasChat {
		p.mu.Unlock()
		return nil, p.cfg.FallbackDelay, ErrNoChat
	}
	st, token, notBefore := p.current, p.state.NextPageToken, p.notBefore
	p.mu.Unlock()

	if wait := notBefore.Sub(p.now()); wait > 0 {
		if err := p.sleep(ctx, wait); err != nil {
			return nil, 0, err
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "chat.Poll", attribute.String("chat_id", st.ChatID))
	var (
		page youtubeapi.ChatPage
		err  error
	)
	telemetry.TimeFunc(telemetry.PollDuration, func() {
		err = p.deps.Call(ctx, breaker.Poll, youtubeapi.CostChatList, func(ctx context.Context, c youtubeapi.Client) error {
			var err error
			page, err = c.ListChatMessages(ctx, st.ChatID, token)
			return err
		})
	})
	telemetry.EndSpan(span, err)
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("chat_id", st.ChatID))

	if err != nil {
		if errors.Is(err, youtubeapi.ErrNotFound) || errors.Is(err, youtubeapi.ErrForbidden) {
			logger.Info("chat rejected; clearing session", slog.Any("err", err))
			p.invalidate(logger)
			return nil, p.cfg.FallbackDelay, nil
		}
		return nil, p.floor(), err
	}

	msgs := fromAPI(st, page.Messages)
	telemetry.AddChatMessages(len(msgs))

	if !page.OfflineAt.IsZero() {
		logger.Info("stream went offline", slog.Time("offline_at", page.OfflineAt))
		p.invalidate(logger)
		return msgs, p.cfg.FallbackDelay, nil
	}

	delay := max(page.PollingInterval, p.floor())
	p.mu.Lock()
	if p.hasChat && p.current.ChatID == st.ChatID {
		p.state = PollState{NextPageToken: page.NextPageToken, PollingInterval: page.PollingInterval}
		p.notBefore = p.now().Add(delay)
	}
	p.mu.Unlock()
	if len(msgs) > 0 {
		logger.Debug("chat messages fetched", slog.Int("count", len(msgs)), slog.Duration("next_poll", delay))
	}
	return msgs, delay, nil
}

func (p *Poller) invalidate(logger *slog.Logger) {
	p.dropChat()
	if p.deps.Cache == nil {
		return
	}
	if err := p.deps.Cache.Clear(); err != nil {
		logger.Warn("clear session cache", slog.Any("err", err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
