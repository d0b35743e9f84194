package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/cadence"
	"github.com/onnwee/livewatch/quota"
	"github.com/onnwee/livewatch/stream"
	"github.com/onnwee/livewatch/telemetry"
	"github.com/onnwee/livewatch/youtubeapi"
)

// Resolver finds the live stream of a channel.
type Resolver interface {
	Resolve(ctx context.Context, channelID string) (stream.Stream, error)
	Last() (stream.Stream, bool)
	// Forget clears Last after the chat it names was dropped.
	Forget()
}

// Sink receives every fetched message, e.g. the Postgres archive.
type Sink interface {
	Store(ctx context.Context, msgs []Message) error
}

// Responder turns fetched messages into outbound messages. Content is its business.
type Responder interface {
	Respond(ctx context.Context, msgs []Message) []OutboundMessage
}

// QuotaStatus exposes the credential ledger for the status document.
type QuotaStatus interface {
	Snapshot() quota.Status
}

// MonitorConfig wires the control loop. Sink and Responder are optional.
type MonitorConfig struct {
	ChannelID string
	// MaxCredentialWait bounds how long the loop waits for a quota reset
	// before giving up.
	MaxCredentialWait time.Duration

	Resolver  Resolver
	Cadence   *cadence.Manager
	Poller    *Poller
	Sender    *Sender
	Outbox    *Outbox
	Sink      Sink
	Responder Responder

	Quota    QuotaStatus
	Breakers *breaker.Registry
	Pressure func() float64
}

// Monitor is the single cooperative loop: resolve while there is no chat,
// then poll, hand off, send one due message and wait.
type Monitor struct {
	cfg MonitorConfig

	now  func() time.Time
	wait func(context.Context, time.Duration) error

	mu        sync.Mutex
	authErr   string
	authErrAt time.Time
	lastCycle time.Time
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.MaxCredentialWait <= 0 {
		cfg.MaxCredentialWait = 26 * time.Hour
	}
	if cfg.Outbox == nil {
		cfg.Outbox = NewOutbox(0)
	}
	return &Monitor{cfg: cfg, now: time.Now, wait: sleepCtx}
}

// Outbox returns the queue the loop drains.
func (m *Monitor) Outbox() *Outbox { return m.cfg.Outbox }

// Run blocks until ctx is canceled (nil) or an unrecoverable error occurs.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("monitor started", slog.String("channel", m.cfg.ChannelID), slog.String("component", "monitor"))
	for {
		if ctx.Err() != nil {
			slog.Info("monitor stopped", slog.String("component", "monitor"))
			return nil
		}
		cycleCtx := telemetry.WithCorrelation(ctx, uuid.NewString())
		delay, err := m.Step(cycleCtx)
		if err != nil {
			return err
		}
		if err := m.wait(ctx, delay); err != nil {
			slog.Info("monitor stopped", slog.String("component", "monitor"))
			return nil
		}
	}
}

// Step runs one cycle and returns the delay before the next. Only fatal
// conditions are returned as errors.
func (m *Monitor) Step(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	m.lastCycle = m.now()
	m.mu.Unlock()

	if !m.cfg.Poller.HasChat() {
		return m.discover(ctx)
	}

	msgs, delay, err := m.cfg.Poller.PollOnce(ctx)
	if !m.cfg.Poller.HasChat() {
		m.cfg.Resolver.Forget()
	}
	if err != nil {
		return m.pollFailed(ctx, err, delay)
	}
	m.clearAuth()
	if len(msgs) > 0 {
		m.handOff(ctx, msgs)
	}
	m.sendDue(ctx)
	return delay, nil
}

func (m *Monitor) discover(ctx context.Context) (time.Duration, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "monitor"))
	st, err := m.cfg.Resolver.Resolve(ctx, m.cfg.ChannelID)
	if err == nil {
		m.cfg.Cadence.RecordAttempt(true)
		m.cfg.Poller.SetChat(st)
		m.clearAuth()
		if obs, ok := m.cfg.Sink.(StreamObserver); ok {
			obs.StreamResolved(ctx, m.cfg.ChannelID, st)
		}
		logger.Info("monitoring live chat", slog.String("video_id", st.VideoID), slog.String("title", st.Title))
		return 0, nil
	}

	switch {
	case errors.Is(err, quota.ErrNoCredentialsAvailable):
		return m.waitForReset(err)
	case errors.Is(err, context.Canceled):
		return 0, nil
	case errors.Is(err, breaker.ErrCircuitOpen):
		m.cfg.Cadence.RecordAttempt(false)
		return m.untilReopen(err, m.cfg.Cadence.NextDelay()), nil
	case errors.Is(err, youtubeapi.ErrUnauthorized):
		m.recordAuth(err)
		m.cfg.Cadence.RecordAttempt(false)
		return m.cfg.Cadence.NextDelay(), nil
	case errors.Is(err, stream.ErrNoActiveStream):
		m.cfg.Cadence.RecordAttempt(false)
		return m.cfg.Cadence.NextDelay(), nil
	default:
		if m.cfg.Cadence.RecordAttempt(false) != cadence.Silent {
			logger.Warn("stream resolve failed", slog.Any("err", err))
		}
		return m.cfg.Cadence.NextDelay(), nil
	}
}

func (m *Monitor) pollFailed(ctx context.Context, err error, delay time.Duration) (time.Duration, error) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "monitor"))
	switch {
	case errors.Is(err, quota.ErrNoCredentialsAvailable):
		return m.waitForReset(err)
	case errors.Is(err, context.Canceled):
		return 0, nil
	case errors.Is(err, breaker.ErrCircuitOpen):
		return m.untilReopen(err, delay), nil
	case errors.Is(err, youtubeapi.ErrUnauthorized):
		m.recordAuth(err)
		return m.cfg.Cadence.NextDelay(), nil
	default:
		logger.Warn("chat poll failed", slog.Any("err", err))
		return delay, nil
	}
}

// waitForReset turns "no credentials" into a wait until the earliest reset,
// or a fatal error when that is further away than MaxCredentialWait.
func (m *Monitor) waitForReset(err error) (time.Duration, error) {
	var nce *quota.NoCredentialsError
	until := time.Time{}
	if errors.As(err, &nce) {
		until = nce.Until
	}
	wait := until.Sub(m.now())
	if until.IsZero() || wait > m.cfg.MaxCredentialWait {
		return 0, fmt.Errorf("all credentials exhausted (max wait %s): %w", m.cfg.MaxCredentialWait, err)
	}
	wait = max(wait, time.Second)
	slog.Warn("all credentials exhausted; waiting for quota reset",
		slog.Time("until", until),
		slog.Duration("wait", wait),
		slog.String("component", "monitor"))
	return wait, nil
}

func (m *Monitor) untilReopen(err error, atLeast time.Duration) time.Duration {
	var oe *breaker.OpenError
	if errors.As(err, &oe) && !oe.Until.IsZero() {
		return max(oe.Until.Sub(m.now()), atLeast, time.Second)
	}
	return max(atLeast, time.Second)
}

func (m *Monitor) handOff(ctx context.Context, msgs []Message) {
	if m.cfg.Sink != nil {
		if err := m.cfg.Sink.Store(ctx, msgs); err != nil {
			slog.Warn("chat sink store failed", slog.Any("err", err), slog.Int("count", len(msgs)), slog.String("component", "monitor"))
		}
	}
	if m.cfg.Responder != nil {
		for _, out := range m.cfg.Responder.Respond(ctx, msgs) {
			if !m.cfg.Outbox.Push(out) {
				slog.Warn("outbox full; dropping message", slog.String("component", "monitor"))
			}
		}
	}
}

// sendDue sends at most one due outbound message.
func (m *Monitor) sendDue(ctx context.Context) {
	if m.cfg.Sender == nil {
		return
	}
	chatID := m.cfg.Poller.ChatID()
	if chatID == "" {
		return
	}
	msg, ok := m.cfg.Outbox.PopDue(m.now())
	if !ok {
		return
	}
	_, err := m.cfg.Sender.Send(ctx, chatID, msg.Text)
	switch {
	case err == nil:
	case errors.Is(err, youtubeapi.ErrUnauthorized):
		m.recordAuth(err)
	case errors.Is(err, youtubeapi.ErrInvalid):
		// A malformed message will never succeed.
	default:
		m.cfg.Outbox.Requeue(msg)
	}
}

func (m *Monitor) recordAuth(err error) {
	slog.Error("credential unauthorized; re-authorization required", slog.Any("err", err), slog.String("component", "monitor"))
	m.mu.Lock()
	m.authErr = err.Error()
	m.authErrAt = m.now()
	m.mu.Unlock()
}

func (m *Monitor) clearAuth() {
	m.mu.Lock()
	m.authErr = ""
	m.authErrAt = time.Time{}
	m.mu.Unlock()
}
