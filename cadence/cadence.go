// Package cadence decides how long to wait between stream searches while no
// live stream is found, and how loudly to log each miss.
package cadence

import (
	"log/slog"
	"sync"
	"time"
)

// Verbosity is the log level chosen for one search attempt.
type Verbosity int

const (
	Silent Verbosity = iota
	Terse
	Detail
)

func (v Verbosity) String() string {
	switch v {
	case Detail:
		return "detail"
	case Terse:
		return "terse"
	default:
		return "silent"
	}
}

// Scaler stretches a delay under backpressure.
type Scaler interface {
	Scale(time.Duration) time.Duration
}

// Config holds the tier parameters.
type Config struct {
	FastBase     time.Duration // under FastLimit failures: FastBase + FastStep*n
	FastStep     time.Duration
	FastLimit    int
	ModerateBase time.Duration // FastLimit..SlowAfter-1: ModerateBase + ModerateStep*(n-FastLimit+1), capped
	ModerateStep time.Duration
	ModerateCap  time.Duration
	SlowAfter    int
	Slow         time.Duration
	DetailWindow time.Duration
	TerseEvery   int
}

func DefaultConfig() Config {
	return Config{
		FastBase:     10 * time.Second,
		FastStep:     5 * time.Second,
		FastLimit:    5,
		ModerateBase: 30 * time.Second,
		ModerateStep: 15 * time.Second,
		ModerateCap:  2 * time.Minute,
		SlowAfter:    20,
		Slow:         5 * time.Minute,
		DetailWindow: 5 * time.Minute,
		TerseEvery:   10,
	}
}

// Manager tracks consecutive search misses.
type Manager struct {
	cfg    Config
	scaler Scaler
	now    func() time.Time
	log    *slog.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	searchCount         int
	lastDetailedLog     time.Time
}

// New returns a Manager. scaler may be nil.
func New(cfg Config, scaler Scaler) *Manager {
	return &Manager{
		cfg:    cfg,
		scaler: scaler,
		now:    time.Now,
		log:    slog.Default().With(slog.String("component", "cadence")),
	}
}

// TierDelay returns the unscaled delay after n consecutive misses. It is
// non-decreasing in n.
func (c Config) TierDelay(n int) time.Duration {
	switch {
	case n < c.FastLimit:
		return c.FastBase + time.Duration(n)*c.FastStep
	case n < c.SlowAfter:
		return min(c.ModerateBase+time.Duration(n-c.FastLimit+1)*c.ModerateStep, c.ModerateCap)
	default:
		return c.Slow
	}
}

// NextDelay returns the wait before the next search.
func (m *Manager) NextDelay() time.Duration {
	m.mu.Lock()
	d := m.cfg.TierDelay(m.consecutiveFailures)
	m.mu.Unlock()
	if m.scaler != nil {
		d = m.scaler.Scale(d)
	}
	return d
}

// ConsecutiveFailures returns the current miss streak.
func (m *Manager) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// RecordAttempt updates the counters and emits the status line for this
// attempt. A found stream resets everything.
func (m *Manager) RecordAttempt(found bool) Verbosity {
	m.mu.Lock()
	if found {
		misses := m.consecutiveFailures
		m.consecutiveFailures = 0
		m.searchCount = 0
		m.lastDetailedLog = time.Time{}
		m.mu.Unlock()
		if misses > 0 {
			m.log.Info("live stream found", slog.Int("after_misses", misses))
		}
		return Detail
	}

	m.consecutiveFailures++
	m.searchCount++
	now := m.now()
	v := Silent
	switch {
	case m.lastDetailedLog.IsZero() || now.Sub(m.lastDetailedLog) >= m.cfg.DetailWindow:
		v = Detail
		m.lastDetailedLog = now
	case m.cfg.TerseEvery > 0 && m.searchCount%m.cfg.TerseEvery == 0:
		v = Terse
	}
	n, count := m.consecutiveFailures, m.searchCount
	m.mu.Unlock()

	switch v {
	case Detail:
		next := m.NextDelay()
		m.log.Info("no live stream found",
			slog.Int("consecutive_failures", n),
			slog.Int("searches", count),
			slog.Duration("next_attempt_in", next),
			slog.String("tier", m.tierName(n)))
	case Terse:
		m.log.Info("still searching", slog.Int("searches", count))
	}
	return v
}

func (m *Manager) tierName(n int) string {
	switch {
	case n < m.cfg.FastLimit:
		return "fast"
	case n < m.cfg.SlowAfter:
		return "moderate"
	default:
		return "slow"
	}
}
