// Package throttle turns recent call outcomes and remaining quota into a
// single pressure signal in [0,1]. Pollers and the sender stretch their delays
// by it before the breaker or the cadence backoff would otherwise react.
package throttle

import (
	"sync"
	"time"

	"github.com/onnwee/livewatch/telemetry"
)

// Config tunes the Manager.
type Config struct {
	// Window is the number of recent outcomes considered.
	Window int
	// LowHeadroom is the headroom fraction below which quota pressure rises.
	LowHeadroom float64
	// MaxStretch is the extra multiple applied at full pressure.
	MaxStretch float64
}

func DefaultConfig() Config {
	return Config{Window: 20, LowHeadroom: 0.2, MaxStretch: 3}
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg      Config
	headroom func() float64

	mu       sync.Mutex
	outcomes []bool
	next     int
	filled   int
}

// New returns a Manager. headroom reports the active credential's remaining
// quota fraction; nil means quota never adds pressure.
func New(cfg Config, headroom func() float64) *Manager {
	d := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.LowHeadroom <= 0 || cfg.LowHeadroom > 1 {
		cfg.LowHeadroom = d.LowHeadroom
	}
	if cfg.MaxStretch < 0 {
		cfg.MaxStretch = d.MaxStretch
	}
	return &Manager{cfg: cfg, headroom: headroom, outcomes: make([]bool, cfg.Window)}
}

// Record adds one call outcome to the window.
func (m *Manager) Record(success bool) {
	m.mu.Lock()
	m.outcomes[m.next] = success
	m.next = (m.next + 1) % len(m.outcomes)
	if m.filled < len(m.outcomes) {
		m.filled++
	}
	m.mu.Unlock()
	telemetry.SetPressure(m.Pressure())
}

func (m *Manager) failureRatio() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filled == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < m.filled; i++ {
		if !m.outcomes[i] {
			failed++
		}
	}
	return float64(failed) / float64(m.filled)
}

func (m *Manager) quotaPressure() float64 {
	if m.headroom == nil {
		return 0
	}
	h := m.headroom()
	if h >= m.cfg.LowHeadroom {
		return 0
	}
	if h <= 0 {
		return 1
	}
	return 1 - h/m.cfg.LowHeadroom
}

// Pressure returns max(failure ratio, quota pressure).
func (m *Manager) Pressure() float64 {
	return max(m.failureRatio(), m.quotaPressure())
}

// Scale stretches d by the current pressure: d * (1 + MaxStretch*pressure).
func (m *Manager) Scale(d time.Duration) time.Duration {
	if m == nil {
		return d
	}
	return time.Duration(float64(d) * (1 + m.cfg.MaxStretch*m.Pressure()))
}
