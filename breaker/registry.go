package breaker

import (
	"sort"
	"sync"

	"github.com/onnwee/livewatch/telemetry"
)

// Operation names used by the monitor.
const (
	Discovery = "discovery"
	Poll      = "poll"
	Send      = "send"
)

// Registry hands out one shared Breaker per operation name.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates breakers lazily with cfg. State changes are exported
// as the circuit state gauge in addition to any OnStateChange in cfg.
func NewRegistry(cfg Config) *Registry {
	user := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to State) {
		telemetry.SetBreakerState(name, gaugeValue(to))
		if user != nil {
			user(name, from, to)
		}
	}
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

func gaugeValue(s State) float64 {
	switch s {
	case Open:
		return 1
	case HalfOpen:
		return 0.5
	default:
		return 0
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.cfg)
		r.breakers[name] = b
		telemetry.SetBreakerState(name, 0)
	}
	return b
}

// Snapshot returns every breaker's state ordered by name.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AnyOpen reports whether some breaker is currently rejecting calls.
func (r *Registry) AnyOpen() bool {
	for _, s := range r.Snapshot() {
		if s.State == Open.String() {
			return true
		}
	}
	return false
}
