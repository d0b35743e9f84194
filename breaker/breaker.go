// Package breaker isolates faults in remote calls. One Breaker exists per
// logical operation (discovery, poll, send) and is shared by every credential.
//
// States:
//   - Closed: calls pass through; Threshold consecutive failures open the circuit
//   - Open: calls fail fast with *OpenError until the cooldown elapses
//   - Half-open: exactly one trial call; success closes, failure reopens with
//     the cooldown doubled up to MaxCooldown
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is matched by every fail-fast rejection.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned instead of invoking the wrapped function.
type OpenError struct {
	Name  string
	Until time.Time
}

func (e *OpenError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("%s: %s (trial in flight)", e.Name, ErrCircuitOpen)
	}
	return fmt.Sprintf("%s: %s until %s", e.Name, ErrCircuitOpen, e.Until.Format(time.RFC3339))
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Classifier reports whether err counts toward the failure threshold.
type Classifier func(err error) bool

// Config configures a Breaker.
type Config struct {
	Threshold      int
	Cooldown       time.Duration
	MaxCooldown    time.Duration
	RequestTimeout time.Duration
	// IsFailure defaults to counting every non-nil error.
	IsFailure Classifier
	// IsNeutral marks errors that never reached the dependency, e.g. a call
	// refused locally for lack of quota. They neither count nor reset.
	IsNeutral Classifier
	// OnStateChange is called with the breaker lock held; it must not call back.
	OnStateChange func(name string, from, to State)
	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:      5,
		Cooldown:       30 * time.Second,
		MaxCooldown:    10 * time.Minute,
		RequestTimeout: 15 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	if c.IsNeutral == nil {
		c.IsNeutral = func(error) bool { return false }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker implements the circuit breaker pattern for one operation.
type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	cooldown time.Duration
	trial    bool
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	cfg = cfg.normalized()
	return &Breaker{name: name, cfg: cfg, cooldown: cfg.Cooldown}
}

// Name returns the operation name.
func (b *Breaker) Name() string { return b.name }

// Call runs fn under the request timeout unless the circuit is open.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	callCtx := ctx
	if b.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}
	err := fn(callCtx)
	b.record(ctx, err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case Open:
		return &OpenError{Name: b.name, Until: b.openedAt.Add(b.cooldown)}
	case HalfOpen:
		if b.trial {
			return &OpenError{Name: b.name}
		}
		b.trial = true
	}
	return nil
}

func (b *Breaker) record(parent context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The caller gave up or the call never left the process; either way
	// nothing was learned about the dependency.
	if err != nil && (parent.Err() != nil || b.cfg.IsNeutral(err)) {
		b.trial = false
		return
	}
	if err != nil && b.cfg.IsFailure(err) {
		b.onFailure(err)
		return
	}
	b.onSuccess()
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.cooldown = b.cfg.Cooldown
		b.toState(Closed)
	}
}

func (b *Breaker) onFailure(err error) {
	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.Threshold {
			b.openedAt = b.cfg.Now()
			b.toState(Open)
			slog.Warn("circuit opened",
				slog.String("operation", b.name),
				slog.Int("failures", b.failures),
				slog.Duration("cooldown", b.cooldown),
				slog.Any("err", err),
				slog.String("component", "breaker"))
		}
	case HalfOpen:
		b.cooldown = min(b.cooldown*2, b.cfg.MaxCooldown)
		b.openedAt = b.cfg.Now()
		b.toState(Open)
		slog.Warn("circuit reopened after trial",
			slog.String("operation", b.name),
			slog.Duration("cooldown", b.cooldown),
			slog.Any("err", err),
			slog.String("component", "breaker"))
	}
}

// currentState moves Open to HalfOpen once the cooldown has elapsed.
func (b *Breaker) currentState() State {
	if b.state == Open && !b.cfg.Now().Before(b.openedAt.Add(b.cooldown)) {
		b.toState(HalfOpen)
	}
	return b.state
}

func (b *Breaker) toState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.trial = false
	if to == Closed {
		b.failures = 0
		slog.Info("circuit closed", slog.String("operation", b.name), slog.String("component", "breaker"))
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name      string        `json:"name"`
	State     string        `json:"state"`
	Failures  int           `json:"failures"`
	OpenUntil time.Time     `json:"open_until,omitzero"`
	Cooldown  time.Duration `json:"cooldown"`
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Failures returns the current failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Cooldown returns the cooldown that applies to the next open period.
func (b *Breaker) Cooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{Name: b.name, State: b.currentState().String(), Failures: b.failures, Cooldown: b.cooldown}
	if b.state == Open {
		s.OpenUntil = b.openedAt.Add(b.cooldown)
	}
	return s
}
