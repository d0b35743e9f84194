package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/livewatch/telemetry"
	"github.com/onnwee/livewatch/youtubeapi"
)

var (
	// ErrQuotaExceeded means the charged credential cannot afford the call.
	ErrQuotaExceeded = errors.New("quota: credential quota exceeded")
	// ErrNoCredentialsAvailable means every credential set is exhausted.
	ErrNoCredentialsAvailable = errors.New("quota: no credentials available")
)

// NoCredentialsError carries the earliest time a credential becomes usable again.
type NoCredentialsError struct {
	Until time.Time
}

func (e *NoCredentialsError) Error() string {
	if e.Until.IsZero() {
		return ErrNoCredentialsAvailable.Error()
	}
	return fmt.Sprintf("%s until %s", ErrNoCredentialsAvailable, e.Until.Format(time.RFC3339))
}

func (e *NoCredentialsError) Is(target error) bool { return target == ErrNoCredentialsAvailable }

// IsLocal reports whether err was produced by the ledger before any request
// was sent upstream.
func IsLocal(err error) bool {
	return errors.Is(err, ErrNoCredentialsAvailable) || errors.Is(err, ErrQuotaExceeded)
}

// Handle is an acquired credential and its API client.
type Handle struct {
	ID     string
	Client youtubeapi.Client
}

// Status is a point-in-time copy of the ledger.
type Status struct {
	Active      string          `json:"active_credential"`
	Credentials []CredentialSet `json:"credentials"`
}

// Rotator selects credentials and charges calls against the Ledger.
type Rotator struct {
	// Now is the clock; tests replace it.
	Now func() time.Time

	mu      sync.Mutex
	ledger  *Ledger
	clients map[string]youtubeapi.Client
}

// NewRotator returns a Rotator over ledger. Every configured set must have a client.
func NewRotator(ledger *Ledger, clients map[string]youtubeapi.Client) (*Rotator, error) {
	for _, c := range ledger.sets {
		if clients[c.ID] == nil {
			return nil, fmt.Errorf("quota: no client for credential %q", c.ID)
		}
	}
	return &Rotator{Now: time.Now, ledger: ledger, clients: clients}, nil
}

// Acquire returns the active credential, rotating past exhausted sets.
func (r *Rotator) Acquire() (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.ledger.Rollover(r.Now())
	cur := r.ledger.Active()
	if cur.Exhausted {
		if !r.ledger.Advance() {
			r.persist(changed)
			return Handle{}, &NoCredentialsError{Until: r.ledger.EarliestReset()}
		}
		r.logRotation(cur.ID, "exhausted")
		changed = true
	}
	r.persist(changed)
	active := r.ledger.Active()
	return Handle{ID: active.ID, Client: r.clients[active.ID]}, nil
}

// Charge records cost against credential id. If the call would exceed the
// limit the set is exhausted instead, rotation advances and ErrQuotaExceeded
// is returned. Used never grows on an exhausted set.
func (r *Rotator) Charge(id string, cost int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.Now()
	r.ledger.Rollover(now)
	c, ok := r.ledger.Lookup(id)
	if !ok {
		return fmt.Errorf("quota: unknown credential %q", id)
	}
	if c.Exhausted {
		r.persist(true)
		return fmt.Errorf("credential %s: %w", id, ErrQuotaExceeded)
	}
	if c.Used+cost > c.Limit {
		r.ledger.Exhaust(c, now)
		slog.Warn("credential quota exhausted",
			slog.String("credential", id),
			slog.Int("used", c.Used),
			slog.Int("cost", cost),
			slog.Int("limit", c.Limit),
			slog.Time("until", c.ExhaustedUntil),
			slog.String("component", "quota"))
		r.rotateFrom(c)
		r.persist(true)
		return fmt.Errorf("credential %s: %w", id, ErrQuotaExceeded)
	}
	c.Used += cost
	r.persist(true)
	return nil
}

// MarkExhausted handles an upstream quota rejection for id.
func (r *Rotator) MarkExhausted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.ledger.Lookup(id)
	if !ok || c.Exhausted {
		return
	}
	r.ledger.Exhaust(c, r.Now())
	slog.Warn("upstream reported quota exceeded", slog.String("credential", id), slog.Int("used", c.Used), slog.String("component", "quota"))
	r.rotateFrom(c)
	r.persist(true)
}

// rotateFrom advances away from c when it is the active set.
func (r *Rotator) rotateFrom(c *CredentialSet) {
	if r.ledger.Active() != c {
		return
	}
	if r.ledger.Advance() {
		r.logRotation(c.ID, "exhausted")
	}
}

func (r *Rotator) logRotation(from, reason string) {
	telemetry.IncRotation()
	slog.Info("credential rotated",
		slog.String("from", from),
		slog.String("to", r.ledger.Active().ID),
		slog.String("reason", reason),
		slog.String("component", "quota"))
}

func (r *Rotator) persist(changed bool) {
	if !changed {
		return
	}
	if err := r.ledger.Save(); err != nil {
		slog.Error("persist quota ledger", slog.Any("err", err), slog.String("component", "quota"))
	}
}

// Do runs fn with an acquired, charged credential. When the credential is
// spent locally or upstream answers quotaExceeded, the next set is tried; each
// set is tried at most once.
func (r *Rotator) Do(ctx context.Context, cost int, fn func(Handle) error) error {
	tried := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := r.Acquire()
		if err != nil {
			return err
		}
		if tried[h.ID] {
			return &NoCredentialsError{Until: r.EarliestReset()}
		}
		tried[h.ID] = true

		if err := r.Charge(h.ID, cost); err != nil {
			if errors.Is(err, ErrQuotaExceeded) {
				continue
			}
			return err
		}
		err = fn(h)
		if errors.Is(err, youtubeapi.ErrQuotaExceeded) {
			r.MarkExhausted(h.ID)
			continue
		}
		return err
	}
}

// EarliestReset returns when the first exhausted set becomes usable, or zero.
func (r *Rotator) EarliestReset() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.EarliestReset()
}

// Snapshot returns a copy of all sets and the active id.
func (r *Rotator) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persist(r.ledger.Rollover(r.Now()))
	return Status{Active: r.ledger.Active().ID, Credentials: r.ledger.Sets()}
}

// Headroom returns the active credential's remaining fraction of its limit.
func (r *Rotator) Headroom() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persist(r.ledger.Rollover(r.Now()))
	return r.ledger.Active().Headroom()
}

// AllExhausted reports whether no set can currently be charged.
func (r *Rotator) AllExhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persist(r.ledger.Rollover(r.Now()))
	for _, c := range r.ledger.sets {
		if !c.Exhausted {
			return false
		}
	}
	return true
}
