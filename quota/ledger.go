// Package quota tracks YouTube Data API quota per credential set and rotates
// between sets when one runs dry.
//
// The Ledger is the durable record; the Rotator is its only writer. Both files
// (quota_ledger.json and exhausted_credentials.json) are rewritten atomically
// after every mutation so a restart never forgets units already spent upstream.
package quota

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/onnwee/livewatch/statefile"
	"github.com/onnwee/livewatch/telemetry"
)

const (
	LedgerFile    = "quota_ledger.json"
	ExhaustedFile = "exhausted_credentials.json"
)

// CredentialSet is the quota record of one credential for the current quota day.
type CredentialSet struct {
	ID             string    `json:"id"`
	Used           int       `json:"used"`
	Limit          int       `json:"limit"`
	Exhausted      bool      `json:"exhausted"`
	ExhaustedUntil time.Time `json:"exhausted_until,omitzero"`
	LastReset      time.Time `json:"last_reset"`
}

// Remaining returns the units left today.
func (c CredentialSet) Remaining() int {
	if c.Exhausted {
		return 0
	}
	return max(c.Limit-c.Used, 0)
}

// Headroom returns Remaining as a fraction of Limit.
func (c CredentialSet) Headroom() float64 {
	if c.Limit <= 0 {
		return 0
	}
	return float64(c.Remaining()) / float64(c.Limit)
}

type ledgerDoc struct {
	Active      string          `json:"active"`
	Credentials []CredentialSet `json:"credentials"`
}

type exhaustedDoc struct {
	Credentials  []string  `json:"credentials"`
	NextEligible time.Time `json:"next_eligible,omitzero"`
}

// Ledger holds the credential sets in rotation order. It is not safe for
// concurrent use; the Rotator serializes access.
type Ledger struct {
	dir    string
	loc    *time.Location
	sets   []*CredentialSet
	active int
	// retired keeps records of sets no longer configured so their spend is not lost
	retired []CredentialSet
}

// OpenLedger loads dir/quota_ledger.json. A missing or malformed file is
// treated as empty. Configured ids absent from the file start at zero usage;
// ids in the file but no longer configured are kept on disk untouched.
func OpenLedger(dir string, ids []string, limit int, loc *time.Location, now time.Time) (*Ledger, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("quota: no credential sets configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("quota: limit must be positive, got %d", limit)
	}
	if loc == nil {
		loc = time.UTC
	}
	l := &Ledger{dir: dir, loc: loc}

	var doc ledgerDoc
	if !statefile.ReadJSON(l.path(LedgerFile), &doc) {
		// json.Unmarshal may have filled some fields before failing.
		doc = ledgerDoc{}
	}
	known := make(map[string]CredentialSet, len(doc.Credentials))
	for _, c := range doc.Credentials {
		if c.ID != "" {
			known[c.ID] = c
		}
	}

	configured := make(map[string]bool, len(ids))
	for _, id := range ids {
		if configured[id] {
			return nil, fmt.Errorf("quota: duplicate credential set %q", id)
		}
		configured[id] = true
		c, ok := known[id]
		if !ok {
			c = CredentialSet{ID: id, LastReset: now}
		}
		c.Limit = limit
		if c.Used > c.Limit && !c.Exhausted {
			c.Used = c.Limit
		}
		l.sets = append(l.sets, &c)
		if id == doc.Active {
			l.active = len(l.sets) - 1
		}
	}
	for _, c := range doc.Credentials {
		if c.ID != "" && !configured[c.ID] {
			l.retired = append(l.retired, c)
		}
	}

	l.Rollover(now)
	if err := l.Save(); err != nil {
		return nil, err
	}
	slog.Info("quota ledger loaded", slog.Int("credentials", len(l.sets)), slog.String("active", l.Active().ID), slog.String("component", "quota"))
	return l, nil
}

func (l *Ledger) path(name string) string { return filepath.Join(l.dir, name) }

// Active returns the set currently in use.
func (l *Ledger) Active() *CredentialSet { return l.sets[l.active] }

// Lookup returns the configured set with the given id.
func (l *Ledger) Lookup(id string) (*CredentialSet, bool) {
	for _, c := range l.sets {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// LastBoundary returns the most recent daily reset at or before now.
func (l *Ledger) LastBoundary(now time.Time) time.Time {
	t := now.In(l.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, l.loc)
}

// NextBoundary returns the first daily reset after now.
func (l *Ledger) NextBoundary(now time.Time) time.Time {
	t := now.In(l.loc)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, l.loc)
}

// Rollover resets every set whose last reset precedes the current quota day.
// It reports whether anything changed.
func (l *Ledger) Rollover(now time.Time) bool {
	boundary := l.LastBoundary(now)
	changed := false
	for _, c := range l.sets {
		if c.LastReset.Before(boundary) {
			if c.Used > 0 || c.Exhausted {
				slog.Info("quota day rolled over", slog.String("credential", c.ID), slog.Int("used", c.Used), slog.String("component", "quota"))
			}
			c.Used = 0
			c.Exhausted = false
			c.ExhaustedUntil = time.Time{}
			c.LastReset = now
			changed = true
		}
	}
	return changed
}

// Exhaust marks c spent until the next daily boundary.
func (l *Ledger) Exhaust(c *CredentialSet, now time.Time) {
	c.Exhausted = true
	c.ExhaustedUntil = l.NextBoundary(now)
}

// Advance moves the active pointer round-robin to the next non-exhausted set,
// starting after the current one. It returns false when every set is exhausted.
func (l *Ledger) Advance() bool {
	n := len(l.sets)
	for i := 1; i <= n; i++ {
		idx := (l.active + i) % n
		if !l.sets[idx].Exhausted {
			l.active = idx
			return true
		}
	}
	return false
}

// EarliestReset returns the soonest ExhaustedUntil across exhausted sets.
func (l *Ledger) EarliestReset() time.Time {
	var earliest time.Time
	for _, c := range l.sets {
		if c.Exhausted && (earliest.IsZero() || c.ExhaustedUntil.Before(earliest)) {
			earliest = c.ExhaustedUntil
		}
	}
	return earliest
}

// Sets returns copies of the configured sets in rotation order.
func (l *Ledger) Sets() []CredentialSet {
	out := make([]CredentialSet, len(l.sets))
	for i, c := range l.sets {
		out[i] = *c
	}
	return out
}

// Save rewrites both ledger files and refreshes the quota gauges.
func (l *Ledger) Save() error {
	doc := ledgerDoc{Active: l.Active().ID, Credentials: append(l.Sets(), l.retired...)}
	if err := statefile.WriteJSON(l.path(LedgerFile), doc); err != nil {
		return fmt.Errorf("save quota ledger: %w", err)
	}
	ex := exhaustedDoc{Credentials: []string{}, NextEligible: l.EarliestReset()}
	for _, c := range l.sets {
		if c.Exhausted {
			ex.Credentials = append(ex.Credentials, c.ID)
		}
		telemetry.SetQuota(c.ID, c.Used, c.Limit, c.Exhausted)
	}
	if err := statefile.WriteJSON(l.path(ExhaustedFile), ex); err != nil {
		return fmt.Errorf("save exhausted credentials: %w", err)
	}
	return nil
}
