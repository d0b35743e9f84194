package chat

import (
	"time"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/stream"
)

// CredentialStatus is one credential's quota position.
type CredentialStatus struct {
	ID             string    `json:"id"`
	Used           int       `json:"used"`
	Limit          int       `json:"limit"`
	Headroom       float64   `json:"headroom"`
	Exhausted      bool      `json:"exhausted"`
	ExhaustedUntil time.Time `json:"exhausted_until,omitzero"`
}

// Status is the document served at /status.
type Status struct {
	Channel                   string             `json:"channel"`
	ActiveCredential          string             `json:"active_credential"`
	Credentials               []CredentialStatus `json:"credentials"`
	Breakers                  []breaker.Snapshot `json:"breakers"`
	Stream                    *stream.Stream     `json:"stream"`
	Polling                   bool               `json:"polling"`
	ThrottlePressure          float64            `json:"throttle_pressure"`
	ConsecutiveSearchFailures int                `json:"consecutive_search_failures"`
	OutboxPending             int                `json:"outbox_pending"`
	AuthError                 string             `json:"auth_error,omitempty"`
	AuthErrorAt               time.Time          `json:"auth_error_at,omitzero"`
	LastCycle                 time.Time          `json:"last_cycle,omitzero"`
}

// AllExhausted reports whether no credential can be charged.
func (s Status) AllExhausted() bool {
	if len(s.Credentials) == 0 {
		return false
	}
	for _, c := range s.Credentials {
		if !c.Exhausted {
			return false
		}
	}
	return true
}

// AnyBreakerOpen reports whether some operation is failing fast.
func (s Status) AnyBreakerOpen() bool {
	for _, b := range s.Breakers {
		if b.State == breaker.Open.String() {
			return true
		}
	}
	return false
}

// Status assembles a snapshot. It is safe to call from other goroutines.
func (m *Monitor) Status() Status {
	s := Status{
		Channel:       m.cfg.ChannelID,
		Polling:       m.cfg.Poller.HasChat(),
		OutboxPending: m.cfg.Outbox.Len(),
		Credentials:   []CredentialStatus{},
		Breakers:      []breaker.Snapshot{},
	}
	if m.cfg.Quota != nil {
		q := m.cfg.Quota.Snapshot()
		s.ActiveCredential = q.Active
		for _, c := range q.Credentials {
			s.Credentials = append(s.Credentials, CredentialStatus{
				ID:             c.ID,
				Used:           c.Used,
				Limit:          c.Limit,
				Headroom:       c.Headroom(),
				Exhausted:      c.Exhausted,
				ExhaustedUntil: c.ExhaustedUntil,
			})
		}
	}
	if m.cfg.Breakers != nil {
		s.Breakers = m.cfg.Breakers.Snapshot()
	}
	if st, ok := m.cfg.Resolver.Last(); ok {
		s.Stream = &st
	}
	if m.cfg.Pressure != nil {
		s.ThrottlePressure = m.cfg.Pressure()
	}
	if m.cfg.Cadence != nil {
		s.ConsecutiveSearchFailures = m.cfg.Cadence.ConsecutiveFailures()
	}
	m.mu.Lock()
	s.AuthError = m.authErr
	s.AuthErrorAt = m.authErrAt
	s.LastCycle = m.lastCycle
	m.mu.Unlock()
	return s
}
