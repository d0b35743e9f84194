// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CredentialRotations prometheus.Counter
	SearchAttempts      *prometheus.CounterVec // result=found|not_found|error
	ChatMessages        prometheus.Counter
	ChatSends           *prometheus.CounterVec // result=sent|forbidden|unauthorized|no_credentials|error

	// Histograms (seconds)
	PollDuration    prometheus.Observer
	ResolveDuration prometheus.Observer

	// Gauges
	QuotaUsed           *prometheus.GaugeVec // credential
	QuotaRemaining      *prometheus.GaugeVec // credential
	CredentialExhausted *prometheus.GaugeVec // credential; 1=exhausted
	BreakerState        *prometheus.GaugeVec // operation; 0=closed 0.5=half-open 1=open
	ThrottlePressure    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CredentialRotations = promauto.NewCounter(prometheus.CounterOpts{Name: "livewatch_credential_rotations_total", Help: "Number of credential rotations"})
		SearchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livewatch_search_attempts_total", Help: "Stream resolve attempts by result"}, []string{"result"})
		ChatMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "livewatch_chat_messages_total", Help: "Live chat messages fetched"})
		ChatSends = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livewatch_chat_sends_total", Help: "Outbound chat sends by result"}, []string{"result"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livewatch_poll_duration_seconds", Help: "Chat poll call duration seconds", Buckets: prometheus.DefBuckets})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livewatch_resolve_duration_seconds", Help: "Stream resolve duration seconds", Buckets: prometheus.DefBuckets})
		QuotaUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "livewatch_quota_used_units", Help: "Quota units spent today per credential"}, []string{"credential"})
		QuotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "livewatch_quota_remaining_units", Help: "Quota units left today per credential"}, []string{"credential"})
		CredentialExhausted = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "livewatch_credential_exhausted", Help: "Credential exhausted=1 usable=0"}, []string{"credential"})
		BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "livewatch_circuit_state", Help: "Circuit breaker closed=0 half-open=0.5 open=1"}, []string{"operation"})
		ThrottlePressure = promauto.NewGauge(prometheus.GaugeOpts{Name: "livewatch_throttle_pressure", Help: "Admission-control pressure 0..1"})
	})
}

// SetQuota records the ledger state of one credential.
func SetQuota(credential string, used, limit int, exhausted bool) {
	if QuotaUsed == nil {
		return
	}
	QuotaUsed.WithLabelValues(credential).Set(float64(used))
	QuotaRemaining.WithLabelValues(credential).Set(float64(max(limit-used, 0)))
	v := 0.0
	if exhausted {
		v = 1
	}
	CredentialExhausted.WithLabelValues(credential).Set(v)
}

// IncRotation counts one credential rotation.
func IncRotation() {
	if CredentialRotations != nil {
		CredentialRotations.Inc()
	}
}

// SetBreakerState records a breaker state as 0 (closed), 0.5 (half-open) or 1 (open).
func SetBreakerState(operation string, v float64) {
	if BreakerState != nil {
		BreakerState.WithLabelValues(operation).Set(v)
	}
}

// IncSearch counts a resolve attempt by result.
func IncSearch(result string) {
	if SearchAttempts != nil {
		SearchAttempts.WithLabelValues(result).Inc()
	}
}

// AddChatMessages counts fetched chat messages.
func AddChatMessages(n int) {
	if ChatMessages != nil && n > 0 {
		ChatMessages.Add(float64(n))
	}
}

// IncSend counts an outbound send by result.
func IncSend(result string) {
	if ChatSends != nil {
		ChatSends.WithLabelValues(result).Inc()
	}
}

// SetPressure records the current throttle pressure.
func SetPressure(p float64) {
	if ThrottlePressure != nil {
		ThrottlePressure.Set(p)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
