package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // idempotent

	if PollDuration == nil || ResolveDuration == nil {
		t.Error("histograms not initialized")
	}
	if QuotaUsed == nil || BreakerState == nil || ThrottlePressure == nil {
		t.Error("gauges not initialized")
	}
}

func TestSetQuota(t *testing.T) {
	Init()

	SetQuota("test-a", 9950, 10000, false)
	if got := testutil.ToFloat64(QuotaUsed.WithLabelValues("test-a")); got != 9950 {
		t.Errorf("quota used = %v, want 9950", got)
	}
	if got := testutil.ToFloat64(QuotaRemaining.WithLabelValues("test-a")); got != 50 {
		t.Errorf("quota remaining = %v, want 50", got)
	}

	SetQuota("test-a", 10050, 10000, true)
	if got := testutil.ToFloat64(QuotaRemaining.WithLabelValues("test-a")); got != 0 {
		t.Errorf("quota remaining = %v, want clamped to 0", got)
	}
	if got := testutil.ToFloat64(CredentialExhausted.WithLabelValues("test-a")); got != 1 {
		t.Errorf("exhausted = %v, want 1", got)
	}
}

func TestCountersAdvance(t *testing.T) {
	Init()

	before := testutil.ToFloat64(CredentialRotations)
	IncRotation()
	if got := testutil.ToFloat64(CredentialRotations); got != before+1 {
		t.Errorf("rotations = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(ChatMessages)
	AddChatMessages(3)
	AddChatMessages(0)
	if got := testutil.ToFloat64(ChatMessages); got != before+3 {
		t.Errorf("chat messages = %v, want %v", got, before+3)
	}

	IncSearch("found")
	IncSend("sent")
	SetBreakerState("poll", 1)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("poll")); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}
	SetPressure(0.25)
	if got := testutil.ToFloat64(ThrottlePressure); got != 0.25 {
		t.Errorf("pressure = %v, want 0.25", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_duration_seconds", Help: "Test duration"})
	executed := false
	d := TimeFunc(h, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if d < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", d)
	}
	if n := testutil.CollectAndCount(h); n != 1 {
		t.Errorf("collected %d metrics, want 1", n)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation id")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Errorf("GetCorrelation = %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		insecure string
		ratio    string
		want     TracingConfig
	}{
		{"defaults", "", "", TracingConfig{Endpoint: "otel:4317", Insecure: true, SampleRatio: 1}},
		{"tls and ratio", "false", "0.25", TracingConfig{Endpoint: "otel:4317", Insecure: false, SampleRatio: 0.25}},
		{"out of range ratio", "", "3", TracingConfig{Endpoint: "otel:4317", Insecure: true, SampleRatio: 1}},
		{"garbage", "maybe", "half", TracingConfig{Endpoint: "otel:4317", Insecure: true, SampleRatio: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
			t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", tt.insecure)
			t.Setenv("OTEL_TRACES_SAMPLER_ARG", tt.ratio)
			if got := TracingConfigFromEnv(); got != tt.want {
				t.Errorf("TracingConfigFromEnv() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing("livewatch", TracingConfig{})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
	_, span := StartSpan(context.Background(), "noop")
	if span.IsRecording() {
		t.Error("span records with tracing disabled")
	}
	EndSpan(span, nil)
}
