package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return New("test", Config{
		Threshold:   5,
		Cooldown:    30 * time.Second,
		MaxCooldown: 2 * time.Minute,
		Now:         clock.Now,
	})
}

func trip(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < 5; i++ {
		_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	calls := 0
	fail := func(context.Context) error { calls++; return errBoom }
	for i := 0; i < 5; i++ {
		if err := b.Call(context.Background(), fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	err := b.Call(context.Background(), fail)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("6th call err = %v, want ErrCircuitOpen", err)
	}
	if calls != 5 {
		t.Errorf("underlying calls = %d, want 5", calls)
	}
	var oe *OpenError
	if !errors.As(err, &oe) || !oe.Until.Equal(clock.Now().Add(30*time.Second)) || oe.Name != "test" {
		t.Errorf("OpenError = %+v", oe)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := newTestBreaker(&fakeClock{now: time.Unix(1000, 0)})
	for i := 0; i < 4; i++ {
		_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	}
	_ = b.Call(context.Background(), func(context.Context) error { return nil })
	if b.Failures() != 0 {
		t.Errorf("failures = %d, want 0", b.Failures())
	}
	for i := 0; i < 4; i++ {
		_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	trip(t, b)

	clock.Advance(30 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("after trial: state=%v failures=%d", b.State(), b.Failures())
	}
	if b.Cooldown() != 30*time.Second {
		t.Errorf("cooldown = %v, want base", b.Cooldown())
	}
}

func TestBreaker_HalfOpenFailureDoublesCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	trip(t, b)

	want := []time.Duration{time.Minute, 2 * time.Minute, 2 * time.Minute}
	prev := b.Cooldown()
	for i, w := range want {
		clock.Advance(prev)
		calls := 0
		_ = b.Call(context.Background(), func(context.Context) error { calls++; return errBoom })
		if calls != 1 {
			t.Fatalf("round %d: trial not admitted", i)
		}
		if b.State() != Open {
			t.Fatalf("round %d: state = %v, want open", i, b.State())
		}
		got := b.Cooldown()
		if got != w || got < prev {
			t.Errorf("round %d: cooldown = %v, want %v", i, got, w)
		}
		prev = got
	}

	// Recovery restores the base cooldown.
	clock.Advance(prev)
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if b.Cooldown() != 30*time.Second {
		t.Errorf("cooldown after close = %v", b.Cooldown())
	}
}

func TestBreaker_SingleTrialInHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)
	trip(t, b)
	clock.Advance(30 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	calls := 0
	err := b.Call(context.Background(), func(context.Context) error { calls++; return nil })
	if !errors.Is(err, ErrCircuitOpen) || calls != 0 {
		t.Errorf("concurrent call: err=%v calls=%d", err, calls)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %v", b.State())
	}
}

func TestBreaker_ClassifierIgnoresDefinitiveAnswers(t *testing.T) {
	notFound := errors.New("not found")
	b := New("test", Config{
		Threshold: 2,
		IsFailure: func(err error) bool { return !errors.Is(err, notFound) },
	})
	for i := 0; i < 10; i++ {
		_ = b.Call(context.Background(), func(context.Context) error { return notFound })
	}
	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("state=%v failures=%d", b.State(), b.Failures())
	}
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b := New("test", Config{Threshold: 1, RequestTimeout: 10 * time.Millisecond})
	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != Open {
		t.Errorf("state = %v, want open", b.State())
	}
}

func TestBreaker_CallerCancelIsNeutral(t *testing.T) {
	b := New("test", Config{Threshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("state=%v failures=%d", b.State(), b.Failures())
	}
}

func TestBreaker_LocalRefusalIsNeutral(t *testing.T) {
	errNoQuota := errors.New("no quota left")
	isLocal := func(err error) bool { return errors.Is(err, errNoQuota) }
	refused := func(context.Context) error { return errNoQuota }

	t.Run("closed keeps its failure count", func(t *testing.T) {
		b := New("test", Config{Threshold: 5, IsNeutral: isLocal})
		for i := 0; i < 4; i++ {
			_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
		}
		if err := b.Call(context.Background(), refused); !errors.Is(err, errNoQuota) {
			t.Fatalf("err = %v", err)
		}
		if b.State() != Closed || b.Failures() != 4 {
			t.Errorf("state=%v failures=%d, want closed/4", b.State(), b.Failures())
		}
		_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
		if b.State() != Open {
			t.Errorf("5th real failure should open, state=%v", b.State())
		}
	})

	t.Run("half-open stays half-open and frees the trial", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1000, 0)}
		b := New("test", Config{Threshold: 5, Cooldown: 30 * time.Second, IsNeutral: isLocal, Now: clock.Now})
		trip(t, b)
		clock.Advance(30 * time.Second)

		if err := b.Call(context.Background(), refused); !errors.Is(err, errNoQuota) {
			t.Fatalf("trial err = %v", err)
		}
		if b.State() != HalfOpen || b.Failures() != 5 {
			t.Errorf("state=%v failures=%d, want half-open/5", b.State(), b.Failures())
		}
		calls := 0
		if err := b.Call(context.Background(), func(context.Context) error { calls++; return nil }); err != nil {
			t.Fatalf("next trial refused: %v", err)
		}
		if calls != 1 || b.State() != Closed {
			t.Errorf("calls=%d state=%v, want a fresh trial that closes", calls, b.State())
		}
	})
}

func TestRegistry(t *testing.T) {
	var transitions []string
	r := NewRegistry(Config{
		Threshold: 1,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	if r.Get(Poll) != r.Get(Poll) {
		t.Fatal("Get must return the shared breaker")
	}
	r.Get(Discovery)
	_ = r.Get(Poll).Call(context.Background(), func(context.Context) error { return errBoom })

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Name != Discovery || snap[1].Name != Poll {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[1].State != "open" || snap[1].OpenUntil.IsZero() {
		t.Errorf("poll snapshot = %+v", snap[1])
	}
	if !r.AnyOpen() {
		t.Error("AnyOpen = false")
	}
	if len(transitions) != 1 || transitions[0] != "poll:closed->open" {
		t.Errorf("transitions = %v", transitions)
	}
}
