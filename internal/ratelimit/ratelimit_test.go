package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fakeClock drives the limiter deterministically: sleeping advances time.
type fakeClock struct {
	cur    time.Time
	slept  []time.Duration
	cancel bool
}

func installFakeClock(l *Limiter) *fakeClock {
	fc := &fakeClock{cur: time.Unix(1000, 0)}
	l.now = func() time.Time { return fc.cur }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		if fc.cancel {
			return context.Canceled
		}
		fc.slept = append(fc.slept, d)
		fc.cur = fc.cur.Add(d)
		return nil
	}
	return fc
}

func totalSlept(fc *fakeClock) time.Duration {
	var t time.Duration
	for _, d := range fc.slept {
		t += d
	}
	return t
}

func TestThrottleWithinCapsDoesNotWait(t *testing.T) {
	t.Parallel()
	l := New(10, 3)
	fc := installFakeClock(l)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Throttle(ctx); err != nil {
			t.Fatalf("Throttle error: %v", err)
		}
	}
	if len(fc.slept) != 0 {
		t.Fatalf("expected no waits, slept %v", fc.slept)
	}
}

func TestThrottleBurstCap(t *testing.T) {
	t.Parallel()
	l := New(100, 2)
	fc := installFakeClock(l)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Throttle(ctx); err != nil {
			t.Fatalf("Throttle error: %v", err)
		}
	}
	// Third call must have waited for the burst window to slide.
	if got := totalSlept(fc); got < time.Second {
		t.Fatalf("total wait = %v, want >= 1s", got)
	}
}

func TestThrottleSustainedCap(t *testing.T) {
	t.Parallel()
	l := New(2, 10)
	fc := installFakeClock(l)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Throttle(ctx); err != nil {
			t.Fatalf("Throttle error: %v", err)
		}
	}
	if got := totalSlept(fc); got < time.Minute {
		t.Fatalf("total wait = %v, want >= 1m", got)
	}
}

func TestThrottleBurstCheckedBeforeSustained(t *testing.T) {
	t.Parallel()
	l := New(2, 1)
	fc := installFakeClock(l)
	ctx := context.Background()

	if err := l.Throttle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Throttle(ctx); err != nil {
		t.Fatal(err)
	}
	// First wait must be the 1s burst slide, not the 60s sustained one.
	if len(fc.slept) == 0 {
		t.Fatal("expected a wait")
	}
	if fc.slept[0] > time.Second {
		t.Fatalf("first wait = %v, want <= 1s (burst smoothed first)", fc.slept[0])
	}
}

func TestThrottleWindowsSlide(t *testing.T) {
	t.Parallel()
	l := New(2, 2)
	fc := installFakeClock(l)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Throttle(ctx); err != nil {
			t.Fatal(err)
		}
	}
	// After a full minute both windows are empty again.
	fc.cur = fc.cur.Add(time.Minute + time.Millisecond)
	if err := l.Throttle(ctx); err != nil {
		t.Fatal(err)
	}
	if len(fc.slept) != 0 {
		t.Fatalf("expected no wait after windows slid, slept %v", fc.slept)
	}
}

func TestThrottleHonorsCancellation(t *testing.T) {
	t.Parallel()
	l := New(100, 1)
	fc := installFakeClock(l)
	fc.cancel = true
	ctx := context.Background()

	if err := l.Throttle(ctx); err != nil {
		t.Fatalf("first call should not wait: %v", err)
	}
	if err := l.Throttle(ctx); err == nil {
		t.Fatal("expected cancellation error while waiting")
	}
}
