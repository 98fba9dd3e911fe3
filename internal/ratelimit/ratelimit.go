// Package ratelimit bounds outbound chat calls with two independent
// sliding windows: a sustained per-minute cap and a short per-second burst
// cap. It only ever delays callers, never rejects them.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	sustainedWindow = time.Minute
	burstWindow     = time.Second
)

type Limiter struct {
	mu        sync.Mutex
	perMinute int
	burst     int

	sustained []time.Time
	bursts    []time.Time

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		perMinute: perMinute,
		burst:     burst,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Throttle suspends the caller until one more call fits both windows, then
// records the call instant in both. It returns an error only when ctx is
// cancelled while waiting.
func (l *Limiter) Throttle(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.bursts = prune(l.bursts, now.Add(-burstWindow))
		l.sustained = prune(l.sustained, now.Add(-sustainedWindow))

		// Burst first so short spikes are smoothed before the sustained
		// window is consulted.
		var wait time.Duration
		switch {
		case len(l.bursts) >= l.burst:
			wait = l.bursts[0].Add(burstWindow).Sub(now)
		case len(l.sustained) >= l.perMinute:
			wait = l.sustained[0].Add(sustainedWindow).Sub(now)
		default:
			l.bursts = append(l.bursts, now)
			l.sustained = append(l.sustained, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func prune(win []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(win) && !win[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return win
	}
	return append(win[:0], win[i:]...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
