package approval

import "time"

// backoff yields a growing check interval: start, start+step, ... capped at
// max. It only paces the local deadline re-evaluation loop; events are
// push-delivered and do not wait on it.
type backoff struct {
	cur  time.Duration
	step time.Duration
	max  time.Duration
}

func newBackoff(start, step, max time.Duration) *backoff {
	if start <= 0 {
		start = 100 * time.Millisecond
	}
	if max < start {
		max = start
	}
	return &backoff{cur: start, step: step, max: max}
}

// Next returns the current interval and advances to the next one.
func (b *backoff) Next() time.Duration {
	d := b.cur
	next := b.cur + b.step
	if next > b.max {
		next = b.max
	}
	b.cur = next
	return d
}
