// Package batcher coalesces outbound notifications inside a time window
// and delivers them as a single edited-in-place "compacting" message to
// keep chat noise down during bursts.
package batcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/co8/afkbridge/internal/outbound"
	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/pkg/logx"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority normalizes an external priority string; unknown values map
// to normal.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Separator joins coalesced notification texts.
const Separator = "\n\n---\n\n"

type Config struct {
	Window time.Duration
	// MaxPending bounds the pending queue. When full, the oldest entry is
	// dropped and a warning logged.
	MaxPending int
}

type pendingMessage struct {
	text       string
	priority   Priority
	enqueuedAt time.Time
}

type Batcher struct {
	cfg    Config
	sender *outbound.Sender
	target transport.ChatTarget
	log    logx.Logger

	mu      sync.Mutex
	pending []pendingMessage
	timer   *time.Timer
}

func New(cfg Config, sender *outbound.Sender, target transport.ChatTarget, log logx.Logger) *Batcher {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Batcher{cfg: cfg, sender: sender, target: target, log: log}
}

// Add enqueues a notification. High priority flushes synchronously before
// returning and reports the ref of the delivered chat message; for queued
// priorities the ref is zero and delivery happens when the window elapses.
func (b *Batcher) Add(ctx context.Context, text string, priority Priority) (transport.MessageRef, error) {
	b.mu.Lock()
	if len(b.pending) >= b.cfg.MaxPending {
		b.log.Warn("pending queue full; dropping oldest", logx.Int("max", b.cfg.MaxPending))
		b.pending = b.pending[1:]
	}
	b.pending = append(b.pending, pendingMessage{text: text, priority: priority, enqueuedAt: time.Now()})

	if priority == PriorityHigh {
		b.mu.Unlock()
		ref, fallback, err := b.Flush(ctx)
		if fallback != "" {
			sref, serr := b.sender.Send(ctx, b.target, fallback, nil)
			if serr != nil {
				return transport.MessageRef{}, serr
			}
			return sref, nil
		}
		return ref, err
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.cfg.Window, b.onWindow)
	}
	b.mu.Unlock()
	return transport.MessageRef{}, nil
}

// Pending reports the current queue depth.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush cancels the window timer and delivers everything pending as one
// message: a transient "compacting N messages" placeholder is sent first
// and then edited in place to the joined content.
//
// On success the returned ref identifies the edited chat message and
// fallback is empty. If the placeholder send or the edit failed, the joined
// text is returned so the caller can deliver it directly; the placeholder
// id is discarded either way.
func (b *Batcher) Flush(ctx context.Context) (ref transport.MessageRef, fallback string, err error) {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return transport.MessageRef{}, "", nil
	}
	msgs := b.pending
	b.pending = nil
	b.mu.Unlock()

	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.text
	}
	joined := strings.Join(texts, Separator)

	ref, err = b.sender.Send(ctx, b.target, fmt.Sprintf("📦 compacting %d messages…", len(msgs)), nil)
	if err != nil {
		b.log.Warn("compacting placeholder failed", logx.Err(err))
		return transport.MessageRef{}, joined, err
	}
	if err := b.sender.Edit(ctx, ref, joined, nil); err != nil {
		b.log.Warn("compacting edit failed", logx.Err(err), logx.Int("message_id", ref.MessageID))
		return transport.MessageRef{}, joined, err
	}
	return ref, "", nil
}

// onWindow runs when the batch window elapses. Fallback delivery here is
// best-effort since there is no caller to hand the text back to.
func (b *Batcher) onWindow() {
	b.mu.Lock()
	b.timer = nil
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, fallback, err := b.Flush(ctx)
	if fallback != "" {
		if _, serr := b.sender.Send(ctx, b.target, fallback, nil); serr != nil {
			b.log.Error("batch fallback send failed", logx.Err(serr))
		}
		return
	}
	if err != nil {
		b.log.Error("batch flush failed", logx.Err(err))
	}
}
