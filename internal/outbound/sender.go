// Package outbound routes every transport-facing call through the shared
// rate limiter and applies the caller-side retry policy for fallible
// operations (send/edit). Markup edits and reactions are best-effort.
package outbound

import (
	"context"
	"time"

	"github.com/co8/afkbridge/internal/ratelimit"
	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/pkg/logx"
)

const maxAttempts = 3

type Sender struct {
	limiter   *ratelimit.Limiter
	adapter   transport.Adapter
	log       logx.Logger
	retryBase time.Duration // 1s -> 1s, 2s, 4s

	sleep func(ctx context.Context, d time.Duration) error // test seam
}

func NewSender(limiter *ratelimit.Limiter, adapter transport.Adapter, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{limiter: limiter, adapter: adapter, log: log, retryBase: time.Second, sleep: sleepCtx}
}

// WithRetryBase overrides the first retry delay (doubled per attempt).
func (s *Sender) WithRetryBase(d time.Duration) *Sender {
	if d > 0 {
		s.retryBase = d
	}
	return s
}

// Send delivers text with up to 3 attempts, backing off 1s/2s/4s between
// them. Every attempt is throttled individually.
func (s *Sender) Send(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	var (
		ref     transport.MessageRef
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Throttle(ctx); err != nil {
			return transport.MessageRef{}, err
		}
		var err error
		ref, err = s.adapter.SendText(ctx, to, text, opt)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt))
		if attempt == maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.retryBase<<(attempt-1)); err != nil {
			return transport.MessageRef{}, err
		}
	}
	return transport.MessageRef{}, lastErr
}

// Edit rewrites a sent message in place, with the same retry policy as Send.
func (s *Sender) Edit(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Throttle(ctx); err != nil {
			return err
		}
		err := s.adapter.EditText(ctx, ref, text, opt)
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug("edit failed", logx.Err(err), logx.Int("attempt", attempt))
		if attempt == maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.retryBase<<(attempt-1)); err != nil {
			return err
		}
	}
	return lastErr
}

// EditMarkup is best-effort: failures are logged and swallowed.
func (s *Sender) EditMarkup(ctx context.Context, ref transport.MessageRef, markup any) {
	if err := s.limiter.Throttle(ctx); err != nil {
		return
	}
	if err := s.adapter.EditMarkup(ctx, ref, markup); err != nil {
		s.log.Warn("markup edit failed", logx.Err(err), logx.Int("message_id", ref.MessageID))
	}
}

// Ack answers a callback query. Best-effort and unthrottled: callback
// answers expire quickly and consume no chat messages.
func (s *Sender) Ack(ctx context.Context, callbackID, text string) {
	if err := s.adapter.AnswerCallback(ctx, callbackID, text); err != nil {
		s.log.Debug("callback ack failed", logx.Err(err))
	}
}

// React is best-effort: not all transports support reactions.
func (s *Sender) React(ctx context.Context, ref transport.MessageRef, emoji string) {
	if err := s.limiter.Throttle(ctx); err != nil {
		return
	}
	if err := s.adapter.React(ctx, ref, emoji); err != nil {
		s.log.Debug("reaction failed", logx.Err(err), logx.Int("message_id", ref.MessageID))
	}
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
