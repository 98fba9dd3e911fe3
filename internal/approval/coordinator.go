// Package approval tracks concurrently outstanding approval prompts and
// resolves each one from whichever event arrives first: an inline choice,
// a free-text reply, or the local deadline.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/co8/afkbridge/internal/dispatch"
	"github.com/co8/afkbridge/internal/outbound"
	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/pkg/logx"
	"github.com/co8/afkbridge/pkg/tgui"
)

// ErrNotFound covers unknown, already-resolved and evicted approval ids.
var ErrNotFound = errors.New("approval not found")

type Option struct {
	Label       string
	Description string
}

// Resolution is the single terminal outcome of a poll. Exactly one of
// Selected, CustomText or TimedOut carries the result.
type Resolution struct {
	Selected   string
	CustomText string
	TimedOut   bool
	Elapsed    time.Duration
}

type Config struct {
	// Ceiling bounds the number of live requests; enforced before every
	// insertion. Default 50.
	Ceiling int
	// StaleAfter is the age past which an unresolved request may be evicted
	// when capacity is needed. Default 24h.
	StaleAfter time.Duration
	// IDPrefix prepends the transport message id to form the approval id.
	IDPrefix string
}

type request struct {
	id       string
	question string
	options  []Option
	sentAt   time.Time
	ref      transport.MessageRef
}

type Coordinator struct {
	cfg      Config
	sender   *outbound.Sender
	dispatch *dispatch.Dispatcher
	target   transport.ChatTarget
	log      logx.Logger

	mu    sync.Mutex
	live  map[int]*request // keyed by transport message id
	order []int            // insertion order of message ids
}

func New(cfg Config, sender *outbound.Sender, d *dispatch.Dispatcher, target transport.ChatTarget, log logx.Logger) *Coordinator {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "appr-"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:      cfg,
		sender:   sender,
		dispatch: d,
		target:   target,
		log:      log,
		live:     map[int]*request{},
	}
}

// Live reports the number of unresolved requests.
func (c *Coordinator) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Request renders and sends an approval prompt, registers it and returns
// the approval id plus the transport message id. It does not block waiting
// for a response.
func (c *Coordinator) Request(ctx context.Context, question string, options []Option, header string) (string, int, error) {
	if len(options) == 0 {
		return "", 0, errors.New("approval: at least one option required")
	}

	text := renderText(header, question, options)
	markup := renderMarkup(options, -1, false)
	ref, err := c.sender.Send(ctx, c.target, text, &transport.SendOptions{ReplyMarkup: markup})
	if err != nil {
		return "", 0, err
	}

	req := &request{
		id:       FormatID(c.cfg.IDPrefix, ref.MessageID),
		question: question,
		options:  append([]Option(nil), options...),
		sentAt:   time.Now(),
		ref:      ref,
	}

	c.mu.Lock()
	// Capacity is enforced here, immediately before insertion: stale
	// entries go first, then the oldest by insertion order.
	if len(c.live) >= c.cfg.Ceiling {
		c.evictStaleLocked(time.Now())
	}
	for len(c.live) >= c.cfg.Ceiling {
		c.evictOldestLocked()
	}
	c.live[ref.MessageID] = req
	c.order = append(c.order, ref.MessageID)
	c.mu.Unlock()

	return req.id, ref.MessageID, nil
}

type outcome struct {
	res Resolution
	err error
}

// Poll blocks until the request resolves through exactly one of: an inline
// choice, a free-text reply (after the custom-text control was picked), or
// the timeout. The transport is put into listening mode for the duration if
// it was not already; the prior mode is restored on every path.
//
// An id that is unknown — or that gets evicted while the poll is in
// flight — yields ErrNotFound.
func (c *Coordinator) Poll(ctx context.Context, approvalID string, timeout time.Duration) (Resolution, error) {
	msgID, err := ParseID(c.cfg.IDPrefix, approvalID)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	c.mu.Lock()
	req, ok := c.live[msgID]
	c.mu.Unlock()
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNotFound, approvalID)
	}

	release, err := c.dispatch.Acquire(ctx)
	if err != nil {
		return Resolution{}, err
	}
	defer release()

	start := time.Now()
	done := make(chan outcome, 1)
	var once sync.Once
	resolve := func(o outcome) {
		once.Do(func() { done <- o })
	}
	var customArmed atomic.Bool

	cancelChoice := c.dispatch.Subscribe(transport.UpdateCallback, func(u transport.Update) {
		c.onCallback(ctx, req, u.Callback, &customArmed, resolve, start)
	})
	defer cancelChoice()

	cancelText := c.dispatch.Subscribe(transport.UpdateMessage, func(u transport.Update) {
		m := u.Message
		if m == nil || !customArmed.Load() {
			return
		}
		if m.ChatID != c.target.ChatID || m.FromID == c.dispatch.BotID() {
			return
		}
		resolve(outcome{res: Resolution{CustomText: m.Text, Elapsed: time.Since(start)}})
	})
	defer cancelText()

	// Local deadline loop. The adaptive interval only governs how often the
	// deadline (and eviction) is re-checked, not how events arrive.
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go func() {
		bo := newBackoff(100*time.Millisecond, 100*time.Millisecond, time.Second)
		for {
			t := time.NewTimer(bo.Next())
			select {
			case <-loopCtx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			c.mu.Lock()
			_, alive := c.live[msgID]
			c.mu.Unlock()
			if !alive {
				resolve(outcome{err: fmt.Errorf("%w: %s (evicted)", ErrNotFound, approvalID)})
				return
			}
			if time.Since(start) >= timeout {
				resolve(outcome{res: Resolution{TimedOut: true, Elapsed: time.Since(start)}})
				return
			}
		}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		// The request stays live; a later poll may still resolve it.
		return Resolution{}, ctx.Err()
	}

	if o.err != nil {
		return Resolution{}, o.err
	}
	c.remove(msgID)
	return o.res, nil
}

func (c *Coordinator) onCallback(ctx context.Context, req *request, cb *transport.Callback, customArmed *atomic.Bool, resolve func(outcome), start time.Time) {
	if cb == nil || cb.MessageID != req.ref.MessageID {
		return
	}
	c.mu.Lock()
	_, alive := c.live[req.ref.MessageID]
	c.mu.Unlock()
	if !alive {
		resolve(outcome{err: fmt.Errorf("%w: %s (evicted)", ErrNotFound, req.id)})
		return
	}

	scope, action, payload, err := tgui.Split(cb.Data)
	if err != nil || scope != callbackScope {
		// Malformed payload: tell the user, keep the request pending so a
		// legitimate retry can still land.
		c.log.Warn("malformed approval callback", logx.String("data", cb.Data))
		go c.sender.Ack(ctx, cb.ID, "Invalid choice")
		return
	}

	switch action {
	case actionChoose:
		idx, aerr := strconv.Atoi(payload)
		if aerr != nil || idx < 0 || idx >= len(req.options) {
			c.log.Warn("approval choice out of range", logx.String("payload", payload))
			go c.sender.Ack(ctx, cb.ID, "Invalid choice")
			return
		}
		label := req.options[idx].Label
		go func() {
			c.sender.Ack(ctx, cb.ID, "✅ "+label)
			c.sender.EditMarkup(ctx, req.ref, renderMarkup(req.options, idx, false))
		}()
		resolve(outcome{res: Resolution{Selected: label, Elapsed: time.Since(start)}})

	case actionCustom:
		customArmed.Store(true)
		go func() {
			c.sender.Ack(ctx, cb.ID, "✍️")
			c.sender.EditMarkup(ctx, req.ref, renderMarkup(req.options, -1, true))
			if _, err := c.sender.Send(ctx, c.target, "✍️ Reply with your answer:", nil); err != nil {
				c.log.Warn("custom text prompt failed", logx.Err(err))
			}
		}()

	default:
		go c.sender.Ack(ctx, cb.ID, "Invalid choice")
	}
}

func (c *Coordinator) remove(msgID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(msgID)
}

func (c *Coordinator) removeLocked(msgID int) {
	delete(c.live, msgID)
	for i, id := range c.order {
		if id == msgID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Coordinator) evictStaleLocked(now time.Time) {
	cutoff := now.Add(-c.cfg.StaleAfter)
	for id, req := range c.live {
		if req.sentAt.Before(cutoff) {
			c.log.Info("evicting stale approval", logx.String("id", req.id))
			c.removeLocked(id)
		}
	}
}

func (c *Coordinator) evictOldestLocked() {
	for len(c.order) > 0 {
		id := c.order[0]
		c.order = c.order[1:]
		if req, ok := c.live[id]; ok {
			c.log.Info("evicting oldest approval", logx.String("id", req.id))
			delete(c.live, id)
			return
		}
	}
}
