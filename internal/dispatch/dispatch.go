// Package dispatch fans inbound transport updates out to subscribed
// handlers and owns the adapter's listening lifecycle.
//
// Listening is reference counted: every Acquire ensures the adapter is
// polling and returns a release func; the adapter stops only when the last
// holder releases. This lets a caller temporarily enable listening without
// stopping a mode someone else turned on.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/pkg/logx"
)

// Handler receives one update. Handlers must not block; slow work belongs
// in a goroutine spawned by the handler.
type Handler func(transport.Update)

type Dispatcher struct {
	adapter transport.Adapter
	log     logx.Logger

	mu       sync.Mutex
	seq      uint64
	handlers map[transport.UpdateKind]map[uint64]Handler

	holders   int
	updates   chan transport.Update
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(adapter transport.Adapter, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		adapter:  adapter,
		log:      log,
		handlers: map[transport.UpdateKind]map[uint64]Handler{},
	}
}

func (d *Dispatcher) BotID() int64 { return d.adapter.BotID() }

// Listening reports whether the underlying adapter is polling for updates.
func (d *Dispatcher) Listening() bool { return d.adapter.Running() }

// Subscribe registers a handler for the given update kind. The returned
// func removes the subscription and is safe to call more than once.
func (d *Dispatcher) Subscribe(kind transport.UpdateKind, fn Handler) (cancel func()) {
	d.mu.Lock()
	d.seq++
	id := d.seq
	m := d.handlers[kind]
	if m == nil {
		m = map[uint64]Handler{}
		d.handlers[kind] = m
	}
	m[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers[kind], id)
			d.mu.Unlock()
		})
	}
}

// Acquire ensures the adapter is listening and returns a release func.
// ctx only gates the acquisition itself; the listening lifetime is owned
// by the dispatcher and ends when the last holder releases.
func (d *Dispatcher) Acquire(ctx context.Context) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.holders == 0 {
		updates := make(chan transport.Update, 64)
		// Listening outlives the first acquirer's ctx: only the last release
		// stops the adapter, so Start gets the dispatcher-owned run context
		// rather than a request-scoped one.
		rctx, cancel := context.WithCancel(context.Background())
		if err := d.adapter.Start(rctx, updates); err != nil {
			cancel()
			d.mu.Unlock()
			return nil, err
		}
		d.updates = updates
		d.runCancel = cancel
		d.runWG.Add(1)
		go func() {
			defer d.runWG.Done()
			d.fanout(rctx, updates)
		}()
	}
	d.holders++
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.release() })
	}, nil
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.holders--
	last := d.holders == 0
	cancel := d.runCancel
	if last {
		d.runCancel = nil
		d.updates = nil
	}
	d.mu.Unlock()

	if !last {
		return
	}
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := d.adapter.Stop(ctx); err != nil {
		d.log.Warn("adapter stop failed", logx.Err(err))
	}
	if cancel != nil {
		cancel()
	}
	d.runWG.Wait()
}

func (d *Dispatcher) fanout(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-updates:
			d.mu.Lock()
			hs := make([]Handler, 0, len(d.handlers[up.Kind]))
			for _, h := range d.handlers[up.Kind] {
				hs = append(hs, h)
			}
			d.mu.Unlock()
			for _, h := range hs {
				h(up)
			}
		}
	}
}
