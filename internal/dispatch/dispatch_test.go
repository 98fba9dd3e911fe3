package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/internal/transport/transporttest"
	"github.com/co8/afkbridge/pkg/logx"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAcquireReferenceCounting(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	d := New(fake, logx.Nop())
	ctx := context.Background()

	if d.Listening() {
		t.Fatal("fresh dispatcher must not be listening")
	}

	rel1, err := d.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rel2, err := d.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Listening() {
		t.Fatal("adapter should be polling while held")
	}

	rel1()
	if !d.Listening() {
		t.Fatal("adapter stopped while another holder remains")
	}
	rel2()
	if d.Listening() {
		t.Fatal("adapter still polling after last release")
	}

	// A release func is single-shot.
	rel2()
	rel3, err := d.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Listening() {
		t.Fatal("re-acquire should restart the adapter")
	}
	rel3()
}

func TestListeningOutlivesAcquirerContext(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	d := New(fake, logx.Nop())

	var seen atomic.Int32
	unsub := d.Subscribe(transport.UpdateMessage, func(u transport.Update) {
		seen.Add(1)
	})
	defer unsub()

	reqCtx, cancel := context.WithCancel(context.Background())
	release, err := d.Acquire(reqCtx)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	// A request-scoped cancel must not tear polling down; only the last
	// release may.
	cancel()
	time.Sleep(20 * time.Millisecond)
	if !d.Listening() {
		t.Fatal("adapter stopped when the acquirer's ctx was cancelled")
	}
	if sctx := fake.StartContext(); sctx == nil || sctx.Err() != nil {
		t.Fatal("adapter run context was tied to the acquirer's ctx")
	}

	fake.Inject(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{Text: "still here"}})
	waitFor(t, "delivery after acquirer cancel", func() bool { return seen.Load() == 1 })

	// A ctx already cancelled at acquisition time is still rejected.
	if _, err := d.Acquire(reqCtx); err == nil {
		t.Fatal("Acquire with cancelled ctx should fail")
	}
}

func TestSubscribeFanout(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	d := New(fake, logx.Nop())
	ctx := context.Background()

	var msgs, cbs atomic.Int32
	cancelMsg := d.Subscribe(transport.UpdateMessage, func(u transport.Update) {
		msgs.Add(1)
	})
	defer cancelMsg()
	cancelCb := d.Subscribe(transport.UpdateCallback, func(u transport.Update) {
		cbs.Add(1)
	})
	defer cancelCb()

	release, err := d.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	fake.Inject(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{Text: "hi"}})
	fake.Inject(transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{ID: "cb"}})
	fake.Inject(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{Text: "again"}})

	waitFor(t, "fanout", func() bool { return msgs.Load() == 2 && cbs.Load() == 1 })
}

func TestSubscriptionCancel(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	d := New(fake, logx.Nop())
	ctx := context.Background()

	var seen atomic.Int32
	cancel := d.Subscribe(transport.UpdateMessage, func(u transport.Update) {
		seen.Add(1)
	})

	release, err := d.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	fake.Inject(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{Text: "one"}})
	waitFor(t, "first delivery", func() bool { return seen.Load() == 1 })

	cancel()
	cancel() // safe to repeat
	fake.Inject(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{Text: "two"}})

	time.Sleep(50 * time.Millisecond)
	if got := seen.Load(); got != 1 {
		t.Fatalf("handler ran after cancel: %d deliveries", got)
	}
}

func TestBotIDPassthrough(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	d := New(fake, logx.Nop())
	if d.BotID() != fake.BotID() {
		t.Fatalf("BotID = %d, want %d", d.BotID(), fake.BotID())
	}
}
