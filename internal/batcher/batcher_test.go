package batcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/co8/afkbridge/internal/outbound"
	"github.com/co8/afkbridge/internal/ratelimit"
	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/internal/transport/transporttest"
	"github.com/co8/afkbridge/pkg/logx"
)

var testTarget = transport.ChatTarget{ChatID: 99}

func newTestBatcher(cfg Config, fake *transporttest.Fake) *Batcher {
	sender := outbound.NewSender(ratelimit.New(1000, 1000), fake, logx.Nop()).
		WithRetryBase(time.Millisecond)
	return New(cfg, sender, testTarget, logx.Nop())
}

func TestParsePriority(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Priority
	}{
		{"low", PriorityLow},
		{"HIGH", PriorityHigh},
		{" normal ", PriorityNormal},
		{"", PriorityNormal},
		{"urgent", PriorityNormal},
	}
	for _, tc := range cases {
		if got := ParsePriority(tc.in); got != tc.want {
			t.Errorf("ParsePriority(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFlushCoalescesPending(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	b := newTestBatcher(Config{Window: time.Hour}, fake)
	ctx := context.Background()

	if _, err := b.Add(ctx, "A", PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Add(ctx, "B", PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if got := b.Pending(); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}

	ref, fallback, err := b.Flush(ctx)
	if err != nil || fallback != "" {
		t.Fatalf("Flush = (%q, %v)", fallback, err)
	}

	sends := fake.SentTexts()
	if len(sends) != 1 || !strings.Contains(sends[0], "compacting 2") {
		t.Fatalf("sends = %v, want one compacting-2 placeholder", sends)
	}
	edits := fake.EditedTexts()
	if len(edits) != 1 || edits[0] != "A"+Separator+"B" {
		t.Fatalf("edits = %v", edits)
	}
	if ref != fake.Sends[0].Ref {
		t.Fatalf("Flush ref = %+v, want the edited placeholder %+v", ref, fake.Sends[0].Ref)
	}
	if got := b.Pending(); got != 0 {
		t.Fatalf("Pending after flush = %d, want 0", got)
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	b := newTestBatcher(Config{Window: time.Hour}, fake)

	ref, fallback, err := b.Flush(context.Background())
	if err != nil || fallback != "" || ref.MessageID != 0 {
		t.Fatalf("Flush = (%+v, %q, %v)", ref, fallback, err)
	}
	if len(fake.SentTexts()) != 0 {
		t.Fatalf("unexpected sends: %v", fake.SentTexts())
	}
}

func TestHighPriorityFlushesSynchronously(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	b := newTestBatcher(Config{Window: time.Hour}, fake)
	ctx := context.Background()

	if _, err := b.Add(ctx, "queued", PriorityNormal); err != nil {
		t.Fatal(err)
	}
	ref, err := b.Add(ctx, "urgent", PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}

	// Both messages must already be delivered, no window wait.
	edits := fake.EditedTexts()
	if len(edits) != 1 || edits[0] != "queued"+Separator+"urgent" {
		t.Fatalf("edits = %v", edits)
	}
	// The caller gets the id of the message that now holds the content.
	if ref != fake.Edits[0].Ref || ref.MessageID == 0 {
		t.Fatalf("Add ref = %+v, want edited message %+v", ref, fake.Edits[0].Ref)
	}
	if got := b.Pending(); got != 0 {
		t.Fatalf("Pending = %d, want 0", got)
	}
}

func TestHighPriorityFallsBackToDirectSend(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{EditErr: errors.New("edit down")}
	b := newTestBatcher(Config{Window: time.Hour}, fake)

	ref, err := b.Add(context.Background(), "urgent", PriorityHigh)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	sends := fake.SentTexts()
	if len(sends) != 2 || sends[1] != "urgent" {
		t.Fatalf("sends = %v, want placeholder then direct fallback", sends)
	}
	if ref != fake.Sends[1].Ref {
		t.Fatalf("Add ref = %+v, want fallback send %+v", ref, fake.Sends[1].Ref)
	}
}

func TestWindowTimerFlushes(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	b := newTestBatcher(Config{Window: 20 * time.Millisecond}, fake)
	ctx := context.Background()

	if _, err := b.Add(ctx, "A", PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Add(ctx, "B", PriorityNormal); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fake.EditedTexts()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sends := fake.SentTexts()
	if len(sends) != 1 || !strings.Contains(sends[0], "compacting 2") {
		t.Fatalf("sends = %v", sends)
	}
	edits := fake.EditedTexts()
	if len(edits) != 1 || edits[0] != "A"+Separator+"B" {
		t.Fatalf("edits = %v", edits)
	}
}

func TestFlushReturnsFallbackOnEditFailure(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{EditErr: errors.New("edit down")}
	b := newTestBatcher(Config{Window: time.Hour}, fake)
	ctx := context.Background()

	if _, err := b.Add(ctx, "A", PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Add(ctx, "B", PriorityNormal); err != nil {
		t.Fatal(err)
	}

	ref, fallback, err := b.Flush(ctx)
	if err == nil {
		t.Fatal("expected edit error")
	}
	if fallback != "A"+Separator+"B" {
		t.Fatalf("fallback = %q", fallback)
	}
	if ref.MessageID != 0 {
		t.Fatalf("failed flush leaked a ref: %+v", ref)
	}
}

func TestMaxPendingDropsOldest(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	b := newTestBatcher(Config{Window: time.Hour, MaxPending: 2}, fake)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := b.Add(ctx, text, PriorityNormal); err != nil {
			t.Fatal(err)
		}
	}
	if got := b.Pending(); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}

	if _, _, err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	edits := fake.EditedTexts()
	if len(edits) != 1 || edits[0] != "two"+Separator+"three" {
		t.Fatalf("edits = %v", edits)
	}
}
