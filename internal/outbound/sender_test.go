package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/co8/afkbridge/internal/ratelimit"
	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/internal/transport/transporttest"
	"github.com/co8/afkbridge/pkg/logx"
)

func newTestSender(fake *transporttest.Fake) (*Sender, *[]time.Duration) {
	s := NewSender(ratelimit.New(1000, 1000), fake, logx.Nop())
	waits := &[]time.Duration{}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return s, waits
}

func TestSendSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	s, waits := newTestSender(fake)

	ref, err := s.Send(context.Background(), transport.ChatTarget{ChatID: 7}, "hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.ChatID != 7 || ref.MessageID == 0 {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if len(*waits) != 0 {
		t.Fatalf("expected no retry waits, got %v", *waits)
	}
}

func TestSendRetriesWithBackoff(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{FailSends: 2}
	s, waits := newTestSender(fake)

	_, err := s.Send(context.Background(), transport.ChatTarget{ChatID: 7}, "hello", nil)
	if err != nil {
		t.Fatalf("Send after retries: %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Fatalf("waits = %v, want %v", *waits, want)
		}
	}
	if got := fake.SentTexts(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("sends = %v", got)
	}
}

func TestSendGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	fake := &transporttest.Fake{FailSends: 3, SendErr: boom}
	s, waits := newTestSender(fake)

	_, err := s.Send(context.Background(), transport.ChatTarget{ChatID: 7}, "hello", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	// Two waits only: no backoff after the final attempt.
	if len(*waits) != 2 {
		t.Fatalf("waits = %v, want 2 entries", *waits)
	}
}

func TestEditRetries(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	fake := &transporttest.Fake{EditErr: boom}
	s, waits := newTestSender(fake)

	err := s.Edit(context.Background(), transport.MessageRef{ChatID: 7, MessageID: 1}, "edited", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(*waits) != 2 {
		t.Fatalf("waits = %v, want 2 entries", *waits)
	}

	fake.EditErr = nil
	if err := s.Edit(context.Background(), transport.MessageRef{ChatID: 7, MessageID: 1}, "edited", nil); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got := fake.EditedTexts(); len(got) != 1 || got[0] != "edited" {
		t.Fatalf("edits = %v", got)
	}
}

func TestWithRetryBase(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{FailSends: 2}
	s, waits := newTestSender(fake)
	s.WithRetryBase(10 * time.Millisecond)

	if _, err := s.Send(context.Background(), transport.ChatTarget{ChatID: 1}, "x", nil); err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Fatalf("waits = %v, want %v", *waits, want)
		}
	}
}

func TestBestEffortCallsNeverError(t *testing.T) {
	t.Parallel()
	fake := &transporttest.Fake{}
	s, _ := newTestSender(fake)
	ctx := context.Background()
	ref := transport.MessageRef{ChatID: 7, MessageID: 3}

	s.EditMarkup(ctx, ref, nil)
	s.React(ctx, ref, "👀")
	s.Ack(ctx, "cb-1", "ok")

	if len(fake.Markups) != 1 || len(fake.Reactions) != 1 || len(fake.Acks) != 1 {
		t.Fatalf("markups=%d reactions=%d acks=%d", len(fake.Markups), len(fake.Reactions), len(fake.Acks))
	}
}
