// Package transporttest provides a scripted in-memory transport adapter
// for package tests.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/co8/afkbridge/internal/transport"
)

type Sent struct {
	To   transport.ChatTarget
	Text string
	Opt  *transport.SendOptions
	Ref  transport.MessageRef
}

type Edited struct {
	Ref  transport.MessageRef
	Text string
}

// Fake implements transport.Adapter. Zero value is usable. Error fields
// script failures: FailSends makes the next N SendText calls fail.
type Fake struct {
	mu sync.Mutex

	running  bool
	out      chan<- transport.Update
	startCtx context.Context
	nextID   int

	Sends     []Sent
	Edits     []Edited
	Markups   []transport.MessageRef
	Reactions []transport.MessageRef
	Acks      []string

	FailSends int
	SendErr   error
	EditErr   error
}

func (f *Fake) BotID() int64 { return 42 }

func (f *Fake) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Fake) Start(ctx context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.out = out
	f.startCtx = ctx
	return nil
}

// StartContext returns the ctx the last Start call received, or nil.
func (f *Fake) StartContext() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCtx
}

func (f *Fake) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.out = nil
	return nil
}

// Inject delivers an inbound update, waiting briefly for Start if needed.
func (f *Fake) Inject(u transport.Update) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		out := f.out
		f.mu.Unlock()
		if out != nil {
			out <- u
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (f *Fake) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSends > 0 {
		f.FailSends--
		return transport.MessageRef{}, errOrDefault(f.SendErr)
	}
	if f.SendErr != nil {
		return transport.MessageRef{}, f.SendErr
	}
	f.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}
	f.Sends = append(f.Sends, Sent{To: to, Text: text, Opt: opt, Ref: ref})
	return ref, nil
}

func (f *Fake) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditErr != nil {
		return f.EditErr
	}
	f.Edits = append(f.Edits, Edited{Ref: ref, Text: text})
	return nil
}

func (f *Fake) EditMarkup(ctx context.Context, ref transport.MessageRef, markup any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Markups = append(f.Markups, ref)
	return nil
}

func (f *Fake) React(ctx context.Context, ref transport.MessageRef, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, ref)
	return nil
}

func (f *Fake) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Acks = append(f.Acks, callbackID)
	return nil
}

// ReactionCount returns how many reactions were recorded.
func (f *Fake) ReactionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Reactions)
}

// SentTexts returns the texts of all successful sends, oldest first.
func (f *Fake) SentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Sends))
	for i, s := range f.Sends {
		out[i] = s.Text
	}
	return out
}

// EditedTexts returns the texts of all edits, oldest first.
func (f *Fake) EditedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Edits))
	for i, e := range f.Edits {
		out[i] = e.Text
	}
	return out
}

func errOrDefault(err error) error {
	if err != nil {
		return err
	}
	return errTransport
}

var errTransport = tempErr("transport unavailable")

type tempErr string

func (e tempErr) Error() string { return string(e) }
