// Package listener subscribes to inbound chat messages on the authorized
// channel and buffers them as commands for the assistant to drain. Queue
// depth is mirrored to a plain-text side-channel file consumed by external
// hook scripts.
package listener

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/co8/afkbridge/internal/dispatch"
	"github.com/co8/afkbridge/internal/outbound"
	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/pkg/logx"
)

// Command is one accepted inbound message awaiting consumption.
type Command struct {
	ID         string
	Text       string
	Sender     string
	ReceivedAt time.Time
	ChatID     int64
}

type Status struct {
	Listening  bool
	QueueDepth int
	Transport  bool // underlying adapter polling state
}

type Config struct {
	// AuthorizedChat is the single allow-listed channel id.
	AuthorizedChat int64
	// CountPath is the side-channel file holding the pending command count.
	CountPath string
}

type Listener struct {
	cfg      Config
	dispatch *dispatch.Dispatcher
	sender   *outbound.Sender
	log      logx.Logger

	mu        sync.Mutex
	running   bool
	release   func() // transport reference held while running
	cancelSub func()
	queue     []Command
}

func New(cfg Config, d *dispatch.Dispatcher, sender *outbound.Sender, log logx.Logger) *Listener {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Listener{cfg: cfg, dispatch: d, sender: sender, log: log}
}

// Start is idempotent. It ensures the transport is listening and begins
// accepting inbound commands.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	// Always hold a reference while running: the dispatcher's refcount keeps
	// other holders (an in-flight approval poll) from tearing listening down
	// under us, and vice versa.
	release, err := l.dispatch.Acquire(ctx)
	if err != nil {
		return err
	}
	l.release = release
	l.cancelSub = l.dispatch.Subscribe(transport.UpdateMessage, l.onMessage)
	l.running = true
	l.writeCountLocked()
	l.log.Info("listener started", logx.Int64("chat_id", l.cfg.AuthorizedChat))
	return nil
}

// Stop is idempotent. It releases the listener's transport reference (the
// adapter stops only when no other holder remains), clears the queue and
// refreshes the side channel.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return nil
	}
	if l.cancelSub != nil {
		l.cancelSub()
		l.cancelSub = nil
	}
	if l.release != nil {
		l.release()
		l.release = nil
	}
	l.queue = nil
	l.running = false
	l.writeCountLocked()
	l.log.Info("listener stopped")
	return nil
}

// Drain removes up to limit oldest commands (FIFO) and returns them along
// with the remaining queue depth.
func (l *Listener) Drain(limit int) ([]Command, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.queue) {
		limit = len(l.queue)
	}
	out := append([]Command(nil), l.queue[:limit]...)
	l.queue = l.queue[limit:]
	l.writeCountLocked()
	return out, len(l.queue)
}

func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Listening:  l.running,
		QueueDepth: len(l.queue),
		Transport:  l.dispatch.Listening(),
	}
}

func (l *Listener) onMessage(u transport.Update) {
	m := u.Message
	if m == nil {
		return
	}
	if m.FromID == l.dispatch.BotID() {
		return
	}
	if m.ChatID != l.cfg.AuthorizedChat {
		l.log.Debug("ignoring message from unauthorized chat", logx.Int64("chat_id", m.ChatID))
		return
	}

	cmd := Command{
		ID:         uuid.NewString(),
		Text:       m.Text,
		Sender:     m.FromUsername,
		ReceivedAt: time.Now(),
		ChatID:     m.ChatID,
	}
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, cmd)
	l.writeCountLocked()
	l.mu.Unlock()

	// Receipt acknowledgement is best-effort.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.sender.React(ctx, transport.MessageRef{ChatID: m.ChatID, MessageID: m.ID}, "👀")
	}()
}

// writeCountLocked refreshes the pending-count side channel. Failures are
// logged only; external collaborators tolerate a stale count.
func (l *Listener) writeCountLocked() {
	if l.cfg.CountPath == "" {
		return
	}
	data := strconv.Itoa(len(l.queue))
	if err := os.WriteFile(l.cfg.CountPath, []byte(data), 0o644); err != nil {
		l.log.Warn("pending-count write failed", logx.Err(err), logx.String("path", l.cfg.CountPath))
	}
}
