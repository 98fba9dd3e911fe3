package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TelegramSendFunc delivers one formatted log line to the chat channel.
// It is provided by the transport layer so logx does not depend on it.
type TelegramSendFunc func(ctx context.Context, text string)

// NewTelegramSink builds a zerolog sink that forwards WARN+ lines to the
// chat channel through send. Lines are rate limited and delivered from a
// single background worker so logging never blocks on network I/O.
func NewTelegramSink(send TelegramSendFunc) *TelegramSink {
	ctx, cancel := context.WithCancel(context.Background())
	t := &TelegramSink{
		send:   send,
		queue:  make(chan string, 256),
		cancel: cancel,
	}
	t.configure(zerolog.WarnLevel, 1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.worker(ctx)
	}()
	return t
}

type TelegramSink struct {
	send   TelegramSendFunc
	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

func (t *TelegramSink) configure(min zerolog.Level, perSec int) {
	if perSec < 1 {
		perSec = 1
	}
	t.mu.Lock()
	t.minLevel = min
	t.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	t.mu.Unlock()
}

func (t *TelegramSink) close() {
	t.cancel()
	t.wg.Wait()
}

func (t *TelegramSink) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			if t.send != nil {
				t.send(ctx, msg)
			}
		}
	}
}

func (t *TelegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *TelegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	min := t.minLevel
	lim := t.limiter
	t.mu.Unlock()

	if level < min || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	msg := formatLine(p)
	if msg == "" {
		return len(p), nil
	}
	// Never block core logging.
	select {
	case t.queue <- msg:
	default:
	}
	return len(p), nil
}

func formatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)
	for k, v := range m {
		if k == "time" || k == "level" || k == "message" || k == "caller" {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(v), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
