// Package afk implements the durable two-state away controller. While
// enabled, the message listener relays inbound chat traffic; transitions
// are persisted so the mode survives process restarts.
package afk

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/co8/afkbridge/internal/batcher"
	"github.com/co8/afkbridge/internal/listener"
	"github.com/co8/afkbridge/pkg/logx"
)

type Config struct {
	// StatePath is the durable away-state record.
	StatePath string
	// MarkerPath is an auxiliary ephemeral file used by a collaborator to
	// track an in-progress composite notification; cleared on disable.
	MarkerPath string
}

type Machine struct {
	cfg      Config
	listener *listener.Listener
	batcher  *batcher.Batcher
	log      logx.Logger

	// mu is held across a whole transition so concurrent tool calls see
	// either the old or the new mode, never a half-applied one.
	mu sync.Mutex
	st State
}

// New loads persisted state from disk. A corrupt or unreadable state file
// is fatal: silently starting in the wrong mode is worse than failing.
func New(cfg Config, l *listener.Listener, b *batcher.Batcher, log logx.Logger) (*Machine, error) {
	if cfg.StatePath == "" {
		return nil, errors.New("afk: state path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := readState(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return &Machine{cfg: cfg, listener: l, batcher: b, log: log, st: st}, nil
}

func (m *Machine) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Enabled
}

// Since returns the enable time, if known.
func (m *Machine) Since() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.startedTime()
}

// Restore re-enters the persisted mode at startup without re-announcing or
// re-persisting the transition.
func (m *Machine) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.Enabled {
		return nil
	}
	m.log.Info("restoring away mode from persisted state")
	return m.listener.Start(ctx)
}

// Enable persists the Enabled state, starts the listener and announces the
// transition. Persistence that already succeeded is not rolled back when a
// later step fails; the error propagates.
func (m *Machine) Enable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.Enabled {
		m.log.Debug("away mode already enabled")
		return nil
	}
	now := time.Now().UnixMilli()
	st := State{Enabled: true, StartedAt: &now}
	if err := writeState(m.cfg.StatePath, st); err != nil {
		return err
	}
	m.st = st

	if err := m.listener.Start(ctx); err != nil {
		return err
	}
	_, err := m.batcher.Add(ctx, "🌙 Away mode enabled — I'll relay notifications and approvals here.", batcher.PriorityHigh)
	return err
}

// Disable persists the Disabled state, clears the auxiliary marker file,
// stops the listener and announces the elapsed away duration.
func (m *Machine) Disable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.st.Enabled {
		m.log.Debug("away mode already disabled")
		return nil
	}
	elapsed := "unknown"
	if started, ok := m.st.startedTime(); ok {
		elapsed = time.Since(started).Round(time.Second).String()
	}

	if err := writeState(m.cfg.StatePath, State{}); err != nil {
		return err
	}
	m.st = State{}

	if m.cfg.MarkerPath != "" {
		if err := os.Remove(m.cfg.MarkerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			// Degraded but not fatal: the toggle still completes.
			m.log.Warn("marker file cleanup failed", logx.Err(err), logx.String("path", m.cfg.MarkerPath))
		}
	}

	if err := m.listener.Stop(ctx); err != nil {
		return err
	}
	_, err := m.batcher.Add(ctx, "🌅 Away mode disabled — away for "+elapsed+".", batcher.PriorityHigh)
	return err
}
