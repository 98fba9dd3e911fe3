package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// AuditEntry records one observable action of the bridge: an outbound
// send, an approval request or resolution, an accepted inbound command or
// an away-mode transition.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	ChatID     int64     `json:"chat_id,omitempty"`
	MessageID  int       `json:"message_id,omitempty"`
	ApprovalID string    `json:"approval_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

// Store is the minimal persistence API used by the bridge.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, olderThan time.Time) error
	Close() error
}

type Config struct {
	// Driver selects the backend: "file", "sqlite" or ""/"none".
	Driver string
	Path   string
	// BusyTimeout applies to the sqlite driver only.
	BusyTimeout time.Duration
}
