package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the file-backed configuration. Durations are Go duration
// strings (e.g. "500ms", "5s", "24h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Rate     RateConfig     `json:"rate"`
	Batch    BatchConfig    `json:"batch"`
	Approval ApprovalConfig `json:"approval"`
	State    StateConfig    `json:"state"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

// TelegramConfig holds the transport settings. Token and ChatID may also be
// supplied via environment (AFKBRIDGE_TELEGRAM_TOKEN / AFKBRIDGE_CHAT_ID),
// which takes precedence over the file.
type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	ChatID      int64  `json:"chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string `json:"level,omitempty"`
	Console  bool   `json:"console"`
	File     bool   `json:"file,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	// Telegram mirrors WARN+ log lines into the chat channel.
	Telegram           bool   `json:"telegram,omitempty"`
	TelegramMinLevel   string `json:"telegram_min_level,omitempty"`
	TelegramRatePerSec int    `json:"telegram_rate_per_sec,omitempty"`
}

type RateConfig struct {
	PerMinute int `json:"per_minute,omitempty"`
	Burst     int `json:"burst,omitempty"`
}

type BatchConfig struct {
	Window     string `json:"window,omitempty"`
	MaxPending int    `json:"max_pending,omitempty"`
}

type ApprovalConfig struct {
	Ceiling    int    `json:"ceiling,omitempty"`
	StaleAfter string `json:"stale_after,omitempty"`
	IDPrefix   string `json:"id_prefix,omitempty"`
}

// StateConfig points at the files shared with external hook collaborators.
type StateConfig struct {
	Dir string `json:"dir,omitempty"`
}

type StorageConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
	Keep          string `json:"keep,omitempty"`
}

// Validate enforces the startup-fatal requirements.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (or AFKBRIDGE_TELEGRAM_TOKEN)")
	}
	if c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required (or AFKBRIDGE_CHAT_ID)")
	}
	for _, d := range []struct{ name, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"batch.window", c.Batch.Window},
		{"approval.stale_after", c.Approval.StaleAfter},
	} {
		if _, err := ParseDuration(d.raw, 0); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// ParseDuration parses a Go duration string, returning def for empty input.
func ParseDuration(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}
