package afk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// State is the persisted away-mode record. StartedAt is epoch millis and
// nil while disabled.
type State struct {
	Enabled   bool   `json:"enabled"`
	StartedAt *int64 `json:"startedAt"`
}

func (s State) startedTime() (time.Time, bool) {
	if s.StartedAt == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*s.StartedAt), true
}

// readState accepts both encodings ever written to disk: the current
// structured JSON record and the legacy bare token ("enabled"/"disabled").
// A missing file means disabled.
func readState(path string) (State, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	return decodeState(b)
}

func decodeState(b []byte) (State, error) {
	raw := strings.TrimSpace(string(b))
	switch strings.ToLower(raw) {
	case "":
		return State{}, nil
	case "enabled":
		// Legacy token carries no start time.
		return State{Enabled: true}, nil
	case "disabled":
		return State{}, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("afk: unrecognized state encoding: %w", err)
	}
	return st, nil
}

// writeState always writes the structured form, atomically via rename.
func writeState(path string, st State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
