package config

import (
	"os"
	"testing"
	"time"

	"github.com/co8/afkbridge/pkg/logx"
)

func TestManagerReloadPublishesSnapshot(t *testing.T) {
	path := writeConfig(t, "afkbridge.yaml", validYAML)
	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, initial, logx.Nop())
	ch, unsub := m.Subscribe()
	defer unsub()

	if err := os.WriteFile(path, []byte(`
telegram:
  token: "123456:ABC"
  chat_id: -10099
rate:
  per_minute: 5
`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()

	select {
	case cfg := <-ch:
		if cfg.Rate.PerMinute != 5 {
			t.Fatalf("per_minute = %d, want 5", cfg.Rate.PerMinute)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
	if m.Current().Rate.PerMinute != 5 {
		t.Fatalf("Current not swapped: %+v", m.Current().Rate)
	}
}

func TestManagerRejectsBrokenEdit(t *testing.T) {
	path := writeConfig(t, "afkbridge.yaml", validYAML)
	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, initial, logx.Nop())
	ch, unsub := m.Subscribe()
	defer unsub()

	if err := os.WriteFile(path, []byte("telegram:\n  chat_id: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()

	select {
	case cfg := <-ch:
		t.Fatalf("broken edit published: %+v", cfg)
	case <-time.After(100 * time.Millisecond):
	}
	if m.Current() != initial {
		t.Fatal("last good config was replaced")
	}
}

func TestManagerSkipsUnchangedContent(t *testing.T) {
	path := writeConfig(t, "afkbridge.yaml", validYAML)
	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, initial, logx.Nop())
	ch, unsub := m.Subscribe()
	defer unsub()

	// Same bytes rewritten: the content hash suppresses the republish.
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()

	select {
	case <-ch:
		t.Fatal("unchanged content was republished")
	case <-time.After(100 * time.Millisecond):
	}
}
