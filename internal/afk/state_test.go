package afk

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDecodeState(t *testing.T) {
	t.Parallel()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	cases := []struct {
		name    string
		in      string
		want    State
		wantErr bool
	}{
		{name: "empty", in: "", want: State{}},
		{name: "whitespace", in: "  \n", want: State{}},
		{name: "legacy enabled", in: "enabled", want: State{Enabled: true}},
		{name: "legacy enabled mixed case", in: "Enabled\n", want: State{Enabled: true}},
		{name: "legacy disabled", in: "disabled", want: State{}},
		{name: "structured enabled", in: `{"enabled":true,"startedAt":1772366400000}`, want: State{Enabled: true, StartedAt: &started}},
		{name: "structured disabled", in: `{"enabled":false,"startedAt":null}`, want: State{}},
		{name: "garbage", in: "{broken", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeState([]byte(tc.in))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeState: %v", err)
			}
			if got.Enabled != tc.want.Enabled {
				t.Fatalf("Enabled = %v, want %v", got.Enabled, tc.want.Enabled)
			}
			switch {
			case tc.want.StartedAt == nil && got.StartedAt != nil:
				t.Fatalf("StartedAt = %d, want nil", *got.StartedAt)
			case tc.want.StartedAt != nil && (got.StartedAt == nil || *got.StartedAt != *tc.want.StartedAt):
				t.Fatalf("StartedAt = %v, want %d", got.StartedAt, *tc.want.StartedAt)
			}
		})
	}
}

func TestReadStateMissingFile(t *testing.T) {
	t.Parallel()
	st, err := readState(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("readState: %v", err)
	}
	if st.Enabled {
		t.Fatal("missing file must read as disabled")
	}
}

func TestWriteStateRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "away_state.json")
	now := time.Now().UnixMilli()

	if err := writeState(path, State{Enabled: true, StartedAt: &now}); err != nil {
		t.Fatalf("writeState: %v", err)
	}
	st, err := readState(path)
	if err != nil {
		t.Fatalf("readState: %v", err)
	}
	if !st.Enabled || st.StartedAt == nil || *st.StartedAt != now {
		t.Fatalf("state = %+v", st)
	}
	// No temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file remains: %v", err)
	}
}
