package compact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSidecarPaths(t *testing.T) {
	ev, st, md := SidecarPaths("/data/sessions/abc.jsonl")
	if ev != "/data/sessions/abc.compact.events.jsonl" {
		t.Fatalf("events path = %q", ev)
	}
	if st != "/data/sessions/abc.compact.state.json" {
		t.Fatalf("state path = %q", st)
	}
	if md != "/data/sessions/abc.compact.summary.md" {
		t.Fatalf("summary path = %q", md)
	}

	// A rollout without the .jsonl extension still derives sidecars.
	ev, _, _ = SidecarPaths("/data/sessions/abc")
	if ev != "/data/sessions/abc.compact.events.jsonl" {
		t.Fatalf("extensionless events path = %q", ev)
	}
}

func TestAppendAndLoadEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.compact.events.jsonl")
	now := time.Now().UTC().Truncate(time.Second)

	in := []Event{
		{Index: 0, Timestamp: now, Type: EventUserMsg, Payload: map[string]interface{}{"text": "hi"}},
		{Index: 1, Timestamp: now, Type: EventCommandRun, TurnID: "t1", Payload: map[string]interface{}{"command": "ls"}},
	}
	if err := AppendEvents(path, in); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendEvents(path, []Event{{Index: 2, Timestamp: now, Type: EventDecision, Payload: map[string]interface{}{"decision": "x"}}}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	out, err := LoadEvents(path, now)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("events = %d, want 3", len(out))
	}
	if out[1].TurnID != "t1" || out[1].Payload["command"] != "ls" {
		t.Fatalf("event 1 = %+v", out[1])
	}
}

func TestLoadEventsLenient(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.compact.events.jsonl")
	now := time.Unix(1700000000, 0).UTC()

	lines := []string{
		`{"index":0,"type":"user_msg","timestamp":"2024-05-01T10:00:00Z","payload":{"text":"ok"}}`,
		`this is not json`,
		`{"index":1,"type":"alien_event","timestamp":"2024-05-01T10:00:00Z","payload":{}}`,
		`{"index":2,"type":"assistant_msg","timestamp":"not-a-time","payload":{"text":"late"}}`,
		`{"index":3,"type":"decision","timestamp":"2024-05-01T10:00:00Z","payload":"not a record"}`,
		``,
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := LoadEvents(path, now)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("events = %d, want 3 (malformed and unknown skipped)", len(out))
	}
	if !out[1].Timestamp.Equal(now) {
		t.Fatalf("invalid timestamp must become now, got %v", out[1].Timestamp)
	}
	if len(out[2].Payload) != 0 {
		t.Fatalf("non-record payload must become {}, got %+v", out[2].Payload)
	}
}

func TestLoadEventsMissingFile(t *testing.T) {
	out, err := LoadEvents(filepath.Join(t.TempDir(), "absent.jsonl"), time.Now())
	if err != nil || out != nil {
		t.Fatalf("missing file: events=%v err=%v", out, err)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.compact.state.json")

	state := NewPersistedState()
	state.LastAnchorEventIndex = 42
	state.BackfilledFromRollout = true
	state.SummaryState.Intent = "persisted intent"
	state.UpdatedAtISO = "2024-05-01T10:00:00Z"

	if err := SaveState(path, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Atomic write leaves no temp file behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"last_anchor_event_index\": 42") {
		t.Fatalf("state not pretty-printed:\n%s", data)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LastAnchorEventIndex != 42 || !loaded.BackfilledFromRollout {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.SummaryState.Intent != "persisted intent" {
		t.Fatalf("summary = %+v", loaded.SummaryState)
	}
}

func TestLoadStateDefaults(t *testing.T) {
	dir := t.TempDir()
	missing, err := LoadState(filepath.Join(dir, "none.json"))
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if missing.SchemaVersion != SchemaVersion || missing.LastAnchorEventIndex != 0 {
		t.Fatalf("defaults = %+v", missing)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadState(bad)
	if err != nil {
		t.Fatalf("malformed state must yield defaults, err=%v", err)
	}
	if loaded.LastAnchorEventIndex != 0 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestWriteSummaryMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.compact.summary.md")

	s := NewSummaryState()
	s.Intent = "finish the migration"
	s.Progress = []string{"step one done"}
	s.Artifacts.FilesCreated = []string{"pkg/x.go"}

	if err := WriteSummaryMarkdown(path, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := string(mustRead(t, path))
	for _, want := range []string{"# Session Summary", "finish the migration", "step one done", "pkg/x.go"} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary markdown missing %q:\n%s", want, got)
		}
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
