package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"loaf/internal/config"
	"loaf/internal/runtime"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	rt, err := runtime.New(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Shutdown)
	return NewServer(rt, nil)
}

// roundTrip feeds newline-delimited requests and returns the decoded replies.
func roundTrip(t *testing.T, s *Server, lines ...string) []map[string]interface{} {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var replies []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad reply %q: %v", line, err)
		}
		replies = append(replies, m)
	}
	return replies
}

func errCode(t *testing.T, reply map[string]interface{}) int {
	t.Helper()
	errObj, ok := reply["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error, got %+v", reply)
	}
	return int(errObj["code"].(float64))
}

func TestServeParseAndRequestErrors(t *testing.T) {
	s := testServer(t)

	replies := roundTrip(t, s,
		`{not json`,
		`[{"jsonrpc":"2.0","id":1,"method":"tools/list"}]`,
		`{"jsonrpc":"1.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"no/such"}`,
	)
	if len(replies) != 4 {
		t.Fatalf("replies = %d, want 4", len(replies))
	}
	if code := errCode(t, replies[0]); code != CodeParseError {
		t.Fatalf("parse error code = %d", code)
	}
	if code := errCode(t, replies[1]); code != CodeInvalidRequest {
		t.Fatalf("batch code = %d", code)
	}
	if code := errCode(t, replies[2]); code != CodeInvalidRequest {
		t.Fatalf("bad version code = %d", code)
	}
	if code := errCode(t, replies[3]); code != CodeMethodNotFound {
		t.Fatalf("unknown method code = %d", code)
	}
}

func TestServeInitializeAndToolFlow(t *testing.T) {
	s := testServer(t)

	replies := roundTrip(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"sessions/open","params":{"session_id":"rpc-test"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"initialize"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"list_dir","input":{"path":"."}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"ghost_tool"}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{}}`,
	)

	byID := map[float64]map[string]interface{}{}
	var notifications []map[string]interface{}
	for _, r := range replies {
		if id, ok := r["id"].(float64); ok {
			byID[id] = r
		} else if r["method"] == "event" {
			notifications = append(notifications, r)
		}
	}

	initResult := byID[2]["result"].(map[string]interface{})
	if initResult["server"] != "loaf" {
		t.Fatalf("initialize = %+v", initResult)
	}
	toolList := initResult["tools"].([]interface{})
	names := map[string]bool{}
	for _, entry := range toolList {
		names[entry.(map[string]interface{})["name"].(string)] = true
	}
	for _, want := range []string{"bash", "apply_patch", "bash_bg_start", "bash_bg_read", "read_file", "grep"} {
		if !names[want] {
			t.Fatalf("initialize missing tool %q: %v", want, names)
		}
	}

	callResult := byID[3]["result"].(map[string]interface{})
	if callResult["ok"] != true {
		t.Fatalf("list_dir call = %+v", callResult)
	}

	// Unknown tool is a tool-level failure, not an RPC error.
	ghost := byID[4]["result"].(map[string]interface{})
	if ghost["ok"] != false {
		t.Fatalf("ghost call = %+v", ghost)
	}

	if code := errCode(t, byID[5]); code != CodeInvalidParams {
		t.Fatalf("missing name code = %d", code)
	}

	if len(notifications) == 0 {
		t.Fatalf("expected event notifications for tool calls")
	}
	params := notifications[0]["params"].(map[string]interface{})
	if params["type"] == "" || params["timestamp"] == "" {
		t.Fatalf("notification shape = %+v", params)
	}
}

func TestServeCompactionEndpoints(t *testing.T) {
	s := testServer(t)
	lines := []string{
		`{"jsonrpc":"2.0","id":1,"method":"sessions/open","params":{"session_id":"c"}}`,
	}
	// Enough tool traffic to give the log events, then force a pass.
	lines = append(lines,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_dir","input":{"path":"."}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"compaction/status","params":{"session_id":"c"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"compaction/run","params":{"session_id":"c","reason":"manual","force":true}}`,
	)
	replies := roundTrip(t, s, lines...)

	byID := map[float64]map[string]interface{}{}
	for _, r := range replies {
		if id, ok := r["id"].(float64); ok {
			byID[id] = r
		}
	}
	status := byID[3]["result"].(map[string]interface{})
	if status["session_id"] != "c" {
		t.Fatalf("status = %+v", status)
	}
	run := byID[4]["result"].(map[string]interface{})
	if _, ok := run["compressed"]; !ok {
		t.Fatalf("run = %+v", run)
	}
}
