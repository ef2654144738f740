package tools

import (
	"errors"

	"loaf/internal/bgshell"
	"loaf/internal/compact"
)

// Background session tools: start/read/write/resize/stop/list over the
// process-wide session registry.

type bgTools struct {
	sessions *bgshell.Manager
	recorder Recorder
}

func (t *bgTools) start(rc RunContext, input map[string]interface{}) Result {
	command, ok := stringArg(input, "command")
	if !ok || command == "" {
		return Fail(StatusInvalidInput, "command is required")
	}
	env, err := stringMapArg(input, "env")
	if err != nil {
		return Fail(StatusInvalidInput, "%v", err)
	}

	req := bgshell.StartRequest{
		Command:      command,
		Env:          env,
		ReuseSession: boolArg(input, "reuse_session"),
	}
	if name, ok := stringArg(input, "session_name"); ok {
		req.Name = name
	}
	if cwd, ok := stringArg(input, "cwd"); ok {
		req.Cwd = cwd
	}
	if v, exists := input["full_terminal"]; exists {
		if b, ok := v.(bool); ok {
			req.FullTerminal = &b
		} else {
			return Fail(StatusInvalidInput, "full_terminal must be a boolean")
		}
	}
	if cols, ok := intArg(input, "terminal_cols"); ok {
		req.Cols = cols
	}
	if rows, ok := intArg(input, "terminal_rows"); ok {
		req.Rows = rows
	}

	snap, err := t.sessions.Start(req)
	if err != nil {
		if errors.Is(err, bgshell.ErrUnsupported) {
			return Fail(StatusUnsupported, "%v", err)
		}
		return Fail(StatusChildFailure, "%v", err)
	}
	record(t.recorder, compact.EventCommandRun, map[string]interface{}{
		"command":    command,
		"background": true,
		"session_id": snap.ID,
	})
	return Ok(snap)
}

func (t *bgTools) read(rc RunContext, input map[string]interface{}) Result {
	id, ok := stringArg(input, "session_id")
	if !ok || id == "" {
		return Fail(StatusInvalidInput, "session_id is required")
	}
	req := bgshell.ReadRequest{SessionID: id, Peek: boolArg(input, "peek")}
	if stream, ok := stringArg(input, "stream"); ok {
		req.Stream = stream
	}
	if max, ok := intArg(input, "max_chars"); ok {
		req.MaxBytes = max
	}
	res, err := t.sessions.Read(req)
	if err != nil {
		return bgFail(err)
	}
	return Ok(res)
}

func (t *bgTools) write(rc RunContext, input map[string]interface{}) Result {
	id, ok := stringArg(input, "session_id")
	if !ok || id == "" {
		return Fail(StatusInvalidInput, "session_id is required")
	}
	req := bgshell.WriteRequest{SessionID: id}
	req.Input, _ = stringArg(input, "input")
	req.Key, _ = stringArg(input, "key")
	if req.Input == "" && req.Key == "" {
		return Fail(StatusInvalidInput, "one of input or key is required")
	}
	if req.Input != "" && req.Key != "" {
		return Fail(StatusInvalidInput, "input and key are mutually exclusive")
	}
	if v, exists := input["append_newline"]; exists {
		b, ok := v.(bool)
		if !ok {
			return Fail(StatusInvalidInput, "append_newline must be a boolean")
		}
		req.AppendNewline = b
	}
	if repeat, ok := intArg(input, "repeat"); ok {
		if repeat < 1 || repeat > 100 {
			return Fail(StatusInvalidInput, "repeat must be within [1,100]")
		}
		req.Repeat = repeat
	}
	if err := t.sessions.Write(req); err != nil {
		return bgFail(err)
	}
	return Ok(map[string]interface{}{"written": true})
}

func (t *bgTools) resize(rc RunContext, input map[string]interface{}) Result {
	id, ok := stringArg(input, "session_id")
	if !ok || id == "" {
		return Fail(StatusInvalidInput, "session_id is required")
	}
	cols, okCols := intArg(input, "terminal_cols")
	rows, okRows := intArg(input, "terminal_rows")
	if !okCols || !okRows {
		return Fail(StatusInvalidInput, "terminal_cols and terminal_rows are required")
	}
	gotCols, gotRows, err := t.sessions.Resize(id, cols, rows)
	if err != nil {
		return bgFail(err)
	}
	return Ok(map[string]interface{}{"cols": gotCols, "rows": gotRows})
}

func (t *bgTools) stop(rc RunContext, input map[string]interface{}) Result {
	id, ok := stringArg(input, "session_id")
	if !ok || id == "" {
		return Fail(StatusInvalidInput, "session_id is required")
	}
	snap, err := t.sessions.Stop(id, boolArg(input, "force"))
	if err != nil {
		return bgFail(err)
	}
	return Ok(snap)
}

func (t *bgTools) list(rc RunContext, input map[string]interface{}) Result {
	return Ok(map[string]interface{}{"sessions": t.sessions.List()})
}

func bgFail(err error) Result {
	switch {
	case errors.Is(err, bgshell.ErrNotFound):
		return Fail(StatusNotFound, "%v", err)
	case errors.Is(err, bgshell.ErrUnsupported):
		return Fail(StatusUnsupported, "%v", err)
	default:
		return Fail(StatusChildFailure, "%v", err)
	}
}

func backgroundDefinitions(sessions *bgshell.Manager, recorder Recorder) []Definition {
	t := &bgTools{sessions: sessions, recorder: recorder}
	return []Definition{
		{
			Name:        "bash_bg_start",
			Description: "Start a long-lived background shell session (PTY by default).",
			InputSchema: objectSchema(map[string]interface{}{
				"command":       prop("string", "Command to run in the session"),
				"session_name":  prop("string", "Friendly name for reuse"),
				"cwd":           prop("string", "Working directory"),
				"env":           prop("object", "Environment variables merged over the parent env"),
				"full_terminal": prop("boolean", "Allocate a pseudo-terminal (default true)"),
				"terminal_cols": prop("integer", "PTY columns (40-400, default 120)"),
				"terminal_rows": prop("integer", "PTY rows (10-200, default 36)"),
				"reuse_session": prop("boolean", "Reuse a running session matching name, cwd, and terminal flag"),
			}, "command"),
			Run: t.start,
		},
		{
			Name:        "bash_bg_read",
			Description: "Read new output from a background session, advancing the cursor unless peeking.",
			InputSchema: objectSchema(map[string]interface{}{
				"session_id": prop("string", "Session to read"),
				"stream":     prop("string", "both|stdout|stderr (default both)"),
				"max_chars":  prop("integer", "Maximum characters to return (default 8000, max 120000)"),
				"peek":       prop("boolean", "Read without advancing the cursor"),
			}, "session_id"),
			Run: t.read,
		},
		{
			Name:        "bash_bg_write",
			Description: "Send text or a special key to a background session.",
			InputSchema: objectSchema(map[string]interface{}{
				"session_id":     prop("string", "Session to write to"),
				"input":          prop("string", "Raw text to send"),
				"append_newline": prop("boolean", "Append a newline to input"),
				"key":            prop("string", "Named key: enter, tab, esc, up, down, left, right, home, end, pgup, pgdown, backspace, delete, ctrl+c, ctrl+d, ctrl+z"),
				"repeat":         prop("integer", "Repeat the key sequence (1-100)"),
			}, "session_id"),
			Run: t.write,
		},
		{
			Name:        "bash_bg_resize",
			Description: "Resize a PTY session; pipe sessions do not support resizing.",
			InputSchema: objectSchema(map[string]interface{}{
				"session_id":    prop("string", "Session to resize"),
				"terminal_cols": prop("integer", "Columns (clamped to 40-400)"),
				"terminal_rows": prop("integer", "Rows (clamped to 10-200)"),
			}, "session_id", "terminal_cols", "terminal_rows"),
			Run: t.resize,
		},
		{
			Name:        "bash_bg_stop",
			Description: "Terminate a background session (SIGTERM, or SIGKILL with force).",
			InputSchema: objectSchema(map[string]interface{}{
				"session_id": prop("string", "Session to stop"),
				"force":      prop("boolean", "Send SIGKILL instead of SIGTERM"),
			}, "session_id"),
			Run: t.stop,
		},
		{
			Name:        "bash_bg_list",
			Description: "List background sessions with their status and unread output counts.",
			InputSchema: objectSchema(map[string]interface{}{}),
			Run:         t.list,
		},
	}
}
