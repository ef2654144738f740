package tools

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"loaf/internal/compact"
	"loaf/internal/shell"
)

// bashTool executes foreground commands against the persistent shell
// baseline.
type bashTool struct {
	exec     *shell.Executor
	recorder Recorder
}

func newBashTool(exec *shell.Executor, recorder Recorder) Definition {
	t := &bashTool{exec: exec, recorder: recorder}
	return Definition{
		Name:        "bash",
		Description: "Run a shell command. Working directory and environment changes persist across calls.",
		InputSchema: objectSchema(map[string]interface{}{
			"command":         prop("string", "The command to execute"),
			"timeout_seconds": prop("integer", "Timeout in seconds (default 120, max 1200)"),
			"cwd":             prop("string", "Working directory override; persists as the new baseline"),
			"env":             prop("object", "Environment variables merged over the baseline"),
			"reset_session":   prop("boolean", "Reset cwd and environment to process defaults first"),
		}, "command"),
		Run: t.run,
	}
}

func (t *bashTool) run(rc RunContext, input map[string]interface{}) Result {
	command, ok := stringArg(input, "command")
	if !ok || strings.TrimSpace(command) == "" {
		return Fail(StatusInvalidInput, "command is required")
	}
	env, err := stringMapArg(input, "env")
	if err != nil {
		return Fail(StatusInvalidInput, "%v", err)
	}

	req := shell.ExecRequest{
		Command:      command,
		Env:          env,
		ResetSession: boolArg(input, "reset_session"),
	}
	if cwd, ok := stringArg(input, "cwd"); ok {
		req.Cwd = cwd
	}
	if secs, ok := intArg(input, "timeout_seconds"); ok && secs > 0 {
		req.Timeout = time.Duration(secs) * time.Second
	}

	res, err := t.exec.Exec(rc.Context, req)
	if err != nil {
		if errors.Is(err, shell.ErrNoShell) {
			return Fail(StatusEnvUnavailable, "%v", err)
		}
		return Fail(StatusChildFailure, "%v", err)
	}

	record(t.recorder, compact.EventCommandRun, map[string]interface{}{
		"command":   command,
		"exit_code": res.ExitCode,
		"cwd":       res.CwdAfter,
	})

	output := map[string]interface{}{
		"exit_code":        res.ExitCode,
		"signal":           res.Signal,
		"duration_ms":      res.Duration.Milliseconds(),
		"stdout":           res.Stdout,
		"stderr":           res.Stderr,
		"stdout_truncated": res.StdoutTruncated,
		"stderr_truncated": res.StderrTruncated,
		"timed_out":        res.TimedOut,
		"aborted":          res.Aborted,
		"cwd_before":       res.CwdBefore,
		"cwd_after":        res.CwdAfter,
		"state_captured":   res.StateCaptured,
	}

	switch {
	case res.TimedOut:
		record(t.recorder, compact.EventErrorObserved, map[string]interface{}{"message": "command timed out: " + command})
		return Result{OK: false, Output: output, Error: "command timed out"}
	case res.Aborted:
		return Result{OK: false, Output: output, Error: "command aborted"}
	case res.ExitCode != 0:
		return Result{OK: false, Output: output, Error: exitSummary(res)}
	}
	return Ok(output)
}

func exitSummary(res shell.ExecResult) string {
	if res.Signal != "" {
		return "command terminated by " + res.Signal
	}
	return fmt.Sprintf("command exited with code %d", res.ExitCode)
}
