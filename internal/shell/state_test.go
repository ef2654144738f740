package shell

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestParseCaptureExtractsCwdAndEnv(t *testing.T) {
	marker := "__LOAF_BASH_1700000000000_ab12cd34__"
	stdout := strings.Join([]string{
		"command output line 1",
		"command output line 2",
		marker + "CWD_START",
		"/tmp/workdir",
		marker + "CWD_END",
		marker + "ENV_START",
		"PATH=/usr/bin:/bin",
		"FOO=bar=baz",
		"EMPTY=",
		"__LOAF_EXIT=0",
		marker + "ENV_END",
		"",
	}, "\n")

	cleaned, cap := ParseCapture(stdout, marker)
	if !cap.Captured {
		t.Fatalf("expected capture, got none")
	}
	if cap.Cwd != "/tmp/workdir" {
		t.Fatalf("cwd = %q, want /tmp/workdir", cap.Cwd)
	}
	if cap.Env["PATH"] != "/usr/bin:/bin" {
		t.Fatalf("PATH = %q", cap.Env["PATH"])
	}
	if cap.Env["FOO"] != "bar=baz" {
		t.Fatalf("env split must be on the first '='; FOO = %q", cap.Env["FOO"])
	}
	if cap.Env["EMPTY"] != "" {
		t.Fatalf("EMPTY = %q, want empty string", cap.Env["EMPTY"])
	}
	if _, ok := cap.Env["__LOAF_EXIT"]; ok {
		t.Fatalf("internal status variable must be filtered out")
	}
	if strings.Contains(cleaned, marker) {
		t.Fatalf("marker block must be stripped from stdout, got:\n%s", cleaned)
	}
	if !strings.Contains(cleaned, "command output line 1") || !strings.Contains(cleaned, "command output line 2") {
		t.Fatalf("user output must survive, got:\n%s", cleaned)
	}
}

func TestParseCaptureMissingMarkers(t *testing.T) {
	marker := "__LOAF_BASH_1700000000000_ab12cd34__"
	stdout := "just some output\nno markers here\n"
	cleaned, cap := ParseCapture(stdout, marker)
	if cap.Captured {
		t.Fatalf("expected no capture")
	}
	if cleaned != stdout {
		t.Fatalf("stdout must be untouched when markers are absent")
	}
}

func TestParseCaptureHandlesCRLF(t *testing.T) {
	marker := "__LOAF_BASH_1_aa__"
	stdout := "out\r\n" + marker + "CWD_START\r\nC:\\work\r\n" + marker + "CWD_END\r\n" +
		marker + "ENV_START\r\nPath=C:\\Windows\r\n" + marker + "ENV_END\r\n"
	_, cap := ParseCapture(stdout, marker)
	if !cap.Captured {
		t.Fatalf("expected capture with CRLF endings")
	}
	if cap.Cwd != "C:\\work" {
		t.Fatalf("cwd = %q", cap.Cwd)
	}
	if cap.Env["Path"] != "C:\\Windows" {
		t.Fatalf("Path = %q", cap.Env["Path"])
	}
}

func TestWrapCommandPosix(t *testing.T) {
	sh := Shell{Tag: "bash", Path: "/bin/bash", Args: []string{"-c"}}
	marker := "__LOAF_BASH_2_bb__"
	wrapped := WrapCommand(sh, "echo hi", marker)
	for _, want := range []string{"set +e", "echo hi", marker + "CWD_START", marker + "ENV_END", "exit $__LOAF_EXIT"} {
		if !strings.Contains(wrapped, want) {
			t.Fatalf("wrapped command missing %q:\n%s", want, wrapped)
		}
	}
}

func TestExecutorCwdPersistsAcrossCalls(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}
	if _, err := Resolve(); err != nil {
		t.Skipf("no shell available: %v", err)
	}

	e := NewExecutor(nil)
	ctx := context.Background()

	res, err := e.Exec(ctx, ExecRequest{Command: "cd /", Timeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("exec cd: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("cd exit = %d, stderr=%q", res.ExitCode, res.Stderr)
	}
	if !res.StateCaptured {
		t.Fatalf("expected state capture on clean exit")
	}
	if res.CwdAfter != "/" {
		t.Fatalf("cwd_after = %q, want /", res.CwdAfter)
	}

	res, err = e.Exec(ctx, ExecRequest{Command: "pwd", Timeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("exec pwd: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != "/" {
		t.Fatalf("pwd output = %q, want /", got)
	}
}

func TestExecutorEnvPersistsAndResets(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}
	if _, err := Resolve(); err != nil {
		t.Skipf("no shell available: %v", err)
	}

	e := NewExecutor(nil)
	ctx := context.Background()

	if _, err := e.Exec(ctx, ExecRequest{Command: "export LOAF_STATE_TEST=persisted", Timeout: 30 * time.Second}); err != nil {
		t.Fatalf("export: %v", err)
	}
	res, err := e.Exec(ctx, ExecRequest{Command: "echo $LOAF_STATE_TEST", Timeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != "persisted" {
		t.Fatalf("env var did not persist, got %q", got)
	}

	res, err = e.Exec(ctx, ExecRequest{Command: "echo x${LOAF_STATE_TEST}x", ResetSession: true, Timeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("reset echo: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != "xx" {
		t.Fatalf("reset_session did not clear env, got %q", got)
	}
}

func TestExecutorEnvRollbackWithoutMarkers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}
	if _, err := Resolve(); err != nil {
		t.Skipf("no shell available: %v", err)
	}

	e := NewExecutor(nil)
	before := e.Baseline()

	// exec replaces the shell, so the marker trailer never runs.
	res, err := e.Exec(context.Background(), ExecRequest{
		Command: "exec true",
		Env:     map[string]string{"LOAF_ROLLBACK_TEST": "ephemeral"},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.StateCaptured {
		t.Fatalf("markers should not survive exec")
	}
	after := e.Baseline()
	if _, ok := after.Env["LOAF_ROLLBACK_TEST"]; ok {
		t.Fatalf("env delta must roll back when markers are missing")
	}
	if after.Cwd != before.Cwd {
		t.Fatalf("cwd should be unchanged without an override, got %q want %q", after.Cwd, before.Cwd)
	}
}
