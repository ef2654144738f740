package shell

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func posixShell(t *testing.T) Shell {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("posix runner test")
	}
	sh, err := Resolve()
	if err != nil {
		t.Skipf("no shell available: %v", err)
	}
	return sh
}

func TestRunCapturesStdoutAndExitCode(t *testing.T) {
	sh := posixShell(t)
	res, err := Run(context.Background(), RunRequest{
		Argv:    sh.Argv("echo out; echo err 1>&2; exit 3"),
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	if res.TimedOut || res.Aborted {
		t.Fatalf("unexpected flags: %+v", res)
	}
}

func TestRunTimeoutFlagsResult(t *testing.T) {
	sh := posixShell(t)
	start := time.Now()
	res, err := Run(context.Background(), RunRequest{
		Argv:    sh.Argv("sleep 30"),
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout settle took %v", elapsed)
	}
}

func TestRunAbortOnContextCancel(t *testing.T) {
	sh := posixShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	res, err := Run(ctx, RunRequest{
		Argv:    sh.Argv("sleep 30"),
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Aborted {
		t.Fatalf("expected Aborted, got %+v", res)
	}
}

func TestRunSettlesWhenGrandchildHoldsPipe(t *testing.T) {
	sh := posixShell(t)
	// The subshell exits immediately but leaves a sleeping grandchild holding
	// the stdout pipe open; settlement must not wait for it.
	start := time.Now()
	res, err := Run(context.Background(), RunRequest{
		Argv:    sh.Argv("sleep 20 & echo started"),
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run with lingering grandchild settled in %v, want ~close grace", elapsed)
	}
	if !strings.Contains(res.Stdout, "started") {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d", res.ExitCode)
	}
}

func TestRunCapTruncatesLongOutput(t *testing.T) {
	sh := posixShell(t)
	// ~400k bytes of output against the 300k cap.
	res, err := Run(context.Background(), RunRequest{
		Argv:    sh.Argv(`i=0; while [ $i -lt 4000 ]; do printf '%0100d' $i; i=$((i+1)); done`),
		Timeout: 60 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.StdoutTruncated {
		t.Fatalf("expected stdout truncation")
	}
	if len(res.Stdout) != CaptureLimit {
		t.Fatalf("stdout len = %d, want %d", len(res.Stdout), CaptureLimit)
	}
}

func TestRunEmptyArgv(t *testing.T) {
	if _, err := Run(context.Background(), RunRequest{}); err == nil {
		t.Fatalf("expected error for empty argv")
	}
}

func TestResolveCachesProbe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix resolver test")
	}
	resetResolverForTest()
	first, err := Resolve()
	if err != nil {
		t.Skipf("no shell available: %v", err)
	}
	second, err := Resolve()
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.Tag != second.Tag || first.Path != second.Path {
		t.Fatalf("resolver not stable: %+v vs %+v", first, second)
	}
	switch first.Tag {
	case "zsh", "bash", "sh":
	default:
		t.Fatalf("unexpected tag %q", first.Tag)
	}
}

func TestRedactEnvMasksSecretKeys(t *testing.T) {
	in := map[string]string{
		"API_TOKEN":   "abc",
		"DB_PASSWORD": "hunter2",
		"HOME":        "/home/u",
	}
	out := RedactEnv(in)
	if out["API_TOKEN"] != redactedPlaceholder || out["DB_PASSWORD"] != redactedPlaceholder {
		t.Fatalf("secrets not masked: %+v", out)
	}
	if out["HOME"] != "/home/u" {
		t.Fatalf("non-secret value altered: %+v", out)
	}
}
