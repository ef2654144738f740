package shell

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout applies when a foreground call gives no timeout.
	DefaultTimeout = 120 * time.Second
	// MaxTimeout caps any requested foreground timeout.
	MaxTimeout = 1200 * time.Second
)

// Executor runs foreground commands against a persistent cwd/env baseline.
// One Executor is one logical shell session; calls are serialized internally.
type Executor struct {
	mu       sync.Mutex
	log      *zap.Logger
	baseline Baseline
	initial  Baseline
}

// NewExecutor starts from the current process cwd and environment.
func NewExecutor(log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	base := DefaultBaseline()
	return &Executor{log: log, baseline: base.clone(), initial: base}
}

// ExecRequest is one foreground command.
type ExecRequest struct {
	Command      string
	Timeout      time.Duration
	Cwd          string            // overrides the baseline cwd for this call onward
	Env          map[string]string // delta merged over the baseline env
	ResetSession bool
}

// ExecResult is the settled outcome plus the baseline movement.
type ExecResult struct {
	ExitCode        int
	Signal          string
	Duration        time.Duration
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	Aborted         bool
	CwdBefore       string
	CwdAfter        string
	StateCaptured   bool
}

// Baseline returns a copy of the current baseline.
func (e *Executor) Baseline() Baseline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseline.clone()
}

// Exec runs one wrapped command and advances the baseline. On a run whose
// markers did not come back (shell crashed, user exec'd away), the env is
// rolled back to the pre-call snapshot but a cwd override sticks.
func (e *Executor) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ResetSession {
		e.baseline = e.initial.clone()
	}
	snapshot := e.baseline.clone()

	cwd := e.baseline.Cwd
	if req.Cwd != "" {
		cwd = req.Cwd
	}
	env := e.baseline.clone().Env
	for k, v := range req.Env {
		env[k] = v
	}

	sh, err := Resolve()
	if err != nil {
		return ExecResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	marker := newMarkerPrefix()
	wrapped := WrapCommand(sh, req.Command, marker)

	run, err := Run(ctx, RunRequest{
		Argv:    sh.Argv(wrapped),
		Cwd:     cwd,
		Env:     (Baseline{Env: env}).Environ(),
		Timeout: timeout,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("spawn %s: %w", sh.Tag, err)
	}

	cleaned, capture := ParseCapture(run.Stdout, marker)
	res := ExecResult{
		ExitCode:        run.ExitCode,
		Signal:          run.Signal,
		Duration:        run.Duration,
		Stdout:          cleaned,
		Stderr:          run.Stderr,
		StdoutTruncated: run.StdoutTruncated,
		StderrTruncated: run.StderrTruncated,
		TimedOut:        run.TimedOut,
		Aborted:         run.Aborted,
		CwdBefore:       snapshot.Cwd,
		StateCaptured:   capture.Captured,
	}

	if capture.Captured {
		e.baseline = Baseline{Cwd: capture.Cwd, Env: capture.Env}
		e.log.Debug("shell baseline advanced",
			zap.String("cwd", capture.Cwd),
			zap.Int("env_vars", len(capture.Env)))
	} else {
		e.baseline.Env = snapshot.Env
		e.baseline.Cwd = cwd
		e.log.Debug("shell state capture missing; env rolled back",
			zap.String("cwd", cwd))
	}
	res.CwdAfter = e.baseline.Cwd
	return res, nil
}
