// Package runtime hosts sessions: each owns a rollout transcript, a
// compaction log with sidecars, and access to the shared tool registry.
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"loaf/internal/bgshell"
	"loaf/internal/compact"
	"loaf/internal/config"
	"loaf/internal/shell"
	"loaf/internal/tools"
)

// Runtime is the per-process coordinator: one tool registry, one background
// session manager, one foreground shell baseline, many sessions.
type Runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *tools.Registry
	bg       *bgshell.Manager
	exec     *shell.Executor
	engine   *compact.Engine

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds a runtime. summarize may be nil, in which case a local
// summarizer is used (no model call): artifacts, the latest user intent, and
// recorded decisions and plan steps.
func New(cfg config.Config, logger *zap.Logger, summarize compact.SummarizeFunc) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if summarize == nil {
		summarize = LocalSummarizer
	}

	engine := compact.NewEngine(summarize, NewEstimator())
	engine.HighWatermarkRatio = cfg.CompactionHighWatermark
	engine.TargetRatio = cfg.CompactionTarget

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		registry: tools.NewRegistry(),
		bg:       bgshell.NewManager(logger.Named("bgshell"), 0),
		exec:     shell.NewExecutor(logger.Named("shell")),
		engine:   engine,
		sessions: map[string]*Session{},
	}
	return rt, nil
}

// Registry exposes the tool registry.
func (r *Runtime) Registry() *tools.Registry { return r.registry }

// BackgroundSessions exposes the background shell manager.
func (r *Runtime) BackgroundSessions() *bgshell.Manager { return r.bg }

// Config returns the runtime configuration.
func (r *Runtime) Config() config.Config { return r.cfg }

// OpenSession loads or creates a session. Sidecars are loaded when present;
// with no events sidecar but an existing rollout, events are backfilled from
// the transcript and flagged as such.
func (r *Runtime) OpenSession(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		return sess, nil
	}

	rolloutPath := filepath.Join(r.cfg.DataDir, "sessions", id+".jsonl")
	eventsPath, statePath, summaryPath := compact.SidecarPaths(rolloutPath)

	state, err := compact.LoadState(statePath)
	if err != nil {
		return nil, fmt.Errorf("load compaction state: %w", err)
	}
	events, err := compact.LoadEvents(eventsPath, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("load compaction events: %w", err)
	}

	log := compact.NewLog(0)
	if len(events) > 0 {
		if err := log.Restore(events); err != nil {
			return nil, fmt.Errorf("restore events: %w", err)
		}
	} else {
		history, err := loadRollout(rolloutPath)
		if err != nil {
			return nil, fmt.Errorf("load rollout: %w", err)
		}
		if len(history) > 0 {
			backfilled := compact.BackfillEventsFromHistory(historyFromRollout(history), 0, time.Now().UTC())
			if err := log.Restore(backfilled); err != nil {
				return nil, err
			}
			if err := compact.AppendEvents(eventsPath, backfilled); err != nil {
				return nil, fmt.Errorf("persist backfilled events: %w", err)
			}
			state.BackfilledFromRollout = true
		}
	}

	sess := &Session{
		ID:          id,
		RolloutPath: rolloutPath,
		log:         log,
		state:       state,
		engine:      r.engine,
		logger:      r.logger.Named("session"),
		eventsPath:  eventsPath,
		statePath:   statePath,
		summaryPath: summaryPath,
	}
	r.sessions[id] = sess
	return sess, nil
}

// AttachSessionTools registers the built-in tool set recording into sess.
func (r *Runtime) AttachSessionTools(sess *Session) error {
	return tools.RegisterBuiltins(r.registry, tools.Deps{
		Exec:     r.exec,
		Sessions: r.bg,
		Recorder: sess,
		Log:      r.logger.Named("tools"),
	})
}

// ExecuteTool dispatches one call through the registry.
func (r *Runtime) ExecuteTool(ctx context.Context, call tools.Call) tools.Result {
	return r.registry.Execute(ctx, call)
}

// ListSessions returns the ids of open sessions.
func (r *Runtime) ListSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// Shutdown terminates background children, best effort.
func (r *Runtime) Shutdown() {
	r.bg.Shutdown()
}

// LocalSummarizer folds delta events into the summary without a model call:
// artifacts are extracted mechanically and the intent tracks the most recent
// user message.
func LocalSummarizer(ctx context.Context, old compact.SummaryState, delta []compact.Event) (compact.SummaryState, error) {
	out := compact.NewSummaryState()
	out.Artifacts = compact.ExtractArtifactsFromEvents(delta)
	for i := len(delta) - 1; i >= 0; i-- {
		if delta[i].Type == compact.EventUserMsg {
			if text, ok := delta[i].Payload["text"].(string); ok {
				out.Intent = clipIntent(text)
			}
			break
		}
	}
	for _, ev := range delta {
		switch ev.Type {
		case compact.EventDecision:
			d, _ := ev.Payload["decision"].(string)
			rationale, _ := ev.Payload["rationale"].(string)
			if d != "" {
				out.Decisions = append(out.Decisions, compact.Decision{Decision: d, Rationale: rationale})
			}
		case compact.EventPlanStep:
			if step, ok := ev.Payload["step"].(string); ok && step != "" {
				out.Progress = append(out.Progress, step)
			}
		}
	}
	return out, nil
}

func clipIntent(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if len(text) > 200 {
		text = text[:200] + "…"
	}
	return text
}
