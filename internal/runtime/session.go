package runtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"loaf/internal/compact"
)

// Session is one hosted conversation: its rollout transcript, compaction
// event log, summary state, and anchor. All compaction on a session is
// serialized by its mutex; the summarizer callback must not re-enter.
type Session struct {
	ID          string
	RolloutPath string

	mu       sync.Mutex
	log      *compact.Log
	state    compact.PersistedState
	engine   *compact.Engine
	provider string
	logger   *zap.Logger

	eventsPath  string
	statePath   string
	summaryPath string
}

// Record implements tools.Recorder: tool activity lands in the event log.
func (s *Session) Record(typ compact.EventType, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(typ, payload)
}

func (s *Session) appendLocked(typ compact.EventType, payload map[string]interface{}) {
	ev := s.log.Append(typ, payload, compact.WithProvider(s.provider))
	if err := compact.AppendEvents(s.eventsPath, []compact.Event{ev}); err != nil {
		s.logger.Warn("append event sidecar failed", zap.String("session", s.ID), zap.Error(err))
	}
}

// RecordUserMessage appends a user turn to the rollout and the event log.
func (s *Session) RecordUserMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendRollout(s.RolloutPath, RolloutMessage{Role: "user", Text: text, CreatedAt: time.Now().UTC()}); err != nil {
		return err
	}
	s.appendLocked(compact.EventUserMsg, map[string]interface{}{"text": text})
	return nil
}

// RecordAssistantMessage appends an assistant turn.
func (s *Session) RecordAssistantMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendRollout(s.RolloutPath, RolloutMessage{Role: "assistant", Text: text, CreatedAt: time.Now().UTC()}); err != nil {
		return err
	}
	s.appendLocked(compact.EventAssistantMsg, map[string]interface{}{"text": text})
	return nil
}

// SetProvider tags subsequent events with the provider. It does not compact;
// a provider switch is compacted by calling Compact with Reason
// "provider_switch".
func (s *Session) SetProvider(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = provider
}

// Anchor returns the current anchor event index.
func (s *Session) Anchor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastAnchorEventIndex
}

// Summary returns a copy of the current summary state.
func (s *Session) Summary() compact.SummaryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SummaryState
}

// EventCount reports the number of logged events.
func (s *Session) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Len()
}

// ContextMessages projects the current model context: summary message plus
// events at or above the anchor.
func (s *Session) ContextMessages() []compact.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return compact.BuildModelContextMessages(s.state.SummaryState, s.log.Events(), s.state.LastAnchorEventIndex)
}

// CompactOptions selects how a pass is triggered.
type CompactOptions struct {
	ModelContextWindowTokens int
	PinnedTokenEstimate      int
	Reason                   string
	Force                    bool
}

// Compact runs one compaction pass. On compression the anchor, summary, and
// markdown mirror are persisted. When the engine fails the anchor is left
// unchanged; a sidecar write error is returned after the in-memory anchor and
// summary have already moved.
func (s *Session) Compact(ctx context.Context, opts CompactOptions) (compact.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.engine.Compact(ctx, s.state.SummaryState, s.log.Events(), s.state.LastAnchorEventIndex, compact.Request{
		ModelContextWindowTokens: opts.ModelContextWindowTokens,
		PinnedTokenEstimate:      opts.PinnedTokenEstimate,
		Reason:                   opts.Reason,
		Force:                    opts.Force,
	})
	if err != nil {
		return compact.Result{}, err
	}
	if !res.Compressed {
		return res, nil
	}

	s.state.LastAnchorEventIndex = res.NewAnchor
	s.state.SummaryState = res.Summary
	s.state.UpdatedAtISO = time.Now().UTC().Format(time.RFC3339)
	if err := compact.SaveState(s.statePath, s.state); err != nil {
		return res, err
	}
	if err := compact.WriteSummaryMarkdown(s.summaryPath, res.Summary); err != nil {
		return res, err
	}
	s.logger.Info("session compacted",
		zap.String("session", s.ID),
		zap.Int("anchor", res.NewAnchor),
		zap.String("reason", opts.Reason))
	return res, nil
}
