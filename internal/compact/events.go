// Package compact keeps a session's conversation within the model context
// window: an append-only event log, a rolling structured summary, and an
// anchor index separating summarized history from live context.
package compact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EventType discriminates log entries. The set is closed; the storage loader
// rejects unknown types.
type EventType string

const (
	EventUserMsg        EventType = "user_msg"
	EventAssistantMsg   EventType = "assistant_msg"
	EventToolResult     EventType = "tool_result"
	EventFileRead       EventType = "file_read"
	EventFileWritePatch EventType = "file_write_patch"
	EventCommandRun     EventType = "command_run"
	EventErrorObserved  EventType = "error_observed"
	EventDecision       EventType = "decision"
	EventPlanStep       EventType = "plan_step"
)

var knownEventTypes = map[EventType]bool{
	EventUserMsg: true, EventAssistantMsg: true, EventToolResult: true,
	EventFileRead: true, EventFileWritePatch: true, EventCommandRun: true,
	EventErrorObserved: true, EventDecision: true, EventPlanStep: true,
}

// KnownEventType reports whether t is a member of the closed set.
func KnownEventType(t EventType) bool { return knownEventTypes[t] }

// Event is one log entry. Indices within a session are strictly increasing
// and contiguous through the append path. The payload is opaque except for
// the keys the projection and artifact extraction look at.
type Event struct {
	Index     int                    `json:"index"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	TurnID    string                 `json:"turn_id,omitempty"`
	Provider  string                 `json:"provider,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// Message is the chat projection consumed by token estimation and context
// assembly.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

const previewClip = 160

// eventTags maps operational event types to their bracketed projection tag.
// New event kinds need exactly one new row here.
var eventTags = map[EventType]string{
	EventCommandRun:     "[command]",
	EventErrorObserved:  "[error]",
	EventDecision:       "[decision]",
	EventPlanStep:       "[plan step]",
	EventFileRead:       "[file read]",
	EventFileWritePatch: "[file write]",
}

// ToMessage projects an event onto a chat message. User and assistant
// messages round-trip their text; operational events render as short
// bracketed tags with the primary string payload (or a clipped JSON preview).
func ToMessage(e Event) Message {
	switch e.Type {
	case EventUserMsg:
		return Message{Role: "user", Text: payloadText(e.Payload)}
	case EventAssistantMsg:
		return Message{Role: "assistant", Text: payloadText(e.Payload)}
	case EventToolResult:
		tag := "[tool result:ok]"
		if ok, found := e.Payload["ok"].(bool); found && !ok {
			tag = "[tool result:error]"
		}
		return Message{Role: "assistant", Text: tagWithBody(tag, e.Payload)}
	default:
		tag, ok := eventTags[e.Type]
		if !ok {
			tag = "[" + string(e.Type) + "]"
		}
		return Message{Role: "assistant", Text: tagWithBody(tag, e.Payload)}
	}
}

func tagWithBody(tag string, payload map[string]interface{}) string {
	body := primaryString(payload)
	if body == "" {
		body = jsonPreview(payload)
	}
	if body == "" {
		return tag
	}
	return tag + " " + body
}

// primaryString picks the payload field that best describes the event.
var primaryKeys = []string{"text", "command", "summary", "message", "error", "decision", "step", "path", "name"}

func payloadText(payload map[string]interface{}) string {
	if s, ok := payload["text"].(string); ok {
		return s
	}
	return primaryString(payload)
}

func primaryString(payload map[string]interface{}) string {
	for _, k := range primaryKeys {
		if s, ok := payload[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func jsonPreview(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	s := string(data)
	if len(s) > previewClip {
		s = s[:previewClip] + "…"
	}
	return s
}

// HistoryMessage is the minimal shape of a stored transcript row used for
// backfilling.
type HistoryMessage struct {
	Role      string
	Text      string
	HasImages bool
}

// BackfillEventsFromHistory rebuilds a contiguous event sequence from a
// stored transcript. Messages that are empty and carry no images are
// skipped; indices start at startIndex.
func BackfillEventsFromHistory(history []HistoryMessage, startIndex int, now time.Time) []Event {
	var out []Event
	idx := startIndex
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" && !m.HasImages {
			continue
		}
		typ := EventAssistantMsg
		if m.Role == "user" {
			typ = EventUserMsg
		}
		out = append(out, Event{
			Index:     idx,
			Timestamp: now,
			Type:      typ,
			Payload:   map[string]interface{}{"text": m.Text},
		})
		idx++
	}
	return out
}

var urlRE = regexp.MustCompile(`\bhttps?://[^\s"'` + "`" + `<>()]+`)

// Command classification, deliberately small: reads, then writes.
var (
	readCmdRE   = regexp.MustCompile(`\b(?:cat|head|tail|less|grep|sed|awk|wc)\s+(?:-\S+\s+)*([^\s;|&<>]+)`)
	createCmdRE = regexp.MustCompile(`\b(?:touch|tee|mkdir)\s+(?:-\S+\s+)*([^\s;|&<>]+)`)
	redirectRE  = regexp.MustCompile(`>>?\s*([^\s;|&]+)`)
)

// ExtractArtifactsFromEvents derives the artifact lists directly from a batch
// of events: URLs from any payload value, file paths from file events and
// classified commands, commands and errors from their event types.
func ExtractArtifactsFromEvents(events []Event) Artifacts {
	var a Artifacts
	for _, e := range events {
		walkStrings(e.Payload, func(s string) {
			for _, u := range urlRE.FindAllString(s, -1) {
				a.ExternalEndpoints = appendDedup(a.ExternalEndpoints, u)
			}
		})

		switch e.Type {
		case EventCommandRun:
			cmd := primaryString(e.Payload)
			if cmd == "" {
				continue
			}
			a.CommandsRun = appendDedup(a.CommandsRun, cmd)
			for _, m := range readCmdRE.FindAllStringSubmatch(cmd, -1) {
				a.FilesTouched = appendDedup(a.FilesTouched, m[1])
			}
			for _, m := range createCmdRE.FindAllStringSubmatch(cmd, -1) {
				a.FilesCreated = appendDedup(a.FilesCreated, m[1])
			}
			for _, m := range redirectRE.FindAllStringSubmatch(cmd, -1) {
				a.FilesCreated = appendDedup(a.FilesCreated, m[1])
			}
		case EventFileRead:
			if p, ok := e.Payload["path"].(string); ok && p != "" {
				a.FilesTouched = appendDedup(a.FilesTouched, p)
			}
		case EventFileWritePatch:
			if p, ok := e.Payload["path"].(string); ok && p != "" {
				a.FilesCreated = appendDedup(a.FilesCreated, p)
			}
		case EventErrorObserved:
			if msg := primaryString(e.Payload); msg != "" {
				a.ErrorsSeen = appendDedup(a.ErrorsSeen, msg)
			}
		}
	}
	return a
}

// walkStrings descends maps and arrays, visiting every string leaf.
func walkStrings(v interface{}, visit func(string)) {
	switch t := v.(type) {
	case string:
		visit(t)
	case map[string]interface{}:
		for _, child := range t {
			walkStrings(child, visit)
		}
	case []interface{}:
		for _, child := range t {
			walkStrings(child, visit)
		}
	}
}

// Log is an in-memory event sequence with the append-path invariants.
type Log struct {
	events []Event
	next   int
}

// NewLog starts an empty log whose first event gets index startIndex.
func NewLog(startIndex int) *Log {
	return &Log{next: startIndex}
}

// Append assigns the next index and adds the event.
func (l *Log) Append(typ EventType, payload map[string]interface{}, opts ...func(*Event)) Event {
	e := Event{
		Index:     l.next,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Payload:   payload,
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.Index = l.next
	l.next++
	l.events = append(l.events, e)
	return e
}

// WithTurn tags the event with a turn id.
func WithTurn(turnID string) func(*Event) {
	return func(e *Event) { e.TurnID = turnID }
}

// WithProvider tags the event with the provider that produced it.
func WithProvider(provider string) func(*Event) {
	return func(e *Event) { e.Provider = provider }
}

// Restore replaces the log contents with persisted events; indices must be
// strictly increasing.
func (l *Log) Restore(events []Event) error {
	for i := 1; i < len(events); i++ {
		if events[i].Index <= events[i-1].Index {
			return fmt.Errorf("event indices not increasing at position %d", i)
		}
	}
	l.events = append([]Event(nil), events...)
	if n := len(events); n > 0 {
		l.next = events[n-1].Index + 1
	}
	return nil
}

// Events returns the full sequence.
func (l *Log) Events() []Event { return l.events }

// Len reports the event count.
func (l *Log) Len() int { return len(l.events) }
