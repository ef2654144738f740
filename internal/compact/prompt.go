package compact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Summarizer prompt construction for callers that drive an LLM. The engine
// itself never talks to a model.

const summarizerSystem = `You maintain a structured working summary for a long-running coding session.
Given the previous summary JSON and a batch of new session events, return ONLY valid JSON matching the schema of the previous summary.
Preserve continuity: keep existing intent, decisions, constraints, and artifact paths unless the new events contradict them.
Add new decisions with their rationale. Record errors observed and how they were resolved.
Never invent file paths, commands, or endpoints that do not appear in the events.`

const summarizerRetrySuffix = `
Your previous reply was not parseable. Return ONLY the JSON object: no code fences, no prose, no explanations.`

func schemaExample() string {
	example := SummaryState{
		SchemaVersion: SchemaVersion,
		Intent:        "one sentence: what the session is trying to achieve",
		Constraints:   []string{"constraint the user imposed"},
		Decisions: []Decision{{
			Decision:  "what was decided",
			Rationale: "why",
			AtISO:     "2024-01-01T00:00:00Z",
			Tradeoffs: "optional",
		}},
		Progress:      []string{"milestone reached"},
		OpenQuestions: []string{"unresolved question"},
		NextSteps:     []string{"planned step"},
		Artifacts: Artifacts{
			FilesTouched:      []string{"path/seen.go"},
			FilesCreated:      []string{"path/new.go"},
			CommandsRun:       []string{"go test ./..."},
			ErrorsSeen:        []string{"error text"},
			ExternalEndpoints: []string{"https://example.com/api"},
		},
		UpdatedAtISO: "2024-01-01T00:00:00Z",
	}
	data, _ := json.MarshalIndent(example, "", "  ")
	return string(data)
}

// BuildSummarizerPrompt returns the two-message prompt: system instruction
// and a user message carrying the old summary, the delta rows, and a schema
// example.
func BuildSummarizerPrompt(old SummaryState, delta []Event) []Message {
	oldJSON, _ := json.Marshal(old)

	var rows strings.Builder
	for _, e := range delta {
		msg := ToMessage(e)
		fmt.Fprintf(&rows, "%d\t%s\t%s\t%s\n", e.Index, e.Type, msg.Role, clip(msg.Text, 600))
	}

	user := fmt.Sprintf(
		"Previous summary JSON:\n%s\n\nNew events (index, type, role, text):\n%s\nSchema example:\n%s\n\nReturn the updated summary JSON.",
		string(oldJSON), rows.String(), schemaExample())

	return []Message{
		{Role: "system", Text: summarizerSystem},
		{Role: "user", Text: user},
	}
}

// BuildSummarizerRetryPrompt appends the strict no-prose instruction for the
// second attempt.
func BuildSummarizerRetryPrompt(old SummaryState, delta []Event) []Message {
	msgs := BuildSummarizerPrompt(old, delta)
	msgs[0].Text += summarizerRetrySuffix
	return msgs
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

var fencedJSONRE = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseSummaryJSON accepts raw JSON, fenced JSON, or the first {...}
// substring of a noisy reply.
func ParseSummaryJSON(reply string) (SummaryState, error) {
	reply = strings.TrimSpace(reply)

	try := func(s string) (SummaryState, bool) {
		var out SummaryState
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return SummaryState{}, false
		}
		out.SchemaVersion = SchemaVersion
		return out, true
	}

	if out, ok := try(reply); ok {
		return out, nil
	}
	if m := fencedJSONRE.FindStringSubmatch(reply); m != nil {
		if out, ok := try(m[1]); ok {
			return out, nil
		}
	}
	if start := strings.Index(reply, "{"); start >= 0 {
		if end := strings.LastIndex(reply, "}"); end > start {
			if out, ok := try(reply[start : end+1]); ok {
				return out, nil
			}
		}
	}
	return SummaryState{}, fmt.Errorf("summary reply is not valid JSON")
}
