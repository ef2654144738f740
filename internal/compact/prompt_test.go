package compact

import (
	"strings"
	"testing"
)

func TestBuildSummarizerPromptShape(t *testing.T) {
	old := NewSummaryState()
	old.Intent = "previous intent"
	delta := []Event{
		{Index: 5, Type: EventUserMsg, Payload: map[string]interface{}{"text": "do the thing"}},
		{Index: 6, Type: EventCommandRun, Payload: map[string]interface{}{"command": "make build"}},
	}

	msgs := BuildSummarizerPrompt(old, delta)
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("prompt shape = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Text, "ONLY valid JSON") {
		t.Fatalf("system prompt missing JSON instruction")
	}
	for _, want := range []string{"previous intent", "do the thing", "make build", "schema_version"} {
		if !strings.Contains(msgs[1].Text, want) {
			t.Fatalf("user prompt missing %q", want)
		}
	}

	retry := BuildSummarizerRetryPrompt(old, delta)
	if !strings.Contains(retry[0].Text, "no code fences, no prose") {
		t.Fatalf("retry prompt missing strict instruction")
	}
}

func TestParseSummaryJSONVariants(t *testing.T) {
	raw := `{"schema_version":1,"intent":"raw works","constraints":[],"decisions":[],"progress":[],"open_questions":[],"next_steps":[],"artifacts":{"files_touched":[],"files_created":[],"commands_run":[],"errors_seen":[],"external_endpoints":[]},"updated_at_iso":""}`

	cases := []struct {
		name  string
		reply string
	}{
		{"raw", raw},
		{"fenced", "```json\n" + raw + "\n```"},
		{"prose", "Here is the summary you asked for:\n" + raw + "\nHope that helps!"},
	}
	for _, tc := range cases {
		out, err := ParseSummaryJSON(tc.reply)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if out.Intent != "raw works" {
			t.Fatalf("%s: intent = %q", tc.name, out.Intent)
		}
	}

	if _, err := ParseSummaryJSON("I cannot do that."); err == nil {
		t.Fatalf("expected parse failure for non-JSON reply")
	}
}
