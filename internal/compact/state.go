package compact

import (
	"strings"
	"time"
)

// SchemaVersion of the summary and persisted-state shapes.
const SchemaVersion = 1

// Artifacts are the deduplicated, case-insensitive string lists harvested
// from events and summaries.
type Artifacts struct {
	FilesTouched      []string `json:"files_touched"`
	FilesCreated      []string `json:"files_created"`
	CommandsRun       []string `json:"commands_run"`
	ErrorsSeen        []string `json:"errors_seen"`
	ExternalEndpoints []string `json:"external_endpoints"`
}

// Decision is one recorded choice with its rationale.
type Decision struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
	AtISO     string `json:"at_iso,omitempty"`
	Tradeoffs string `json:"tradeoffs,omitempty"`
}

// SummaryState is the rolling structured summary that replaces elided events
// in the model context. Lists grow by append; merge is union, not replace.
type SummaryState struct {
	SchemaVersion int        `json:"schema_version"`
	Intent        string     `json:"intent"`
	Constraints   []string   `json:"constraints"`
	Decisions     []Decision `json:"decisions"`
	Progress      []string   `json:"progress"`
	OpenQuestions []string   `json:"open_questions"`
	NextSteps     []string   `json:"next_steps"`
	Artifacts     Artifacts  `json:"artifacts"`
	UpdatedAtISO  string     `json:"updated_at_iso"`
}

// NewSummaryState returns an empty summary at the current schema version.
func NewSummaryState() SummaryState {
	return SummaryState{SchemaVersion: SchemaVersion}
}

// IsEmpty reports whether the summary carries no content worth rendering.
func (s SummaryState) IsEmpty() bool {
	return strings.TrimSpace(s.Intent) == "" &&
		len(s.Constraints) == 0 && len(s.Decisions) == 0 &&
		len(s.Progress) == 0 && len(s.OpenQuestions) == 0 &&
		len(s.NextSteps) == 0 && s.Artifacts.isEmpty()
}

func (a Artifacts) isEmpty() bool {
	return len(a.FilesTouched) == 0 && len(a.FilesCreated) == 0 &&
		len(a.CommandsRun) == 0 && len(a.ErrorsSeen) == 0 &&
		len(a.ExternalEndpoints) == 0
}

// appendDedup appends value if a case-insensitive twin is not already present.
// Insertion order is preserved; values are trimmed and empties skipped.
func appendDedup(list []string, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return list
	}
	lower := strings.ToLower(value)
	for _, existing := range list {
		if strings.ToLower(existing) == lower {
			return list
		}
	}
	return append(list, value)
}

// unionStrings appends every value of add not already in base, preserving
// base order first.
func unionStrings(base, add []string) []string {
	out := append([]string(nil), base...)
	// Re-dedup base itself so malformed persisted state heals on merge.
	out = dedupStrings(out)
	for _, v := range add {
		out = appendDedup(out, v)
	}
	return out
}

func dedupStrings(in []string) []string {
	var out []string
	for _, v := range in {
		out = appendDedup(out, v)
	}
	return out
}

// MergeArtifacts unions the five lists.
func MergeArtifacts(base, add Artifacts) Artifacts {
	return Artifacts{
		FilesTouched:      unionStrings(base.FilesTouched, add.FilesTouched),
		FilesCreated:      unionStrings(base.FilesCreated, add.FilesCreated),
		CommandsRun:       unionStrings(base.CommandsRun, add.CommandsRun),
		ErrorsSeen:        unionStrings(base.ErrorsSeen, add.ErrorsSeen),
		ExternalEndpoints: unionStrings(base.ExternalEndpoints, add.ExternalEndpoints),
	}
}

// MergeSummary folds a candidate summary into the previous one: union-append
// on every list (previous order wins), decisions deduplicated by
// (decision, rationale) lowercased, candidate intent preferred unless empty.
func MergeSummary(prev, candidate SummaryState, now time.Time) SummaryState {
	out := SummaryState{SchemaVersion: SchemaVersion}

	out.Intent = strings.TrimSpace(candidate.Intent)
	if out.Intent == "" {
		out.Intent = strings.TrimSpace(prev.Intent)
	}

	out.Constraints = unionStrings(prev.Constraints, candidate.Constraints)
	out.Progress = unionStrings(prev.Progress, candidate.Progress)
	out.OpenQuestions = unionStrings(prev.OpenQuestions, candidate.OpenQuestions)
	out.NextSteps = unionStrings(prev.NextSteps, candidate.NextSteps)
	out.Decisions = mergeDecisions(prev.Decisions, candidate.Decisions)
	out.Artifacts = MergeArtifacts(prev.Artifacts, candidate.Artifacts)
	out.UpdatedAtISO = now.UTC().Format(time.RFC3339)
	return out
}

func mergeDecisions(prev, add []Decision) []Decision {
	seen := map[string]bool{}
	key := func(d Decision) string {
		return strings.ToLower(strings.TrimSpace(d.Decision)) + "\x00" + strings.ToLower(strings.TrimSpace(d.Rationale))
	}
	var out []Decision
	for _, d := range append(append([]Decision(nil), prev...), add...) {
		if strings.TrimSpace(d.Decision) == "" {
			continue
		}
		k := key(d)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}
