package compact

import "strings"

// RenderSummaryMarkdown renders the summary deterministically: fixed section
// order, stable list order, no timestamps beyond the recorded ones.
func RenderSummaryMarkdown(s SummaryState) string {
	var b strings.Builder
	b.WriteString("# Session Summary\n")

	if intent := strings.TrimSpace(s.Intent); intent != "" {
		b.WriteString("\n## Intent\n")
		b.WriteString(intent + "\n")
	}
	writeList(&b, "Constraints", s.Constraints)
	if len(s.Decisions) > 0 {
		b.WriteString("\n## Decisions\n")
		for _, d := range s.Decisions {
			b.WriteString("- " + d.Decision)
			if d.Rationale != "" {
				b.WriteString(" — " + d.Rationale)
			}
			if d.Tradeoffs != "" {
				b.WriteString(" (tradeoffs: " + d.Tradeoffs + ")")
			}
			b.WriteString("\n")
		}
	}
	writeList(&b, "Progress", s.Progress)
	writeList(&b, "Open Questions", s.OpenQuestions)
	writeList(&b, "Next Steps", s.NextSteps)

	a := s.Artifacts
	if !a.isEmpty() {
		b.WriteString("\n## Artifacts\n")
		writeSubList(&b, "Files touched", a.FilesTouched)
		writeSubList(&b, "Files created", a.FilesCreated)
		writeSubList(&b, "Commands run", a.CommandsRun)
		writeSubList(&b, "Errors seen", a.ErrorsSeen)
		writeSubList(&b, "External endpoints", a.ExternalEndpoints)
	}
	if s.UpdatedAtISO != "" {
		b.WriteString("\nUpdated: " + s.UpdatedAtISO + "\n")
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n## " + title + "\n")
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}

func writeSubList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("### " + title + "\n")
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}
