package runtime

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"loaf/internal/compact"
)

// perMessageOverhead approximates role framing and separators.
const perMessageOverhead = 4

// NewEstimator returns the token estimator for the compaction engine. It uses
// a real BPE when the encoding is available and falls back to a conservative
// character heuristic when it is not (offline first run, unknown model).
func NewEstimator() compact.EstimateFunc {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return HeuristicEstimator
	}
	return func(messages []compact.Message) int {
		total := 0
		for _, m := range messages {
			total += len(enc.Encode(m.Text, nil, nil)) + perMessageOverhead
		}
		return total
	}
}

// HeuristicEstimator over-estimates a little so compaction triggers early
// rather than late: bytes/3 bounded below by runes/2.
func HeuristicEstimator(messages []compact.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateText(m.Text) + perMessageOverhead
	}
	return total
}

func estimateText(text string) int {
	if text == "" {
		return 0
	}
	byBytes := len(text) / 3
	byRunes := utf8.RuneCountInString(text) / 2
	if byBytes < byRunes {
		return byRunes
	}
	return byBytes
}
