package analysis

import "strings"

// EstimateTokens gives a rough token count using a words-based heuristic.
// Exact tokenization is not required: the count only drives segment sizing
// and budget accounting.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	// Roughly 1.33 tokens per word for English text.
	tokens := int(float64(words) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// promptOverheadTokens is the flat per-call cost added on top of a segment's
// own tokens when reserving budget: prompt template plus response.
const promptOverheadTokens = 300

// taskCost estimates the token budget one scoring or analysis call consumes.
func taskCost(seg Segment) int64 {
	return int64(seg.TokenCount + promptOverheadTokens)
}
