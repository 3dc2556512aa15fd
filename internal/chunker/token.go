package chunker

import "strings"

// EstimateTokens gives a rough token count using a words × 1.33 heuristic.
// Exact tokenization is not required; the number only guides chat budgets.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
