// tokens.go provides the token estimate shared by the router budget, the
// fuser budget and tool footers.
package memory

import (
	"fmt"
	"unicode/utf8"
)

// CharsPerToken is the character-to-token ratio of EstimateTokens. It is an
// approximation of common LLM tokenizers, not a measurement.
const CharsPerToken = 4

// EstimateTokens approximates the token count of text as
// ceil(len/CharsPerToken): 0 for empty text, at least 1 otherwise. The
// estimate is subadditive, so the estimate of a concatenation never
// exceeds the sum of the estimates of its parts.
func EstimateTokens(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// TruncateTokens cuts text so that EstimateTokens of the result is at most
// tokens, never splitting a UTF-8 sequence.
func TruncateTokens(text string, tokens int) string {
	if tokens <= 0 {
		return ""
	}
	limit := tokens * CharsPerToken
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// Truncate shortens a string to max bytes with an ellipsis, for previews.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// NavigationHint returns a one-line footer when results are capped by a limit.
// Returns an empty string when all results fit (showing >= total) or total is 0.
func NavigationHint(showing, total int, hint string) string {
	if total <= 0 || showing >= total {
		return ""
	}
	if hint != "" {
		return fmt.Sprintf("\nShowing %d of %d. %s", showing, total, hint)
	}
	return fmt.Sprintf("\nShowing %d of %d.", showing, total)
}

// TokenFooter returns a one-line footer with the estimated token count
// of a tool response.
func TokenFooter(estimatedTokens int) string {
	return fmt.Sprintf("\n~%s tokens", formatNumber(estimatedTokens))
}

// BudgetFooter reports that a response stopped at a token budget.
func BudgetFooter(tokensUsed, budget, shown, total int) string {
	return fmt.Sprintf("\nBudget: ~%s/%s tokens used. %d of %d items shown. Increase max_tokens for more.",
		formatNumber(tokensUsed), formatNumber(budget), shown, total)
}

// formatNumber formats an integer with comma separators for readability.
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	s := fmt.Sprintf("%d", n)
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}
