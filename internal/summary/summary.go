// Package summary compresses arbitrary JSON values into shape-preserving,
// size-bounded previews safe to hand to a language model.
package summary

import (
	"fmt"
	"unicode/utf8"
)

const (
	// maxStringLen is the cap applied to leaf strings inside a summary.
	maxStringLen = 200

	// maxDepth is the recursion ceiling; deeper subtrees are replaced
	// with depthExceededMarker.
	maxDepth = 10

	depthExceededMarker = "[max depth exceeded]"
)

// Summarize returns a value with the same shape as v: objects keep all their
// keys (summarized recursively), non-empty arrays collapse to a single
// representative element, long strings are truncated with a marker, and all
// other primitives pass through unchanged. It is total over any JSON value
// and never panics.
func Summarize(v any) any {
	return summarize(v, 0)
}

func summarize(v any, depth int) any {
	if depth > maxDepth {
		return depthExceededMarker
	}

	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = summarize(item, depth+1)
		}
		return out
	case []any:
		if len(val) == 0 {
			return []any{}
		}
		return []any{summarize(val[0], depth+1)}
	case string:
		if len(val) > maxStringLen {
			return fmt.Sprintf("%s... [truncated, %d chars total]", cutRune(val, maxStringLen), len(val))
		}
		return val
	default:
		// Numbers, booleans, nil, and anything else pass through.
		return v
	}
}

// Truncate caps text at max characters. When the text is longer, the result
// carries a marker stating the original length and inviting a follow-up call
// with a larger max_chars — the model never receives the full payload
// unprompted. A max <= 0 returns the text unchanged.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	shown := cutRune(text, max)
	return fmt.Sprintf("%s\n... [truncated: %d of %d chars shown; call again with a larger max_chars to see more]",
		shown, len(shown), len(text))
}

// cutRune truncates s to at most n bytes without splitting a UTF-8 rune.
func cutRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
