package utils

import "strings"

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// SanitizeForEmbedding strips control characters (keeping \n, \r, \t) and
// caps the text at maxLen bytes. Embedding backends reject NUL bytes and
// very long inputs.
func SanitizeForEmbedding(s string, maxLen int) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' || ch >= ' ' {
			b.WriteRune(ch)
		}
	}
	out := b.String()
	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
