package processor

import "strings"

// TruncateString shortens s to at most maxChars characters without splitting
// a multi-byte rune.
func TruncateString(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == maxChars {
			return s[:i]
		}
		count++
	}
	return s
}

// StripNulls removes null bytes, which postgres text columns reject.
func StripNulls(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// CleanText strips null bytes and truncates to maxChars. Applied when a
// batch insert is retried after a data error.
func CleanText(s string, maxChars int) string {
	return TruncateString(StripNulls(s), maxChars)
}
