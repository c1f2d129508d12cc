package aclgen

import (
	"strings"
	"unicode/utf8"
)

const MaxCommentLength = 255

// SanitizeComments turns free-form comment text into single-line strings
// safe inside a double-quoted argument. Empty comments are dropped and the
// owner, if any, becomes an extra "Owner: x" line.
func SanitizeComments(comments []string, owner string) []string {
	var out []string
	for _, c := range comments {
		if c = sanitizeComment(c); c != "" {
			out = append(out, c)
		}
	}
	if owner != "" {
		out = append(out, sanitizeComment("Owner: "+owner))
	}
	return out
}

func sanitizeComment(c string) string {
	c = strings.Join(strings.Fields(c), " ")
	c = strings.ReplaceAll(c, `"`, `'`)
	return truncate(c, MaxCommentLength)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
