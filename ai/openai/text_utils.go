package openai

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// cleanInput drops invalid UTF-8 and control characters other than
// newline and tab, then trims surrounding whitespace.
func cleanInput(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
