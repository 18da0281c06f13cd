package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Text cleans user-supplied free text before it is stored or forwarded:
// invalid UTF-8 sequences are dropped, CRLF is normalized to LF,
// control characters other than newline and tab are removed, and the
// result is trimmed and capped at maxRunes. A maxRunes of 0 means no
// length cap.
func Text(s string, maxRunes int) string {
	if s == "" {
		return ""
	}

	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	s = strings.TrimSpace(b.String())

	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:maxRunes]))
	}

	return s
}

// Line is Text restricted to a single line: newlines and tabs collapse
// to single spaces. Used for names and titles.
func Line(s string, maxRunes int) string {
	s = Text(s, 0)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	s = strings.TrimSpace(s)

	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:maxRunes]))
	}

	return s
}
