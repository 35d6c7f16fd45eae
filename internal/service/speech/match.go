package speech

import (
	"strings"
	"unicode"
)

// Match reports whether a heard utterance is the expected sentence, ignoring
// case, punctuation and spacing. Used by the pronunciation practice check.
func Match(heard, expected string) bool {
	h := Normalize(heard)
	return h != "" && h == Normalize(expected)
}

// Normalize lowercases the text, drops everything that is not a letter,
// digit or space, and collapses runs of whitespace.
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
