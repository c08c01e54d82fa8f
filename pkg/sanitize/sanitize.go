// Package sanitize normalizes user-supplied text before it is stored or
// relayed to other participants.
package sanitize

import (
	"strings"
	"unicode"
)

// Message cleans a chat message: whitespace is trimmed and control
// characters are stripped, except newlines and tabs which are kept so
// multi-line messages survive.
func Message(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Title cleans a session title or description: control characters and
// surrounding whitespace are removed and inner runs of whitespace collapse
// to a single space.
func Title(input string) string {
	return strings.Join(strings.Fields(Message(input)), " ")
}
