package memory

import (
	"strings"
	"unicode"
)

// Fingerprint reduces a question to the form used for near-duplicate
// detection: lower-cased, punctuation replaced by spaces, whitespace
// collapsed.
func Fingerprint(question string) string {
	var b strings.Builder
	b.Grow(len(question))
	space := true
	for _, r := range strings.ToLower(question) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}
