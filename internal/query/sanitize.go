package query

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// sanitizer turns a sequence header into a safe file-name component:
// spaces become underscores and anything outside letters, digits,
// '.', '_', '-' is dropped.
var sanitizer = transform.Chain(
	runes.Map(func(r rune) rune {
		if r == ' ' {
			return '_'
		}
		return r
	}),
	runes.Remove(runes.Predicate(func(r rune) bool {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return false
		case r == '.' || r == '_' || r == '-':
			return false
		}
		return true
	})),
)

// Sanitize returns the file-safe form of a query sequence identifier.
func Sanitize(id string) string {
	out, _, err := transform.String(sanitizer, id)
	if err != nil {
		// The chain never errors; fall back to the raw id if it ever does.
		return id
	}
	return out
}
