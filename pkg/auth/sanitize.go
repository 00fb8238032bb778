package auth

import (
	"strings"
	"unicode"
)

// SanitizeIdentifier trims a submitted login identifier and strips control
// characters so it matches what was stored at registration.
func SanitizeIdentifier(identifier string) string {
	return strings.TrimSpace(removeControlChars(identifier))
}

// removeControlChars removes every control character, including newlines.
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
