package auth

import (
	"regexp"
	"strings"
)

// Email shape used to classify login identifiers (stricter than RFC 5322 for practical use)
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

const maxEmailLength = 254 // RFC 5321

// IsEmail reports whether identifier has the shape of an email address.
func IsEmail(identifier string) bool {
	if len(identifier) > maxEmailLength {
		return false
	}
	return emailRegex.MatchString(identifier)
}

// NormalizeEmail normalizes an email address by lowercasing and trimming.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
