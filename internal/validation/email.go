// email.go validates and normalises the email addresses used to link anonymous reports
// to accounts.
package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minEmailLength = 3
	// maxEmailLength is the RFC 5321 path limit.
	maxEmailLength = 254
)

var emailRx = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail reports whether email has the shape local@domain.tld with no whitespace.
// RE2's \s is ASCII-only, so Unicode spaces such as U+00A0 are rejected separately.
func IsValidEmail(email string) bool {
	if email == "" || strings.IndexFunc(email, unicode.IsSpace) >= 0 {
		return false
	}
	return emailRx.MatchString(email)
}

// SanitizeEmail trims surrounding whitespace and lowercases the address.
func SanitizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailValidationError returns a user-facing message for the first problem with email
// after sanitization, or "" when it is valid.
func EmailValidationError(email string) string {
	s := SanitizeEmail(email)
	switch {
	case s == "":
		return "Email is required"
	case utf8.RuneCountInString(s) < minEmailLength:
		return "Email is too short"
	case utf8.RuneCountInString(s) > maxEmailLength:
		return "Email is too long (max 254 characters)"
	case !IsValidEmail(s):
		return "Invalid email format"
	}
	return ""
}
