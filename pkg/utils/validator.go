package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	controlChars  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	repeatedSpace = regexp.MustCompile(`\s{2,}`)
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// SanitizeString removes control characters, collapses runs of whitespace
// and trims the result.
func SanitizeString(s string) string {
	s = controlChars.ReplaceAllString(s, " ")
	s = repeatedSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
