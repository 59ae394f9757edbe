package httputil

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// Validator accumulates field errors for a request body
type Validator struct {
	fields []apperrors.FieldError
}

// NewValidator creates an empty validator
func NewValidator() *Validator {
	return &Validator{}
}

// Add records a field error
func (v *Validator) Add(field, message string) {
	v.fields = append(v.fields, apperrors.FieldError{Field: field, Message: message})
}

// Check records a field error when ok is false
func (v *Validator) Check(ok bool, field, message string) {
	if !ok {
		v.Add(field, message)
	}
}

// Required checks that value is non-blank
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "is required")
		return false
	}
	return true
}

// Length checks the rune length of value against [min, max]
func (v *Validator) Length(field, value string, min, max int) {
	n := utf8.RuneCountInString(value)
	if n < min || n > max {
		v.Add(field, fmt.Sprintf("must be between %d and %d characters", min, max))
	}
}

// Email checks that value is a bare email address
func (v *Validator) Email(field, value string) {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.Add(field, "must be a valid email address")
	}
}

// Username checks length and allowed characters of a lowercased username
func (v *Validator) Username(field, value string) {
	n := utf8.RuneCountInString(value)
	if n < 3 || n > 30 {
		v.Add(field, "must be between 3 and 30 characters")
		return
	}
	if !usernamePattern.MatchString(value) {
		v.Add(field, "may only contain lowercase letters, digits, '_', '.' and '-'")
	}
}

// Password checks length and the letter+digit composition rule. The 72 byte cap
// is the bcrypt input limit.
func (v *Validator) Password(field, value string) {
	if utf8.RuneCountInString(value) < 8 || len(value) > 72 {
		v.Add(field, "must be at least 8 characters and at most 72 bytes")
		return
	}
	var hasLetter, hasDigit bool
	for _, r := range value {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		v.Add(field, "must contain at least one letter and one digit")
	}
}

// OneOf checks that value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// Date parses an RFC 3339 timestamp or YYYY-MM-DD date, recording an error on failure
func (v *Validator) Date(field string, value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, *value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	v.Add(field, "must be a date (YYYY-MM-DD or RFC 3339)")
	return nil
}

// Valid reports whether no errors were recorded
func (v *Validator) Valid() bool {
	return len(v.fields) == 0
}

// Err returns a validation error when any field failed
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}
	return apperrors.Validation("Validation failed", v.fields...)
}
