// Package validation holds the pure format checks for the identity fields
// the engine consumes: device ids, handles and phone numbers.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// DeviceIDPattern defines the accepted device token format:
// exactly 64 lowercase hex characters (a client-generated 256-bit token).
var DeviceIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HandlePattern defines the accepted handle format: a leading "@" followed
// by 3-32 letters, digits or underscores.
var HandlePattern = regexp.MustCompile(`^@[a-zA-Z0-9_]{3,32}$`)

// phoneDigits matches a normalized E.164 phone: "+" and 8-15 digits.
var phoneDigits = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// ValidDeviceID reports whether raw looks like a well-formed device token.
// A malformed token is not an error for callers; recognition degrades to
// the hint-based strategies instead.
func ValidDeviceID(raw string) bool {
	return DeviceIDPattern.MatchString(raw)
}

// ValidateHandle checks that handle matches the "@name" format.
func ValidateHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("handle cannot be empty")
	}
	if !HandlePattern.MatchString(handle) {
		return fmt.Errorf("handle must start with @ and contain 3-32 letters, numbers or underscores")
	}
	return nil
}

// NormalizePhone strips separators and validates the result against a
// lenient E.164 shape. Returns the normalized "+<digits>" form.
func NormalizePhone(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("phone cannot be empty")
	}

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator, drop
		default:
			return "", fmt.Errorf("phone contains invalid character %q", r)
		}
	}

	normalized := b.String()
	if !strings.HasPrefix(normalized, "+") {
		return "", fmt.Errorf("phone must include a country code prefixed with +")
	}
	if !phoneDigits.MatchString(normalized) {
		return "", fmt.Errorf("phone must contain 8-15 digits after the country code")
	}
	return normalized, nil
}

// MaskPhone hides all but the last three digits of a normalized phone.
// Used in needs-verification responses so the UI can show which number a
// code was sent to without revealing it.
func MaskPhone(phone string) string {
	const visible = 3
	if len(phone) <= visible {
		return phone
	}
	masked := []byte(phone)
	for i := 1; i < len(masked)-visible; i++ {
		masked[i] = '*'
	}
	return string(masked)
}
