package middleware

import (
	"errors"
	"unicode/utf8"
)

// ValidateSessionID validates an agent session ID.
func ValidateSessionID(id string) error {
	if len(id) == 0 {
		return errors.New("session ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("session ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("session ID must be valid UTF-8")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	for _, r := range id {
		if r == '.' || r == '*' || r == '>' {
			return errors.New("tenant ID contains reserved characters")
		}
	}
	return nil
}

// ValidateURL bounds the page URL carried on telemetry batches.
func ValidateURL(url string) error {
	if len(url) > 2048 {
		return errors.New("url exceeds maximum length")
	}
	if !utf8.ValidString(url) {
		return errors.New("url must be valid UTF-8")
	}
	return nil
}
