// Package security holds the request guards of the HTTP surface: input
// validation, per-client rate limiting and the shared service key check.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"

	"github.com/sbaerlocher/tuyametrics/internal/types"
)

const (
	maxInputLength = 256
	minServiceKey  = 20
	maxServiceKey  = 512
)

var (
	ErrEmptyInput  = errors.New("input cannot be empty")
	ErrInputLength = errors.New("input too long")
	ErrControlChar = errors.New("input contains control characters")
	ErrWeakKey     = errors.New("service key too weak")
)

var serviceKeyChars = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// InputValidator checks values taken from requests and configuration.
type InputValidator struct {
	maxLength int
}

func NewInputValidator() *InputValidator {
	return &InputValidator{maxLength: maxInputLength}
}

// ValidateString rejects empty, oversized or control-character input.
func (iv *InputValidator) ValidateString(input, field string) error {
	switch {
	case input == "":
		return fmt.Errorf("%s: %w", field, ErrEmptyInput)
	case len(input) > iv.maxLength:
		return fmt.Errorf("%s: %w (%d > %d)", field, ErrInputLength, len(input), iv.maxLength)
	}
	for _, r := range input {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s: %w", field, ErrControlChar)
		}
	}
	return nil
}

// ValidateToken reports whether a service key is long enough and uses only
// URL-safe characters, so it survives copy and paste into scrape configs.
func (iv *InputValidator) ValidateToken(token string) error {
	if err := iv.ValidateString(token, "service key"); err != nil {
		return err
	}
	if len(token) < minServiceKey {
		return fmt.Errorf("%w: shorter than %d characters", ErrWeakKey, minServiceKey)
	}
	if len(token) > maxServiceKey {
		return fmt.Errorf("%w: longer than %d characters", ErrWeakKey, maxServiceKey)
	}
	if !serviceKeyChars.MatchString(token) {
		return fmt.Errorf("%w: only letters, digits and ._~- are allowed", ErrWeakKey)
	}
	return nil
}

// ValidateDeviceID checks a device identifier taken from a request path.
func (iv *InputValidator) ValidateDeviceID(id string) error {
	if err := iv.ValidateString(id, "device_id"); err != nil {
		return err
	}
	_, err := types.NewDeviceID(id)
	return err
}
