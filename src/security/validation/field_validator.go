package validation

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ErrValidationFailed wraps every field validation failure so callers can
// classify them with errors.Is.
var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	MaxAccountNameLength = 255
	MaxDescriptionLength = 1024
)

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidateFiniteAmount rejects NaN and infinite monetary amounts.
func ValidateFiniteAmount(amount float64, fieldName string) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidatePositiveRate checks that an exchange rate, when present, is a
// finite positive number.
func ValidatePositiveRate(rate *float64, fieldName string) error {
	if rate == nil {
		return nil
	}
	if err := ValidateFiniteAmount(*rate, fieldName); err != nil {
		return err
	}
	if *rate <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrValidationFailed, fieldName)
	}
	return nil
}
