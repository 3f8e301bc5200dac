package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ErrValidationFailed = errors.New("validation failed")

const (
	DefaultMaxStringLength = 255
	MaxTradeIDLength       = 128
	MaxSourceLength        = 32
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks the UTF-8 character count of s.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidateCurrencyCode accepts upper-case asset tickers such as EUR, USDT or BTC.
func ValidateCurrencyCode(code, fieldName string) error {
	if !currencyCodePattern.MatchString(code) {
		return fmt.Errorf("%w: %s (%q) is not a currency code", ErrValidationFailed, fieldName, code)
	}
	return nil
}
