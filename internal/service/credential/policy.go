package credential

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

var commonPasswords = map[string]struct{}{
	"password": {}, "123456": {}, "qwerty": {}, "letmein": {}, "welcome": {},
	"admin": {}, "password1": {}, "12345678": {}, "123123": {}, "111111": {},
	"iloveyou": {}, "sunshine": {}, "princess": {}, "admin123": {}, "welcome1": {},
	"password123": {}, "adminadmin": {}, "qwerty123": {}, "admin1234": {},
}

// CheckStrength reports the first broken rule wrapped into apperrors.ErrPasswordPolicy
func CheckStrength(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < MinPasswordLen:
		return policyError("must be at least %d characters long", MinPasswordLen)
	case n > MaxPasswordLen:
		return policyError("must not exceed %d characters", MaxPasswordLen)
	}

	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		return policyError("is too common")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}

	switch {
	case !upper:
		return policyError("must contain at least one uppercase letter")
	case !lower:
		return policyError("must contain at least one lowercase letter")
	case !digit:
		return policyError("must contain at least one number")
	case !special:
		return policyError("must contain at least one special character")
	}

	return nil
}

func policyError(format string, args ...any) error {
	return fmt.Errorf("%w: password %s", apperrors.ErrPasswordPolicy, fmt.Sprintf(format, args...))
}
