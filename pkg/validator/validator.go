package validator

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/amirk1998/account-manager/pkg/errors"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
	maxEmailLength    = 255
	maxPasswordLength = 128
	strongPasswordLen = 12
)

var (
	// Username: 3-32 alphanumeric characters and underscores
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

	// Email: basic email validation
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

type Validator struct {
	strongPasswords bool
}

type Option func(*Validator)

// WithStrongPasswords requires 12+ characters with upper, lower, digit and symbol.
func WithStrongPasswords(enabled bool) Option {
	return func(v *Validator) {
		v.strongPasswords = enabled
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateUsername checks if username is valid
func (v *Validator) ValidateUsername(username string) error {
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return errors.ErrInvalidUsername
	}

	if !usernameRegex.MatchString(username) {
		return errors.ErrInvalidUsername
	}

	return nil
}

// ValidateEmail checks if email format is valid
func (v *Validator) ValidateEmail(email string) error {
	if len(email) == 0 || len(email) > maxEmailLength {
		return errors.ErrInvalidEmail
	}

	if !emailRegex.MatchString(email) {
		return errors.ErrInvalidEmail
	}

	return nil
}

// ValidatePassword checks password length and, when enabled, strength.
func (v *Validator) ValidatePassword(password string) error {
	if len(password) == 0 || len(password) > maxPasswordLength {
		return errors.ErrWeakPassword
	}

	if !v.strongPasswords {
		return nil
	}

	if len(password) < strongPasswordLen {
		return errors.ErrWeakPassword
	}

	var (
		hasUpper   = false
		hasLower   = false
		hasNumber  = false
		hasSpecial = false
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if !hasUpper || !hasLower || !hasNumber || !hasSpecial {
		return errors.ErrWeakPassword
	}

	return nil
}

// SanitizeString removes null bytes and surrounding whitespace
func (v *Validator) SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
