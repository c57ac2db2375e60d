package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ValidationError rejects input before anything is stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

const minPasswordLength = 6

var (
	validate = validator.New()
	nameRe   = regexp.MustCompile(`^[\p{L} -]+$`)
)

func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 2 || n > 30 {
		return &ValidationError{Field: "name", Message: "must be between 2 and 30 characters"}
	}
	if !nameRe.MatchString(name) {
		return &ValidationError{Field: "name", Message: "may only contain letters, spaces and hyphens"}
	}
	return nil
}

func ValidateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return &ValidationError{Field: "email", Message: "is not a valid email address"}
	}
	return nil
}

func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return &ValidationError{Field: "password", Message: "must be at least 6 characters"}
	}
	return nil
}
