package auth

import (
	"strings"

	"github.com/pkg/errors"
)

// Error is an authentication failure identified by a stable code.
type Error struct {
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

var (
	ErrEmailInUse          = &Error{Code: "auth/email-already-in-use"}
	ErrInvalidCredential   = &Error{Code: "auth/invalid-credential"}
	ErrUserNotFound        = &Error{Code: "auth/user-not-found"}
	ErrRequiresRecentLogin = &Error{Code: "auth/requires-recent-login"}
	ErrWeakPassword        = &Error{Code: "auth/weak-password"}
	ErrInvalidEmail        = &Error{Code: "auth/invalid-email"}
)

var userMessages = []struct {
	code    string
	message string
}{
	{ErrEmailInUse.Code, "This email address is already registered."},
	{ErrInvalidCredential.Code, "Email address or password is incorrect."},
	{ErrUserNotFound.Code, "No account exists for this email address."},
	{ErrRequiresRecentLogin.Code, "Please sign in again to confirm this change."},
	{ErrWeakPassword.Code, "The password must be at least 6 characters long."},
	{ErrInvalidEmail.Code, "Please enter a valid email address."},
}

const genericMessage = "Something went wrong. Please try again."

// Message maps any error carrying a known code to the text shown to the
// user. The code may appear anywhere in the error string.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	text := err.Error()
	for _, m := range userMessages {
		if strings.Contains(text, m.code) {
			return m.message
		}
	}
	return genericMessage
}
