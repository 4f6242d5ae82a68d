// Package passporterror defines the tagged errors returned by the passport facade.
// Callers branch on Type, the wrapped cause carries the detail.
package passporterror

import (
	"errors"
	"fmt"
)

// Type classifies a passport failure.
type Type string

const (
	InvalidConfiguration  Type = "INVALID_CONFIGURATION"
	AuthenticationError   Type = "AUTHENTICATION_ERROR"
	RefreshTokenError     Type = "REFRESH_TOKEN_ERROR"
	NotLoggedInError      Type = "NOT_LOGGED_IN_ERROR"
	WalletConnectionError Type = "WALLET_CONNECTION_ERROR"
	UserRegistrationError Type = "USER_REGISTRATION_ERROR"
	LogoutError           Type = "LOGOUT_ERROR"
)

// Error is a passport failure tagged with its Type.
type Error struct {
	Type Type
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New tags err with t. An err that already carries a passport Type is returned unchanged.
func New(t Type, err error) error {
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Type: t, Err: err}
}

// Newf tags a formatted message with t.
func Newf(t Type, format string, args ...any) error {
	return &Error{Type: t, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the passport Type t.
func Is(err error, t Type) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Type == t
	}
	return false
}

// TypeOf returns the passport Type carried by err, or "" when there is none.
func TypeOf(err error) Type {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ""
}
