package errors

import (
	"errors"
	"fmt"
)

// Common error types shared by the passport packages
var (
	// Login flow errors
	ErrMissingState        = errors.New("missing state parameter")
	ErrMissingCode         = errors.New("missing code parameter")
	ErrUnknownState        = errors.New("unknown or already consumed state")
	ErrFlowExpired         = errors.New("pending flow expired")
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrMissingIDToken      = errors.New("no id_token in token response")
	ErrAuthorizationDenied = errors.New("authorization denied")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingRefreshToken = errors.New("no refresh token available")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInvalid  = errors.New("session invalid")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
