package auth

import (
	"errors"

	"golang.org/x/oauth2"

	"github.com/immutable/go-passport/oauthmodel"
	"github.com/immutable/go-passport/retry"
)

var (
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	ErrRenewalFailed  = errors.New("token renewal failed")
	ErrNoWallet       = errors.New("no wallet registered for user")
)

// classifyTokenError marks token endpoint errors that retrying cannot fix.
func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case oauthmodel.ErrorInvalidGrant, oauthmodel.ErrorInvalidClient, oauthmodel.ErrorInvalidRequest:
			return retry.Permanent(err)
		}
	}
	return err
}
