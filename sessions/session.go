package sessions

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	interrors "github.com/immutable/go-passport/internal/errors"
	"github.com/immutable/go-passport/internal/utils"
)

// Session is the authenticated state of one user. It is either complete or absent.
type Session struct {
	AccessToken  string         `json:"access_token"`            // Bearer credential, short lived
	RefreshToken string         `json:"refresh_token,omitempty"` // Opaque, used for silent renewal
	IDToken      string         `json:"id_token"`                // Raw OIDC ID token
	Expiry       time.Time      `json:"expires_at"`              // Access token expiry
	Claims       map[string]any `json:"claims"`                  // Verified ID token claims
}

// New builds a Session, deriving the expiry from the tokens themselves.
// fallback is used when neither token carries an exp claim.
func New(accessToken, refreshToken, idToken string, claims map[string]any, fallback time.Time) (*Session, error) {
	s := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
		Expiry:       DeriveExpiry(accessToken, idToken, fallback),
		Claims:       claims,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the session is complete.
func (s *Session) Validate() error {
	switch {
	case s == nil:
		return interrors.ErrSessionNotFound
	case s.AccessToken == "":
		return interrors.Wrapf(interrors.ErrSessionInvalid, "missing access token")
	case s.IDToken == "":
		return interrors.Wrapf(interrors.ErrSessionInvalid, "missing id token")
	case s.Expiry.IsZero():
		return interrors.Wrapf(interrors.ErrSessionInvalid, "missing expiry")
	case s.Subject() == "":
		return interrors.Wrapf(interrors.ErrSessionInvalid, "missing subject claim")
	}
	return nil
}

// Subject returns the sub claim.
func (s *Session) Subject() string {
	return utils.StringClaim(s.Claims, "sub")
}

// Expired reports whether the access token expires within leeway of now.
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	return !now.Add(leeway).Before(s.Expiry)
}

// CanRenew reports whether a refresh token is available.
func (s *Session) CanRenew() bool {
	return s.RefreshToken != ""
}

// DeriveExpiry reads exp from the access token when it is a JWT, then from the
// ID token, and finally returns fallback.
func DeriveExpiry(accessToken, idToken string, fallback time.Time) time.Time {
	for _, raw := range []string{accessToken, idToken} {
		if exp, ok := tokenExpiry(raw); ok {
			return exp
		}
	}
	return fallback
}

// tokenExpiry reads the exp claim without verifying the signature. Access tokens
// are opaque to the client, ID tokens are verified before they get here.
func tokenExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
