package oauthmodel

import (
	"net/url"

	"github.com/immutable/go-passport/internal/utils"
)

// TokenRequest holds the form parameters posted to the token endpoint.
type TokenRequest struct {
	GrantType GrantType

	// ClientID identifies the public client. No secret is sent.
	ClientID string

	// Code is the authorization code, authorization_code grant only.
	Code string

	// CodeVerifier is the PKCE verifier matching the code_challenge.
	CodeVerifier string

	// RedirectURI must repeat the value sent to /authorize.
	RedirectURI string

	// RefreshToken is used by the refresh_token grant.
	RefreshToken string

	// Scope optionally narrows a refresh.
	Scope *string
}

// ParseTokenRequest reads a token endpoint form.
func ParseTokenRequest(form url.Values) (*TokenRequest, error) {
	req := &TokenRequest{
		GrantType:    GrantType(form.Get("grant_type")),
		ClientID:     form.Get(ParamClientID),
		Code:         form.Get("code"),
		CodeVerifier: form.Get("code_verifier"),
		RedirectURI:  form.Get(ParamRedirectURI),
		RefreshToken: form.Get("refresh_token"),
	}
	if form.Has(ParamScope) {
		req.Scope = utils.Ptr(form.Get(ParamScope))
	}
	if req.ClientID == "" {
		return nil, ErrMissingClientID
	}
	switch req.GrantType {
	case AuthorizationCodeGrant, RefreshTokenCodeGrant:
		return req, nil
	}
	return nil, ErrUnsupportedGrantType
}

// TokenResponse is the token endpoint success body (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken  *string `json:"access_token,omitempty"`
	IdToken      *string `json:"id_token,omitempty"`
	TokenType    string  `json:"token_type,omitempty"`
	ExpiresIn    int     `json:"expires_in,omitempty"`
	RefreshToken *string `json:"refresh_token,omitempty"`
	Scope        string  `json:"scope,omitempty"`
}

// ErrorResponse is the token endpoint failure body (RFC 6749 section 5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
