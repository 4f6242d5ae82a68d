package oauthmodel

import (
	"net/url"
	"strings"
)

// Authorize request parameter names.
const (
	ParamClientID            = "client_id"
	ParamRedirectURI         = "redirect_uri"
	ParamResponseType        = "response_type"
	ParamResponseMode        = "response_mode"
	ParamScope               = "scope"
	ParamAudience            = "audience"
	ParamState               = "state"
	ParamNonce               = "nonce"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamPrompt              = "prompt"
	ParamLoginHint           = "login_hint"
	ParamDirect              = "direct"
	ParamAnonymousID         = "third_party_a_id"
	ParamWithoutWallet       = "without_wallet"
)

// AuthorizationParameters holds the parameters of an /authorize request.
type AuthorizationParameters struct {
	// ClientID identifies the application requesting authorization.
	ClientID string

	// ResponseType is always "code" for this client.
	ResponseType ResponseType

	// RedirectURI is where the authorization response will be sent.
	// Must exactly match a URI registered for the client.
	RedirectURI string

	// ResponseMode controls how the authorization response is returned (query/fragment/form_post).
	ResponseMode ResponseModeType

	// Scope is the space separated list of requested scopes. Must include "openid".
	Scope string

	// Audience is the API the access token is issued for.
	Audience string

	// State is echoed back on the callback and keys the pending login flow.
	State string

	// Nonce is embedded in the ID token and compared on the callback.
	Nonce string

	// CodeChallenge is the PKCE challenge derived from the code verifier.
	CodeChallenge string

	// CodeChallengeMethod specifies how CodeChallenge was derived.
	CodeChallengeMethod CodeMethodType

	// Prompt forwards the OIDC prompt parameter, e.g. "login" or "none".
	Prompt string

	// LoginHint pre-fills the email on the IdP login page.
	LoginHint string

	// DirectLoginMethod sends the user straight to one connection.
	DirectLoginMethod DirectLoginMethod

	// AnonymousID links the login to an analytics identity.
	AnonymousID string

	// WithoutWallet skips wallet provisioning during first login.
	WithoutWallet bool
}

// ParseAuthorizationParameters reads an /authorize query.
func ParseAuthorizationParameters(q url.Values) *AuthorizationParameters {
	return &AuthorizationParameters{
		ClientID:            q.Get(ParamClientID),
		ResponseType:        ResponseType(q.Get(ParamResponseType)),
		RedirectURI:         q.Get(ParamRedirectURI),
		ResponseMode:        ResponseModeType(q.Get(ParamResponseMode)),
		Scope:               q.Get(ParamScope),
		Audience:            q.Get(ParamAudience),
		State:               q.Get(ParamState),
		Nonce:               q.Get(ParamNonce),
		CodeChallenge:       q.Get(ParamCodeChallenge),
		CodeChallengeMethod: CodeMethodType(q.Get(ParamCodeChallengeMethod)),
		Prompt:              q.Get(ParamPrompt),
		LoginHint:           q.Get(ParamLoginHint),
		DirectLoginMethod:   DirectLoginMethod(q.Get(ParamDirect)),
		AnonymousID:         q.Get(ParamAnonymousID),
		WithoutWallet:       q.Get(ParamWithoutWallet) == "true",
	}
}

// Extras returns the non-standard parameters to append to the authorize URL.
func (p *AuthorizationParameters) Extras() map[string]string {
	extras := make(map[string]string)
	if p.Audience != "" {
		extras[ParamAudience] = p.Audience
	}
	if p.Prompt != "" {
		extras[ParamPrompt] = p.Prompt
	}
	if p.LoginHint != "" {
		extras[ParamLoginHint] = p.LoginHint
	}
	if p.DirectLoginMethod != "" {
		extras[ParamDirect] = string(p.DirectLoginMethod)
	}
	if p.AnonymousID != "" {
		extras[ParamAnonymousID] = p.AnonymousID
	}
	if p.WithoutWallet {
		extras[ParamWithoutWallet] = "true"
	}
	if p.ResponseMode != "" {
		extras[ParamResponseMode] = string(p.ResponseMode)
	}
	return extras
}

// Validate checks the parameters an authorization server requires of a public PKCE client.
func (p *AuthorizationParameters) Validate(registeredRedirectURIs []string) error {
	if strings.TrimSpace(p.ClientID) == "" {
		return ErrMissingClientID
	}
	if strings.TrimSpace(p.CodeChallenge) == "" || len(p.CodeChallenge) >= 256 {
		return ErrInvalidCodeChallenge
	}
	if p.CodeChallengeMethod != CodeMethodTypeS256 {
		return ErrInvalidCodeChallengeMethod
	}
	if !redirectRegistered(p.RedirectURI, registeredRedirectURIs) {
		return ErrInvalidRedirectUri
	}
	if !responseModeValid(p.ResponseMode) {
		return ErrInvalidResponseMode
	}
	if p.ResponseType != CodeResponseType {
		return ErrInvalidResponseType
	}
	return nil
}

func responseModeValid(responseMode ResponseModeType) bool {
	if strings.TrimSpace(string(responseMode)) == "" {
		return true
	}
	switch responseMode {
	case QueryResponseMode, FormPostResponseMode, FragmentResponseMode:
		return true
	}
	return false
}

func redirectRegistered(redirectUri string, registered []string) bool {
	for _, uri := range registered {
		if redirectUri == uri {
			return true
		}
	}
	return false
}
