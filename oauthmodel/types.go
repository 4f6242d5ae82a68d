package oauthmodel

import "errors"

var (
	ErrInvalidCodeChallenge       = errors.New("invalid code challenge")
	ErrInvalidCodeChallengeMethod = errors.New("invalid code challenge method")
	ErrInvalidRedirectUri         = errors.New("invalid or no redirect uri")
	ErrInvalidResponseMode        = errors.New("invalid response mode")
	ErrInvalidResponseType        = errors.New("unsupported response type")
	ErrMissingClientID            = errors.New("missing client id")
	ErrUnsupportedGrantType       = errors.New("unsupported grant type")
)

// ResponseType represents the OAuth 2.0 response type.
type ResponseType string

const (
	// CodeResponseType requests an authorization code, exchanged later at the token endpoint.
	CodeResponseType ResponseType = "code"
)

// ResponseModeType denotes how the authorization response parameters are returned to the client.
type ResponseModeType string

const (
	// QueryResponseMode returns parameters in the URL query string.
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment (after #).
	FragmentResponseMode ResponseModeType = "fragment"

	// FormPostResponseMode returns parameters via an auto-submitting HTML form.
	FormPostResponseMode ResponseModeType = "form_post"
)

// CodeMethodType represents the PKCE challenge method.
type CodeMethodType string

const (
	// CodeMethodTypeS256: code_challenge = BASE64URL(SHA256(code_verifier))
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypeNone sends the verifier as the challenge. Not used by this client.
	CodeMethodTypeNone CodeMethodType = "plain"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	AuthorizationCodeGrant GrantType = "authorization_code"
	RefreshTokenCodeGrant  GrantType = "refresh_token"
)

// OAuth error codes returned by the token endpoint.
const (
	ErrorInvalidGrant   = "invalid_grant"
	ErrorInvalidRequest = "invalid_request"
	ErrorInvalidClient  = "invalid_client"
	ErrorServerError    = "server_error"
	ErrorAccessDenied   = "access_denied"
	ErrorLoginRequired  = "login_required"
)

// DirectLoginMethod skips the IdP's connection picker.
type DirectLoginMethod string

const (
	DirectLoginGoogle DirectLoginMethod = "google"
	DirectLoginApple  DirectLoginMethod = "apple"
	DirectLoginEmail  DirectLoginMethod = "email"
)
