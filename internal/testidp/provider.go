// Package testidp is an in-process OpenID Connect provider for exercising the
// passport login, renewal and logout flows without network access.
package testidp

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/immutable/go-passport/internal/utils"
	"github.com/immutable/go-passport/oauthmodel"
)

// Provider routes, matching the paths the auth manager derives from its domain.
const (
	RouteAuthorize = "/authorize"
	RouteToken     = "/oauth/token"
	RouteJWKS      = "/.well-known/jwks.json"
	RouteDiscovery = "/.well-known/openid-configuration"
	RouteLogout    = "/v2/logout"
	RouteUserInfo  = "/userinfo"
)

type issuedCode struct {
	params  *oauthmodel.AuthorizationParameters
	subject string
}

type issuedRefresh struct {
	subject  string
	audience string
	scope    string
}

// Provider is a minimal OIDC authorization server backed by httptest.
type Provider struct {
	server   *httptest.Server
	signer   *signer
	clientID string
	tls      bool

	mu             sync.Mutex
	redirectURIs   []string
	users          map[string]map[string]any
	currentSubject string
	codes          map[string]issuedCode
	refreshTokens  map[string]issuedRefresh
	accessTokenTTL time.Duration
	idTokenTTL     time.Duration
	failTokens     int
	tokenDelay     time.Duration
	now            func() time.Time

	tokenCalls     atomic.Int32
	authorizeCalls atomic.Int32
	logoutCalls    atomic.Int32
}

// Option configures the provider.
type Option func(*Provider)

// WithRedirectURIs registers the redirect URIs accepted by /authorize.
func WithRedirectURIs(uris ...string) Option {
	return func(p *Provider) {
		p.redirectURIs = append(p.redirectURIs, uris...)
	}
}

// WithAccessTokenTTL sets the lifetime of issued access tokens. Negative values issue already expired tokens.
func WithAccessTokenTTL(d time.Duration) Option {
	return func(p *Provider) {
		p.accessTokenTTL = d
	}
}

// WithTLS serves the provider over https. Client trusts its certificate.
func WithTLS() Option {
	return func(p *Provider) {
		p.tls = true
	}
}

// New starts a provider for clientID. Call Close when done.
func New(clientID string, options ...Option) (*Provider, error) {
	keyPair, err := GenerateRSAKeyPair(uuid.New().String(), 2048)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		signer:         &signer{keyPair: keyPair},
		clientID:       clientID,
		users:          make(map[string]map[string]any),
		codes:          make(map[string]issuedCode),
		refreshTokens:  make(map[string]issuedRefresh),
		accessTokenTTL: time.Hour,
		idTokenTTL:     time.Hour,
		now:            time.Now,
	}
	for _, opt := range options {
		opt(p)
	}

	r := chi.NewRouter()
	r.Get(RouteAuthorize, p.authorizeHandler)
	r.Post(RouteToken, p.tokenHandler)
	r.Get(RouteJWKS, p.jwksHandler)
	r.Get(RouteDiscovery, p.discoveryHandler)
	r.Get(RouteLogout, p.logoutHandler)
	if p.tls {
		p.server = httptest.NewTLSServer(r)
	} else {
		p.server = httptest.NewServer(r)
	}
	return p, nil
}

// URL is the provider base URL, used as the authentication domain.
func (p *Provider) URL() string { return p.server.URL }

// Issuer is the iss claim of issued tokens.
func (p *Provider) Issuer() string { return p.server.URL + "/" }

// Client returns an HTTP client for talking to the provider.
func (p *Provider) Client() *http.Client { return p.server.Client() }

// Close shuts the server down.
func (p *Provider) Close() { p.server.Close() }

// SetUser registers claims for a user and makes them the one who signs in at /authorize.
func (p *Provider) SetUser(claims map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := utils.StringClaim(claims, "sub")
	p.users[sub] = maps.Clone(claims)
	p.currentSubject = sub
}

// UpdateUser replaces the claims of an existing user, e.g. after wallet registration.
func (p *Provider) UpdateUser(claims map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[utils.StringClaim(claims, "sub")] = maps.Clone(claims)
}

// SetAccessTokenTTL changes the lifetime of access tokens issued from now on.
func (p *Provider) SetAccessTokenTTL(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenTTL = d
}

// FailTokenRequests makes the next n token requests fail with server_error. Negative n fails them all.
func (p *Provider) FailTokenRequests(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTokens = n
}

// SetTokenDelay delays every token response by d.
func (p *Provider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// TokenCalls is the number of requests received by the token endpoint.
func (p *Provider) TokenCalls() int { return int(p.tokenCalls.Load()) }

// AuthorizeCalls is the number of requests received by the authorize endpoint.
func (p *Provider) AuthorizeCalls() int { return int(p.authorizeCalls.Load()) }

// LogoutCalls is the number of requests received by the logout endpoint.
func (p *Provider) LogoutCalls() int { return int(p.logoutCalls.Load()) }

// authorizeHandler signs the current user in without a UI and redirects back with a code.
func (p *Provider) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	p.authorizeCalls.Add(1)
	params := oauthmodel.ParseAuthorizationParameters(r.URL.Query())

	p.mu.Lock()
	err := params.Validate(p.redirectURIs)
	subject := p.currentSubject
	p.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if params.ClientID != p.clientID {
		http.Error(w, "unknown client", http.StatusBadRequest)
		return
	}

	callback := &oauthmodel.CallbackParameters{State: params.State}
	if subject == "" {
		callback.Error = oauthmodel.ErrorLoginRequired
		callback.ErrorDescription = "no user signed in"
	} else {
		code := uuid.New().String()
		p.mu.Lock()
		p.codes[code] = issuedCode{params: params, subject: subject}
		p.mu.Unlock()
		callback.Code = code
	}

	target := params.RedirectURI + "?" + callback.Encode()
	if params.ResponseMode == oauthmodel.FragmentResponseMode {
		target = params.RedirectURI + "#" + callback.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (p *Provider) tokenHandler(w http.ResponseWriter, r *http.Request) {
	p.tokenCalls.Add(1)

	p.mu.Lock()
	delay := p.tokenDelay
	fail := p.failTokens != 0
	if p.failTokens > 0 {
		p.failTokens--
	}
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		writeTokenError(w, http.StatusInternalServerError, oauthmodel.ErrorServerError, "injected failure")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, oauthmodel.ErrorInvalidRequest, err.Error())
		return
	}
	req, err := oauthmodel.ParseTokenRequest(r.PostForm)
	if err != nil {
		writeTokenError(w, http.StatusBadRequest, oauthmodel.ErrorInvalidRequest, err.Error())
		return
	}
	if req.ClientID != p.clientID {
		writeTokenError(w, http.StatusUnauthorized, oauthmodel.ErrorInvalidClient, "unknown client")
		return
	}

	switch req.GrantType {
	case oauthmodel.AuthorizationCodeGrant:
		p.exchangeCode(w, req)
	case oauthmodel.RefreshTokenCodeGrant:
		p.refresh(w, req)
	}
}

func (p *Provider) exchangeCode(w http.ResponseWriter, req *oauthmodel.TokenRequest) {
	p.mu.Lock()
	issued, ok := p.codes[req.Code]
	delete(p.codes, req.Code)
	p.mu.Unlock()

	if !ok {
		writeTokenError(w, http.StatusBadRequest, oauthmodel.ErrorInvalidGrant, "unknown or used code")
		return
	}
	if issued.params.RedirectURI != req.RedirectURI {
		writeTokenError(w, http.StatusBadRequest, oauthmodel.ErrorInvalidGrant, "redirect_uri mismatch")
		return
	}
	hash := sha256.Sum256([]byte(req.CodeVerifier))
	if base64.RawURLEncoding.EncodeToString(hash[:]) != issued.params.CodeChallenge {
		writeTokenError(w, http.StatusBadRequest, oauthmodel.ErrorInvalidGrant, "code_verifier mismatch")
		return
	}

	p.issueTokens(w, issued.subject, issued.params.Audience, issued.params.Scope, issued.params.Nonce)
}

func (p *Provider) refresh(w http.ResponseWriter, req *oauthmodel.TokenRequest) {
	p.mu.Lock()
	issued, ok := p.refreshTokens[req.RefreshToken]
	delete(p.refreshTokens, req.RefreshToken)
	p.mu.Unlock()

	if !ok {
		writeTokenError(w, http.StatusBadRequest, oauthmodel.ErrorInvalidGrant, "unknown refresh token")
		return
	}
	p.issueTokens(w, issued.subject, issued.audience, utils.ValueOr(req.Scope, issued.scope), "")
}

func (p *Provider) issueTokens(w http.ResponseWriter, subject, audience, scope, nonce string) {
	p.mu.Lock()
	claims := maps.Clone(p.users[subject])
	ttl := p.accessTokenTTL
	p.mu.Unlock()

	now := p.now()
	accessToken, err := p.createAccessToken(subject, audience, scope, now, ttl)
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, oauthmodel.ErrorServerError, err.Error())
		return
	}
	idToken, err := p.createIDToken(claims, nonce, now)
	if err != nil {
		writeTokenError(w, http.StatusInternalServerError, oauthmodel.ErrorServerError, err.Error())
		return
	}

	resp := oauthmodel.TokenResponse{
		AccessToken: utils.Ptr(accessToken),
		IdToken:     utils.Ptr(idToken),
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
		Scope:       scope,
	}
	if utils.ContainsString(utils.ScopeList(scope), "offline_access") {
		refreshToken := uuid.New().String()
		p.mu.Lock()
		p.refreshTokens[refreshToken] = issuedRefresh{subject: subject, audience: audience, scope: scope}
		p.mu.Unlock()
		resp.RefreshToken = utils.Ptr(refreshToken)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

func (p *Provider) jwksHandler(w http.ResponseWriter, _ *http.Request) {
	jwks, err := p.signer.JWKS()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jwks)
}

func (p *Provider) discoveryHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.URL() + RouteAuthorize,
		"token_endpoint":                        p.URL() + RouteToken,
		"jwks_uri":                              p.URL() + RouteJWKS,
		"userinfo_endpoint":                     p.URL() + RouteUserInfo,
		"end_session_endpoint":                  p.URL() + RouteLogout,
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{string(oauthmodel.CodeMethodTypeS256)},
	})
}

// logoutHandler redirects to returnTo when present.
func (p *Provider) logoutHandler(w http.ResponseWriter, r *http.Request) {
	p.logoutCalls.Add(1)

	returnTo := r.URL.Query().Get("returnTo")
	if _, err := url.Parse(returnTo); returnTo == "" || err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauthmodel.ErrorResponse{Error: code, ErrorDescription: description})
}
