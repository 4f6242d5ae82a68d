// Package auth runs the OIDC authorization code flow with PKCE for a public
// client and keeps the resulting session fresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/immutable/go-passport/auth/flowrepo"
	"github.com/immutable/go-passport/backgroundtask"
	interrors "github.com/immutable/go-passport/internal/errors"
	"github.com/immutable/go-passport/internal/metrics"
	"github.com/immutable/go-passport/internal/utils"
	"github.com/immutable/go-passport/oauthmodel"
	"github.com/immutable/go-passport/passporterror"
	"github.com/immutable/go-passport/retry"
	"github.com/immutable/go-passport/sessions"
	"github.com/immutable/go-passport/storage"
	"github.com/immutable/go-passport/users"
)

// IdP paths relative to the authentication domain.
const (
	pathAuthorize = "/authorize"
	pathToken     = "/oauth/token"
	pathJWKS      = "/.well-known/jwks.json"
	pathUserInfo  = "/userinfo"
	pathLogout    = "/v2/logout"
)

// LogoutStateParam carries the one-time state of a logout on the logout redirect URI.
const LogoutStateParam = "logout_state"

// Retry operation labels.
const (
	opExchange = "code_exchange"
	opRenewal  = "token_renewal"
)

// AuthorizationRequest is a prepared login: the URL to open and the state it is keyed by.
type AuthorizationRequest struct {
	URL   string
	State string
}

// Manager owns the session of one client. It is safe for concurrent use.
type Manager struct {
	cfg          Config
	oauth        *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	sessions     *sessions.Store
	flows        flowrepo.Repo
	httpClient   *http.Client
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	retryOptions []retry.Option
	now          func() time.Time
	leeway       time.Duration
	flowTTL      time.Duration

	// callbackMu serialises callbacks so a state is consumed by one of them.
	callbackMu sync.Mutex

	mu           sync.Mutex
	state        State
	session      *sessions.Session
	bootstrapped bool
	loaded       *backgroundtask.Task[*sessions.Session]
	renewal      *backgroundtask.Task[*sessions.Session]
}

// NewManager creates a Manager persisting its session and pending logins in store.
// Loading a previously stored session starts immediately in the background.
func NewManager(cfg Config, store *storage.Store, opts ...ManagerOption) (*Manager, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("[NewManager] client id is required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("[NewManager] redirect uri is required")
	}
	if cfg.AuthenticationDomain == "" {
		return nil, errors.New("[NewManager] authentication domain is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] storage is required")
	}

	cfg.AuthenticationDomain = strings.TrimRight(cfg.AuthenticationDomain, "/")
	if cfg.Issuer == "" {
		cfg.Issuer = cfg.AuthenticationDomain + "/"
	}
	if strings.TrimSpace(cfg.Scope) == "" {
		cfg.Scope = oidc.ScopeOpenID
	}

	m := &Manager{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
		metrics:    metrics.New(cfg.ClientID),
		now:        time.Now,
		leeway:     defaultExpiryLeeway,
		flowTTL:    defaultFlowTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("client_id", cfg.ClientID).Logger()
	m.sessions = sessions.NewStore(store, m.logger)
	if m.flows == nil {
		m.flows = flowrepo.NewStorageRepo(store, m.logger)
	}

	providerConfig := &oidc.ProviderConfig{
		IssuerURL:   cfg.Issuer,
		AuthURL:     cfg.AuthenticationDomain + pathAuthorize,
		TokenURL:    cfg.AuthenticationDomain + pathToken,
		UserInfoURL: cfg.AuthenticationDomain + pathUserInfo,
		JWKSURL:     cfg.AuthenticationDomain + pathJWKS,
		Algorithms:  []string{oidc.RS256},
	}
	provider := providerConfig.NewProvider(oidc.ClientContext(context.Background(), m.httpClient))
	m.verifier = provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
		Now:      func() time.Time { return m.now() },
	})

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	m.oauth = &oauth2.Config{
		ClientID:    cfg.ClientID,
		Endpoint:    endpoint,
		RedirectURL: cfg.RedirectURI,
		Scopes:      strings.Fields(cfg.Scope),
	}

	m.loaded = backgroundtask.New(context.Background(), m.loadSession)
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// State reports the current login state, once a previously stored session
// has been loaded.
func (m *Manager) State(ctx context.Context) State {
	if _, err := m.currentSession(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("state read before the stored session loaded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NewAuthorizationRequest prepares a login and remembers its PKCE verifier and nonce until the callback.
func (m *Manager) NewAuthorizationRequest(ctx context.Context, opts LoginOptions) (*AuthorizationRequest, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.New().String()
	nonce := uuid.New().String()

	params := &oauthmodel.AuthorizationParameters{
		Audience:          m.cfg.Audience,
		Prompt:            opts.Prompt,
		LoginHint:         opts.LoginHint,
		DirectLoginMethod: opts.DirectLoginMethod,
		AnonymousID:       opts.AnonymousID,
		WithoutWallet:     opts.WithoutWallet,
		ResponseMode:      opts.ResponseMode,
	}
	authOpts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	for key, value := range params.Extras() {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(key, value))
	}

	flow := &flowrepo.FlowState{
		State:        state,
		CodeVerifier: verifier,
		Nonce:        nonce,
		RedirectURI:  m.cfg.RedirectURI,
		CreatedAt:    m.now(),
	}
	if err := m.flows.Upsert(ctx, state, flow); err != nil {
		return nil, passporterror.New(passporterror.AuthenticationError, err)
	}

	m.mu.Lock()
	if m.state == LoggedOut {
		m.state = LoggingIn
	}
	m.mu.Unlock()

	m.logger.Debug().Str("state", state).Msg("authorization request created")
	return &AuthorizationRequest{
		URL:   m.oauth.AuthCodeURL(state, authOpts...),
		State: state,
	}, nil
}

// LoginCallback completes a login from the full redirect URL the IdP sent the user to.
func (m *Manager) LoginCallback(ctx context.Context, callbackURL string) (*users.User, error) {
	params, err := oauthmodel.ParseCallbackURL(callbackURL)
	if err != nil {
		return nil, passporterror.New(passporterror.AuthenticationError, err)
	}
	return m.HandleCallback(ctx, params)
}

// HandleCallback completes a login. Each state is consumed once; replaying it
// fails without contacting the IdP.
func (m *Manager) HandleCallback(ctx context.Context, params *oauthmodel.CallbackParameters) (*users.User, error) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	if params == nil || params.State == "" {
		return nil, passporterror.New(passporterror.AuthenticationError, interrors.ErrMissingState)
	}
	flow, err := m.flows.Take(ctx, params.State)
	if errors.Is(err, flowrepo.ErrNotFound) || (err == nil && flow.Logout) {
		return nil, passporterror.New(passporterror.AuthenticationError, interrors.ErrUnknownState)
	}
	if err != nil {
		return nil, passporterror.New(passporterror.AuthenticationError, err)
	}

	user, err := m.completeLogin(ctx, flow, params)
	m.metrics.Login(err)
	if err != nil {
		m.logger.Warn().Err(err).Msg("login failed")
		m.settleState()
		return nil, passporterror.New(passporterror.AuthenticationError, err)
	}
	m.logger.Info().Str("sub", user.Subject).Msg("user logged in")
	return user, nil
}

func (m *Manager) completeLogin(ctx context.Context, flow *flowrepo.FlowState, params *oauthmodel.CallbackParameters) (*users.User, error) {
	if m.now().Sub(flow.CreatedAt) > m.flowTTL {
		return nil, interrors.ErrFlowExpired
	}
	if params.Error != "" {
		return nil, fmt.Errorf("%w: %s: %s", interrors.ErrAuthorizationDenied, params.Error, params.ErrorDescription)
	}
	if params.Code == "" {
		return nil, interrors.ErrMissingCode
	}

	m.setState(ExchangingCode)
	token, err := retry.WithDelay(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		token, err := m.oauth.Exchange(m.clientContext(ctx), params.Code,
			oauth2.VerifierOption(flow.CodeVerifier),
			oauth2.SetAuthURLParam(oauthmodel.ParamRedirectURI, flow.RedirectURI),
		)
		if err != nil {
			return nil, classifyTokenError(err)
		}
		return token, nil
	}, m.retryOpts(opExchange, ErrExchangeFailed)...)
	if err != nil {
		return nil, err
	}

	session, err := m.sessionFromToken(ctx, token, flow.Nonce, "")
	if err != nil {
		return nil, err
	}
	user, err := users.FromClaims(session.Claims)
	if err != nil {
		return nil, err
	}
	m.storeSession(ctx, session)
	return user, nil
}

// Logout ends the local session and returns the IdP end-session URL. The URL
// returns to the logout redirect URI carrying a one-time state that
// VerifyLogout accepts. An empty URL comes with the error that prevented it;
// otherwise the error only reports that the stored session was not removed.
func (m *Manager) Logout(ctx context.Context) (string, error) {
	clearErr := m.ClearSession(ctx)
	endSessionURL, err := m.endSessionURL(ctx)
	if err != nil {
		return "", passporterror.New(passporterror.LogoutError, err)
	}
	return endSessionURL, clearErr
}

func (m *Manager) endSessionURL(ctx context.Context) (string, error) {
	query := url.Values{}
	query.Set(oauthmodel.ParamClientID, m.cfg.ClientID)
	if m.cfg.LogoutRedirectURI != "" {
		state := uuid.New().String()
		flow := &flowrepo.FlowState{
			State:       state,
			RedirectURI: m.cfg.LogoutRedirectURI,
			CreatedAt:   m.now(),
			Logout:      true,
		}
		if err := m.flows.Upsert(ctx, state, flow); err != nil {
			return "", err
		}
		returnTo, err := url.Parse(m.cfg.LogoutRedirectURI)
		if err != nil {
			return "", err
		}
		q := returnTo.Query()
		q.Set(LogoutStateParam, state)
		returnTo.RawQuery = q.Encode()
		query.Set("returnTo", returnTo.String())
	}
	return m.cfg.AuthenticationDomain + pathLogout + "?" + query.Encode(), nil
}

// VerifyLogout consumes the state Logout put on the logout redirect URI.
func (m *Manager) VerifyLogout(ctx context.Context, state string) error {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()

	if state == "" {
		return passporterror.New(passporterror.LogoutError, interrors.ErrMissingState)
	}
	flow, err := m.flows.Take(ctx, state)
	if errors.Is(err, flowrepo.ErrNotFound) || (err == nil && !flow.Logout) {
		return passporterror.New(passporterror.LogoutError, interrors.ErrUnknownState)
	}
	if err != nil {
		return passporterror.New(passporterror.LogoutError, err)
	}
	if m.now().Sub(flow.CreatedAt) > m.flowTTL {
		return passporterror.New(passporterror.LogoutError, interrors.ErrFlowExpired)
	}
	return nil
}

// ClearSession forgets the session in memory and in storage, including one
// stored by another process that this Manager has not loaded yet. The
// in-memory session is gone even when the storage removal fails.
func (m *Manager) ClearSession(ctx context.Context) error {
	if current, _ := m.currentSession(ctx); current != nil {
		m.metrics.Logout()
	}
	if err := m.dropSession(ctx, nil); err != nil {
		return passporterror.New(passporterror.LogoutError, err)
	}
	m.logger.Info().Msg("session cleared")
	return nil
}

// GetUser returns the logged in user, renewing the tokens first when they expired.
func (m *Manager) GetUser(ctx context.Context) (*users.User, error) {
	session, err := m.validSession(ctx)
	if err != nil {
		return nil, err
	}
	user, err := users.FromClaims(session.Claims)
	if err != nil {
		return nil, passporterror.New(passporterror.AuthenticationError, err)
	}
	return user, nil
}

// GetAccessToken returns a non-expired access token.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	session, err := m.validSession(ctx)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

// GetIDToken returns the ID token of a non-expired session.
func (m *Manager) GetIDToken(ctx context.Context) (string, error) {
	session, err := m.validSession(ctx)
	if err != nil {
		return "", err
	}
	return session.IDToken, nil
}

// RefreshAfterRegistration renews the tokens so that wallet claims added by a
// registration show up, and fails when the user still has no wallet.
func (m *Manager) RefreshAfterRegistration(ctx context.Context) (*users.User, error) {
	current, err := m.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, passporterror.New(passporterror.NotLoggedInError, interrors.ErrSessionNotFound)
	}
	session, err := m.renew(ctx, current, true)
	if err != nil {
		return nil, err
	}
	user, err := users.FromClaims(session.Claims)
	if err != nil {
		return nil, passporterror.New(passporterror.UserRegistrationError, err)
	}
	if !user.HasImxWallet() && !user.HasZkEvmWallet() {
		return nil, passporterror.New(passporterror.UserRegistrationError, ErrNoWallet)
	}
	return user, nil
}

// validSession returns the session, renewing it first when it is about to expire.
func (m *Manager) validSession(ctx context.Context) (*sessions.Session, error) {
	session, err := m.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, passporterror.New(passporterror.NotLoggedInError, interrors.ErrSessionNotFound)
	}
	if !session.Expired(m.now(), m.leeway) {
		return session, nil
	}
	return m.renew(ctx, session, false)
}

// currentSession waits for the stored session to be loaded once. A failed load
// is treated as no session and is retried by the next caller.
func (m *Manager) currentSession(ctx context.Context) (*sessions.Session, error) {
	m.mu.Lock()
	if m.bootstrapped {
		session := m.session
		m.mu.Unlock()
		return session, nil
	}
	m.mu.Unlock()

	loaded, err := m.loaded.Result(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		m.logger.Warn().Err(err).Msg("loading stored session failed")
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.bootstrapped {
		m.bootstrapped = true
		if loaded != nil {
			m.session = loaded
			m.state = LoggedIn
		}
	}
	return m.session, nil
}

func (m *Manager) loadSession(ctx context.Context) (*sessions.Session, error) {
	session, err := m.sessions.Load(ctx)
	if errors.Is(err, interrors.ErrSessionNotFound) {
		return nil, nil
	}
	return session, err
}

// renew joins the renewal in flight or starts one. Callers share its outcome,
// and the renewal outlives any single caller's context.
func (m *Manager) renew(ctx context.Context, stale *sessions.Session, force bool) (*sessions.Session, error) {
	m.mu.Lock()
	if !force && m.session != nil && m.session != stale && !m.session.Expired(m.now(), m.leeway) {
		session := m.session
		m.mu.Unlock()
		return session, nil
	}
	if m.renewal == nil || m.renewal.Status() != backgroundtask.Pending {
		from := m.session
		if from == nil {
			m.mu.Unlock()
			return nil, passporterror.New(passporterror.NotLoggedInError, interrors.ErrSessionNotFound)
		}
		m.state = Renewing
		m.renewal = backgroundtask.New(context.WithoutCancel(ctx), func(ctx context.Context) (*sessions.Session, error) {
			return m.renewSession(ctx, from)
		})
	}
	task := m.renewal
	m.mu.Unlock()

	return task.Result(ctx)
}

func (m *Manager) renewSession(ctx context.Context, from *sessions.Session) (*sessions.Session, error) {
	m.mu.Lock()
	current := m.session
	m.mu.Unlock()
	if current != from {
		if current != nil {
			return current, nil
		}
		return nil, passporterror.New(passporterror.NotLoggedInError, interrors.ErrSessionNotFound)
	}

	if !from.CanRenew() {
		m.dropSession(ctx, from)
		return nil, passporterror.New(passporterror.RefreshTokenError, interrors.ErrMissingRefreshToken)
	}

	token, err := retry.WithDelay(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		source := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: from.RefreshToken})
		token, err := source.Token()
		if err != nil {
			return nil, classifyTokenError(err)
		}
		return token, nil
	}, m.retryOpts(opRenewal, ErrRenewalFailed)...)

	var session *sessions.Session
	if err == nil {
		session, err = m.sessionFromToken(ctx, token, "", from.RefreshToken)
	}
	if err == nil {
		_, err = users.FromClaims(session.Claims)
	}
	m.metrics.Renewal(err)
	if err != nil {
		m.logger.Warn().Err(err).Msg("token renewal failed, logging out")
		m.dropSession(ctx, from)
		return nil, passporterror.New(passporterror.RefreshTokenError, err)
	}

	m.storeSession(ctx, session)
	m.logger.Debug().Time("expires_at", session.Expiry).Msg("tokens renewed")
	return session, nil
}

// sessionFromToken verifies the ID token of a token response and builds a Session.
// An empty nonce skips the nonce check, as renewed ID tokens carry none.
func (m *Manager) sessionFromToken(ctx context.Context, token *oauth2.Token, nonce, previousRefreshToken string) (*sessions.Session, error) {
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, interrors.ErrMissingIDToken
	}
	idToken, err := m.verifier.Verify(m.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interrors.ErrInvalidToken, err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, interrors.ErrNonceMismatch
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %w", interrors.ErrInvalidToken, err)
	}
	// a token issued to several audiences must name this client as its authorized party
	if len(utils.AudienceClaim(claims)) > 1 && utils.StringClaim(claims, "azp") != m.cfg.ClientID {
		return nil, fmt.Errorf("%w: authorized party %q", interrors.ErrInvalidToken, utils.StringClaim(claims, "azp"))
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}
	fallback := token.Expiry
	if fallback.IsZero() {
		fallback = m.now()
	}
	return sessions.New(token.AccessToken, refreshToken, rawIDToken, claims, fallback)
}

// storeSession makes session current. Failing to persist it only costs a login on restart.
func (m *Manager) storeSession(ctx context.Context, session *sessions.Session) {
	m.mu.Lock()
	m.session = session
	m.bootstrapped = true
	m.state = LoggedIn
	m.mu.Unlock()

	if err := m.sessions.Save(ctx, session); err != nil {
		m.logger.Warn().Err(err).Msg("session kept in memory only")
	}
}

// dropSession clears the session, unless expected is set and no longer current.
func (m *Manager) dropSession(ctx context.Context, expected *sessions.Session) error {
	m.mu.Lock()
	if expected != nil && m.session != expected {
		m.mu.Unlock()
		return nil
	}
	m.session = nil
	m.bootstrapped = true
	m.state = LoggedOut
	m.mu.Unlock()

	if err := m.sessions.Clear(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to remove stored session")
		return err
	}
	return nil
}

// settleState leaves an in-progress state after a failed login.
func (m *Manager) settleState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.state = LoggedIn
		return
	}
	m.state = LoggedOut
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *Manager) retryOpts(operation string, finalErr error) []retry.Option {
	opts := []retry.Option{
		retry.WithFinalErr(finalErr),
		retry.WithNotify(func(err error, next time.Duration) {
			m.metrics.Retry(operation)
			m.logger.Debug().Err(err).Str("operation", operation).Dur("next", next).Msg("retrying")
		}),
	}
	return append(opts, m.retryOptions...)
}
