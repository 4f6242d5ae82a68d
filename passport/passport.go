// Package passport is the entry point for applications: it wires the auth
// manager, token storage and window messaging of one client together.
package passport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/immutable/go-passport/auth"
	"github.com/immutable/go-passport/internal/metrics"
	"github.com/immutable/go-passport/messaging"
	"github.com/immutable/go-passport/oauthmodel"
	"github.com/immutable/go-passport/passporterror"
	"github.com/immutable/go-passport/storage"
	"github.com/immutable/go-passport/users"
)

var (
	ErrLoginTimeout         = errors.New("login window timed out")
	ErrSilentLogoutTimeout  = errors.New("silent logout timed out")
	ErrUntrustedInitiator   = errors.New("logout initiated from untrusted origin")
	ErrLoginWindowFailed    = errors.New("could not open login window")
	ErrNoWalletForSignature = errors.New("user has no wallet address")
)

// LoginOptions tune Login.
type LoginOptions struct {
	// UseCachedSession only returns a stored session and never opens a window.
	UseCachedSession bool
	// UseSilentLogin asks the IdP not to show any UI (prompt=none).
	UseSilentLogin    bool
	AnonymousID       string
	DirectLoginMethod oauthmodel.DirectLoginMethod
	Email             string
	WithoutWallet     bool
}

func (o LoginOptions) authOptions() auth.LoginOptions {
	opts := auth.LoginOptions{
		LoginHint:         o.Email,
		DirectLoginMethod: o.DirectLoginMethod,
		AnonymousID:       o.AnonymousID,
		WithoutWallet:     o.WithoutWallet,
	}
	if o.UseSilentLogin {
		opts.Prompt = "none"
	}
	return opts
}

// LogoutOptions tune Logout.
type LogoutOptions struct {
	// Mode overrides the configured logout mode.
	Mode LogoutMode
}

// loginCompletion is the payload of login_complete.
type loginCompletion struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Passport is one configured client. It is safe for concurrent use.
type Passport struct {
	cfg            Config
	authDomain     string
	passportDomain string

	auth       *auth.Manager
	store      *storage.Store
	channel    *messaging.Channel
	bridge     *messaging.Bridge
	screen     *messaging.ConfirmationScreen
	launch     messaging.Launcher
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	logins              *semaphore.Weighted
	loginTimeout        time.Duration
	silentLogoutTimeout time.Duration

	loopback  *loopbackServer
	closeOnce sync.Once
}

// New validates cfg and builds a Passport. Invalid configuration fails with INVALID_CONFIGURATION.
func New(cfg Config, opts ...Option) (*Passport, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, passporterror.New(passporterror.InvalidConfiguration, err)
	}

	logger := o.logger.With().Str("client_id", cfg.ClientID).Logger()
	store, err := storage.New(o.driver, "passport:"+cfg.ClientID)
	if err != nil {
		return nil, passporterror.New(passporterror.InvalidConfiguration, err)
	}

	mt := metrics.New(cfg.ClientID)
	if o.registerer != nil {
		if err := mt.Register(o.registerer); err != nil {
			return nil, passporterror.New(passporterror.InvalidConfiguration, pkgerrors.Wrap(err, "[passport.New] register metrics"))
		}
	}

	manager, err := auth.NewManager(auth.Config{
		ClientID:             cfg.ClientID,
		RedirectURI:          cfg.RedirectURI,
		LogoutRedirectURI:    cfg.LogoutRedirectURI,
		Scope:                cfg.Scope,
		Audience:             cfg.Audience,
		AuthenticationDomain: cfg.AuthenticationDomain(),
	}, store,
		auth.WithHTTPClient(o.httpClient),
		auth.WithLogger(logger),
		auth.WithMetrics(mt),
		auth.WithRetryOptions(o.retry...),
	)
	if err != nil {
		return nil, passporterror.New(passporterror.InvalidConfiguration, err)
	}

	redirectOrigin, err := messaging.Origin(cfg.RedirectURI)
	if err != nil {
		return nil, passporterror.New(passporterror.InvalidConfiguration, err)
	}

	bridge := messaging.NewBridge(o.launcher, messaging.WithBridgeLogger(logger))
	opener := o.opener
	if opener == nil {
		opener = bridge
	}
	screen, err := messaging.NewConfirmationScreen(opener, cfg.PassportDomain(),
		messaging.WithConfirmationTimeout(o.confirmationTimeout),
		messaging.WithConfirmationLogger(logger),
	)
	if err != nil {
		return nil, passporterror.New(passporterror.InvalidConfiguration, err)
	}

	p := &Passport{
		cfg:                 cfg,
		authDomain:          cfg.AuthenticationDomain(),
		passportDomain:      cfg.PassportDomain(),
		auth:                manager,
		store:               store,
		channel:             messaging.NewChannel(redirectOrigin),
		bridge:              bridge,
		screen:              screen,
		launch:              o.launcher,
		httpClient:          o.httpClient,
		logger:              logger,
		metrics:             mt,
		logins:              semaphore.NewWeighted(1),
		loginTimeout:        o.loginTimeout,
		silentLogoutTimeout: o.silentLogoutTimeout,
	}

	if o.loopback {
		p.loopback, err = startLoopback(cfg.RedirectURI, p.Handler(), logger)
		if err != nil {
			return nil, passporterror.New(passporterror.InvalidConfiguration, err)
		}
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Passport) Config() Config {
	return p.cfg
}

// LoopbackAddr is the address of the loopback redirect server, empty without WithLoopback.
func (p *Passport) LoopbackAddr() string {
	if p.loopback == nil {
		return ""
	}
	return p.loopback.Addr()
}

// Metrics returns the instance's counters.
func (p *Passport) Metrics() *metrics.Metrics {
	return p.metrics
}

// Login returns the cached user when there is one, otherwise opens the login
// window and waits for it to complete. Concurrent logins are serialised.
func (p *Passport) Login(ctx context.Context, opts LoginOptions) (*users.User, error) {
	if user, err := p.cachedUser(ctx); user != nil || err != nil {
		return user, err
	}
	if opts.UseCachedSession {
		return nil, passporterror.Newf(passporterror.NotLoggedInError, "no cached session")
	}

	if err := p.logins.Acquire(ctx, 1); err != nil {
		return nil, passporterror.New(passporterror.AuthenticationError, err)
	}
	defer p.logins.Release(1)

	// another login may have finished while this one waited
	if user, err := p.cachedUser(ctx); user != nil || err != nil {
		return user, err
	}
	return p.windowLogin(ctx, opts)
}

// cachedUser returns the stored user, or nil when a login is needed.
func (p *Passport) cachedUser(ctx context.Context) (*users.User, error) {
	user, err := p.auth.GetUser(ctx)
	switch {
	case err == nil:
		return user, nil
	case passporterror.Is(err, passporterror.NotLoggedInError), passporterror.Is(err, passporterror.RefreshTokenError):
		return nil, nil
	}
	return nil, err
}

func (p *Passport) windowLogin(ctx context.Context, opts LoginOptions) (*users.User, error) {
	req, err := p.auth.NewAuthorizationRequest(ctx, opts.authOptions())
	if err != nil {
		return nil, err
	}

	completed := make(chan loginCompletion, 1)
	p.channel.On(messaging.LoginComplete, func(msg messaging.Message) {
		var c loginCompletion
		if err := msg.Decode(&c); err != nil || c.State != req.State {
			return
		}
		select {
		case completed <- c:
		default:
		}
	})
	defer p.channel.Off(messaging.LoginComplete)

	if err := p.launch(req.URL); err != nil {
		return nil, passporterror.New(passporterror.AuthenticationError, fmt.Errorf("%w: %w", ErrLoginWindowFailed, err))
	}
	p.logger.Info().Str("state", req.State).Msg("waiting for login window")

	timer := time.NewTimer(p.loginTimeout)
	defer timer.Stop()

	select {
	case c := <-completed:
		if c.Error != "" {
			return nil, passporterror.New(passporterror.AuthenticationError, errors.New(c.Error))
		}
		return p.auth.GetUser(ctx)
	case <-timer.C:
		return nil, passporterror.New(passporterror.AuthenticationError, ErrLoginTimeout)
	case <-ctx.Done():
		return nil, passporterror.New(passporterror.AuthenticationError, context.Cause(ctx))
	}
}

// LoginWithRedirect prepares a login for hosts that navigate to the IdP
// themselves and returns the URL to send the user to.
func (p *Passport) LoginWithRedirect(ctx context.Context, opts LoginOptions) (string, error) {
	req, err := p.auth.NewAuthorizationRequest(ctx, opts.authOptions())
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// LoginCallback completes a login from the URL the IdP redirected to.
func (p *Passport) LoginCallback(ctx context.Context, callbackURL string) error {
	params, err := oauthmodel.ParseCallbackURL(callbackURL)
	if err != nil {
		return passporterror.New(passporterror.AuthenticationError, err)
	}
	_, err = p.completeLogin(ctx, params)
	return err
}

// completeLogin runs the callback and tells a waiting Login how it went.
func (p *Passport) completeLogin(ctx context.Context, params *oauthmodel.CallbackParameters) (*users.User, error) {
	user, err := p.auth.HandleCallback(ctx, params)
	completion := loginCompletion{State: params.State}
	if err != nil {
		completion.Error = err.Error()
	}
	p.notify(messaging.LoginComplete, completion)
	return user, err
}

// Logout clears the local session and ends the IdP session.
func (p *Passport) Logout(ctx context.Context, opts LogoutOptions) error {
	mode := opts.Mode
	if mode == "" {
		mode = p.cfg.LogoutMode
	}

	endSessionURL, err := p.auth.Logout(ctx)
	if endSessionURL == "" {
		return err
	}
	if err != nil {
		p.logger.Warn().Err(err).Msg("stored session not removed")
	}

	if mode == LogoutModeSilent {
		return p.silentLogout(ctx, endSessionURL)
	}
	if err := p.launch(endSessionURL); err != nil {
		return passporterror.New(passporterror.LogoutError, err)
	}
	return nil
}

// silentLogout requests the end-session URL without UI and waits for the
// logout redirect to report back through LogoutSilentCallback.
func (p *Passport) silentLogout(ctx context.Context, endSessionURL string) error {
	completed := make(chan struct{}, 1)
	p.channel.On(messaging.LogoutSilentComplete, func(messaging.Message) {
		select {
		case completed <- struct{}{}:
		default:
		}
	})
	defer p.channel.Off(messaging.LogoutSilentComplete)

	ctx, cancel := context.WithTimeoutCause(ctx, p.silentLogoutTimeout, ErrSilentLogoutTimeout)
	defer cancel()
	go p.requestEndSession(ctx, endSessionURL)

	select {
	case <-completed:
		return nil
	case <-ctx.Done():
		return passporterror.New(passporterror.LogoutError, context.Cause(ctx))
	}
}

func (p *Passport) requestEndSession(ctx context.Context, endSessionURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endSessionURL, nil)
	if err != nil {
		p.logger.Warn().Err(err).Msg("building end session request failed")
		return
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Msg("end session request failed")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// LogoutSilentCallback handles a logout redirect without a logout state. Only
// the authentication domain may initiate it; the session is then cleared and
// a waiting silent logout is released.
func (p *Passport) LogoutSilentCallback(ctx context.Context, initiatorOrigin string) error {
	expected, err := messaging.Origin(p.authDomain)
	if err != nil {
		return passporterror.New(passporterror.LogoutError, err)
	}
	origin, err := messaging.Origin(initiatorOrigin)
	if err != nil || origin != expected {
		p.logger.Warn().Str("origin", initiatorOrigin).Msg("silent logout from untrusted origin ignored")
		return passporterror.New(passporterror.LogoutError, fmt.Errorf("%w: %q", ErrUntrustedInitiator, initiatorOrigin))
	}
	p.completeLogout(ctx)
	return nil
}

// LogoutCallback handles the logout redirect URL that Logout sent the IdP
// back to. Its one-time logout state stands in for the initiator origin,
// which browsers and HTTP clients drop on an https to http redirect.
func (p *Passport) LogoutCallback(ctx context.Context, callbackURL string) error {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return passporterror.New(passporterror.LogoutError, err)
	}
	if err := p.auth.VerifyLogout(ctx, u.Query().Get(auth.LogoutStateParam)); err != nil {
		p.logger.Warn().Err(err).Msg("logout redirect rejected")
		return err
	}
	p.completeLogout(ctx)
	return nil
}

func (p *Passport) completeLogout(ctx context.Context) {
	if err := p.auth.ClearSession(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("stored session not removed")
	}
	p.notify(messaging.LogoutSilentComplete, nil)
}

// GetUserInfo returns the logged in user.
func (p *Passport) GetUserInfo(ctx context.Context) (*users.User, error) {
	return p.auth.GetUser(ctx)
}

// GetIDToken returns the ID token of the session.
func (p *Passport) GetIDToken(ctx context.Context) (string, error) {
	return p.auth.GetIDToken(ctx)
}

// GetAccessToken returns a valid access token, renewing it when needed.
func (p *Passport) GetAccessToken(ctx context.Context) (string, error) {
	return p.auth.GetAccessToken(ctx)
}

// RefreshAfterRegistration picks up wallet claims after the user registered.
func (p *Passport) RefreshAfterRegistration(ctx context.Context) (*users.User, error) {
	return p.auth.RefreshAfterRegistration(ctx)
}

// ConfirmTransaction asks the user to approve a transaction. The user's wallet
// address is used when req carries none.
func (p *Passport) ConfirmTransaction(ctx context.Context, req messaging.TransactionRequest) (*messaging.ConfirmationResult, error) {
	user, err := p.auth.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	if req.EtherAddress == "" {
		req.EtherAddress = walletAddress(user)
	}
	if req.EtherAddress == "" {
		return nil, passporterror.New(passporterror.WalletConnectionError, ErrNoWalletForSignature)
	}
	res, err := p.screen.ConfirmTransaction(ctx, req)
	if err != nil {
		return nil, passporterror.New(passporterror.WalletConnectionError, err)
	}
	return res, nil
}

// ConfirmMessage asks the user to sign a message.
func (p *Passport) ConfirmMessage(ctx context.Context, req messaging.MessageRequest) (*messaging.ConfirmationResult, error) {
	user, err := p.auth.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	if req.EtherAddress == "" {
		req.EtherAddress = walletAddress(user)
	}
	if req.EtherAddress == "" {
		return nil, passporterror.New(passporterror.WalletConnectionError, ErrNoWalletForSignature)
	}
	res, err := p.screen.ConfirmMessage(ctx, req)
	if err != nil {
		return nil, passporterror.New(passporterror.WalletConnectionError, err)
	}
	return res, nil
}

func walletAddress(user *users.User) string {
	switch {
	case user.HasZkEvmWallet():
		return user.ZkEvm.EthAddress
	case user.HasImxWallet():
		return user.Imx.EtherKey
	}
	return ""
}

// Close tears down the channel, open windows and the loopback server.
func (p *Passport) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.channel.Destroy()
		p.bridge.Close()
		if p.loopback != nil {
			err = p.loopback.shutdown(ctx)
		}
	})
	return err
}

// notify delivers a message to the facade channel as the redirect page would.
func (p *Passport) notify(t messaging.MessageType, data any) {
	msg, err := messaging.NewMessage(t, data)
	if err != nil {
		p.logger.Error().Err(err).Str("type", string(t)).Msg("encoding message failed")
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Str("type", string(t)).Msg("encoding message failed")
		return
	}
	p.channel.Dispatch(messaging.Event{Origin: p.channel.TargetOrigin(), Data: raw})
}
