package passport

import (
	"net/http"
	"time"

	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/immutable/go-passport/messaging"
	"github.com/immutable/go-passport/retry"
	"github.com/immutable/go-passport/storage"
	"github.com/immutable/go-passport/storage/memory"
)

const (
	DefaultLoginTimeout        = 5 * time.Minute
	DefaultSilentLogoutTimeout = 10 * time.Second
)

type options struct {
	driver              storage.Driver
	logger              zerolog.Logger
	httpClient          *http.Client
	launcher            messaging.Launcher
	opener              messaging.Opener
	loopback            bool
	retry               []retry.Option
	loginTimeout        time.Duration
	confirmationTimeout time.Duration
	silentLogoutTimeout time.Duration
	registerer          prometheus.Registerer
}

func defaultOptions() *options {
	return &options{
		driver:              memory.New(),
		logger:              log.Logger,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
		launcher:            browser.OpenURL,
		loginTimeout:        DefaultLoginTimeout,
		confirmationTimeout: messaging.DefaultConfirmationTimeout,
		silentLogoutTimeout: DefaultSilentLogoutTimeout,
	}
}

// Option configures a Passport.
type Option func(*options)

// WithStorage persists sessions in driver. Sessions live in memory by default.
func WithStorage(driver storage.Driver) Option {
	return func(o *options) {
		if driver != nil {
			o.driver = driver
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient sets the client used for IdP requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithLauncher replaces the system browser as the way URLs are shown to the user.
func WithLauncher(launch messaging.Launcher) Option {
	return func(o *options) {
		if launch != nil {
			o.launcher = launch
		}
	}
}

// WithWindowOpener replaces the websocket bridge used by confirmation screens.
func WithWindowOpener(opener messaging.Opener) Option {
	return func(o *options) {
		o.opener = opener
	}
}

// WithLoopback serves Handler on the redirect URI's host, for native apps without their own server.
func WithLoopback() Option {
	return func(o *options) {
		o.loopback = true
	}
}

// WithRetry overrides the retry budget of IdP token requests.
func WithRetry(opts ...retry.Option) Option {
	return func(o *options) {
		o.retry = append(o.retry, opts...)
	}
}

// WithLoginTimeout bounds how long Login waits for the login window.
func WithLoginTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.loginTimeout = d
		}
	}
}

// WithConfirmationTimeout bounds how long confirmation screens wait for the user.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.confirmationTimeout = d
		}
	}
}

// WithSilentLogoutTimeout bounds how long a silent logout waits for the IdP.
func WithSilentLogoutTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.silentLogoutTimeout = d
		}
	}
}

// WithMetricsRegisterer registers the instance's metrics on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
