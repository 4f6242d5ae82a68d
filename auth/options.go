package auth

import (
	"net/http"
	"time"

	"github.com/immutable/go-passport/auth/flowrepo"
	"github.com/immutable/go-passport/internal/metrics"
	"github.com/immutable/go-passport/oauthmodel"
	"github.com/immutable/go-passport/retry"
	"github.com/rs/zerolog"
)

const (
	defaultExpiryLeeway = 10 * time.Second
	defaultFlowTTL      = 15 * time.Minute
)

// Config is the OIDC client configuration of a Manager.
type Config struct {
	ClientID          string
	RedirectURI       string
	LogoutRedirectURI string
	Scope             string
	Audience          string
	// AuthenticationDomain is the IdP base URL; endpoints are derived from it.
	AuthenticationDomain string
	// Issuer defaults to AuthenticationDomain + "/".
	Issuer string
}

// LoginOptions tune a single authorization request.
type LoginOptions struct {
	Prompt            string
	LoginHint         string
	DirectLoginMethod oauthmodel.DirectLoginMethod
	AnonymousID       string
	WithoutWallet     bool
	ResponseMode      oauthmodel.ResponseModeType
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = nowFunc
	}
}

// WithHTTPClient sets the client used for token and JWKS requests.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRetryOptions overrides the retry budget of token requests.
func WithRetryOptions(opts ...retry.Option) ManagerOption {
	return func(m *Manager) {
		m.retryOptions = append(m.retryOptions, opts...)
	}
}

// WithMetrics records login, renewal and retry counters.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithFlowRepo replaces the storage backed pending flow repo.
func WithFlowRepo(repo flowrepo.Repo) ManagerOption {
	return func(m *Manager) {
		m.flows = repo
	}
}

// WithExpiryLeeway renews tokens this long before they expire.
func WithExpiryLeeway(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.leeway = d
	}
}

// WithFlowTTL bounds how long a login may wait for its callback.
func WithFlowTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.flowTTL = d
	}
}
