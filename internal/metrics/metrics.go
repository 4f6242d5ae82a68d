package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the counters of one passport instance. Each instance carries its
// client id as a constant label so several instances can share a registry.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Renewals      *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec
	Logouts       prometheus.Counter
}

// New creates unregistered metrics for clientID.
func New(clientID string) *Metrics {
	labels := prometheus.Labels{"client_id": clientID}
	return &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "passport_logins_total",
			Help:        "Completed login callbacks by result",
			ConstLabels: labels,
		}, []string{"result"}),
		Renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "passport_token_renewals_total",
			Help:        "Refresh token renewals by result",
			ConstLabels: labels,
		}, []string{"result"}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "passport_retry_attempts_total",
			Help:        "Failed attempts that were retried, by operation",
			ConstLabels: labels,
		}, []string{"operation"}),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "passport_logouts_total",
			Help:        "Local logouts",
			ConstLabels: labels,
		}),
	}
}

// Register registers the metrics on reg (or the default registerer if nil).
// When an instance with the same client id registered first, its collectors
// are adopted so both instances count into what reg exports.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	if m.Logins, err = register(reg, m.Logins); err != nil {
		return err
	}
	if m.Renewals, err = register(reg, m.Renewals); err != nil {
		return err
	}
	if m.RetryAttempts, err = register(reg, m.RetryAttempts); err != nil {
		return err
	}
	if m.Logouts, err = register(reg, m.Logouts); err != nil {
		return err
	}
	return nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// Login records a login outcome.
func (m *Metrics) Login(err error) {
	m.Logins.WithLabelValues(result(err)).Inc()
}

// Renewal records a renewal outcome.
func (m *Metrics) Renewal(err error) {
	m.Renewals.WithLabelValues(result(err)).Inc()
}

// Retry records a retried attempt of operation.
func (m *Metrics) Retry(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// Logout records a local logout.
func (m *Metrics) Logout() {
	m.Logouts.Inc()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
