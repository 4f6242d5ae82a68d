package passport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// loopbackServer serves the redirect pages on the redirect URI's host for
// applications that have no web server of their own.
type loopbackServer struct {
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

func startLoopback(redirectURI string, handler http.Handler, logger zerolog.Logger) (*loopbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("redirect uri: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("loopback redirect uri must use http, got %q", u.Scheme)
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
	default:
		return nil, fmt.Errorf("loopback redirect uri must point at this machine, got %q", u.Hostname())
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("listen for redirects: %w", err)
	}

	l := &loopbackServer{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}
	go func() {
		logger.Info().Str("addr", listener.Addr().String()).Msg("serving redirect pages")
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("redirect server stopped")
		}
	}()
	return l, nil
}

// Addr is the address the server listens on.
func (l *loopbackServer) Addr() string {
	return l.listener.Addr().String()
}

func (l *loopbackServer) shutdown(ctx context.Context) error {
	if err := l.server.Shutdown(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("redirect server shutdown failed")
		return err
	}
	return nil
}
