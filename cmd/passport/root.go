package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/immutable/go-passport/internal/config"
	"github.com/immutable/go-passport/passport"
)

const appName = "Passport"

type rootOptions struct {
	configFile string
	envFile    string
	verbose    bool
	noBrowser  bool
	stdout     io.Writer
	stderr     io.Writer

	// newPassport is replaced in tests.
	newPassport func(cfg passport.Config, opts ...passport.Option) (*passport.Passport, error)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return newRootCmdWithOptions(&rootOptions{stdout: stdout, stderr: stderr, newPassport: passport.New})
}

func newRootCmdWithOptions(o *rootOptions) *cobra.Command {
	stdout, stderr := o.stdout, o.stderr
	cmd := &cobra.Command{
		Use:           "passport",
		Short:         "Log in to Immutable Passport from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configFile, "config", "c", "", "YAML config file")
	flags.StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&o.noBrowser, "no-browser", false, "print URLs instead of opening a browser")

	cmd.AddCommand(
		newLoginCmd(o),
		newLogoutCmd(o),
		newWhoamiCmd(o),
		newTokenCmd(o),
	)
	return cmd
}

// session is an open Passport with the resources behind it.
type session struct {
	passport *passport.Passport
	logger   zerolog.Logger
	close    func()
}

// open loads the configuration and creates the Passport. Login and logout
// pass loopback so the redirect pages are served by the command itself.
func (o *rootOptions) open(loopback bool) (*session, error) {
	cfg, err := config.Load(o.configFile, o.envFile)
	if err != nil {
		return nil, err
	}
	logger := o.logger(cfg)

	driver, closeDriver, err := cfg.Storage.OpenDriver()
	if err != nil {
		return nil, err
	}

	opts := []passport.Option{
		passport.WithStorage(driver),
		passport.WithLogger(logger),
		passport.WithLauncher(o.launcher(logger)),
	}
	if loopback {
		opts = append(opts, passport.WithLoopback())
	}
	p, err := o.newPassport(cfg.Passport, opts...)
	if err != nil {
		_ = closeDriver()
		return nil, err
	}

	return &session{
		passport: p,
		logger:   logger,
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Close(ctx); err != nil {
				logger.Warn().Err(err).Msg("closing passport failed")
			}
			if err := closeDriver(); err != nil {
				logger.Warn().Err(err).Msg("closing storage failed")
			}
		},
	}, nil
}

func (o *rootOptions) logger(cfg *config.Config) zerolog.Logger {
	level := cfg.Level()
	if o.verbose {
		level = zerolog.DebugLevel
	}
	var w io.Writer = o.stderr
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: o.stderr, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// launcher opens URLs in the system browser and falls back to printing them.
func (o *rootOptions) launcher(logger zerolog.Logger) func(string) error {
	return func(url string) error {
		if !o.noBrowser {
			err := browser.OpenURL(url)
			if err == nil {
				return nil
			}
			logger.Debug().Err(err).Msg("opening browser failed")
		}
		fmt.Fprintf(o.stderr, "Open this URL in your browser:\n\n  %s\n\n", url)
		return nil
	}
}

func displayAppname(w io.Writer, appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(w, myFigure.String())
}
