package passport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/immutable/go-passport/internal/utils"
	"github.com/immutable/go-passport/messaging"
)

// Environment selects the Immutable domains a client talks to.
type Environment string

const (
	Production Environment = "production"
	Sandbox    Environment = "sandbox"
)

// LogoutMode selects how the IdP session is ended.
type LogoutMode string

const (
	// LogoutModeRedirect opens the end-session URL in the browser.
	LogoutModeRedirect LogoutMode = "redirect"
	// LogoutModeSilent requests the end-session URL in the background and waits
	// for the logout redirect URI to report completion.
	LogoutModeSilent LogoutMode = "silent"
)

const (
	DefaultAuthenticationDomain = "https://auth.immutable.com"
	ProductionPassportDomain    = "https://passport.immutable.com"
	SandboxPassportDomain       = "https://passport.sandbox.immutable.com"
	DefaultAudience             = "platform_api"
	DefaultScope                = "openid offline_access email transact"
)

// Overrides replace the domains derived from the environment.
type Overrides struct {
	AuthenticationDomain string `yaml:"authentication_domain" validate:"omitempty,url"`
	PassportDomain       string `yaml:"passport_domain" validate:"omitempty,url"`
}

// Config is the client configuration of a Passport instance.
type Config struct {
	// ClientID also names the storage namespace, so it cannot contain the
	// namespace separator.
	ClientID          string      `yaml:"client_id" validate:"required,excludes=:"`
	RedirectURI       string      `yaml:"redirect_uri" validate:"required,url"`
	LogoutRedirectURI string      `yaml:"logout_redirect_uri" validate:"omitempty,url"`
	LogoutMode        LogoutMode  `yaml:"logout_mode" validate:"omitempty,oneof=redirect silent"`
	Audience          string      `yaml:"audience"`
	Scope             string      `yaml:"scope"`
	Environment       Environment `yaml:"environment" validate:"omitempty,oneof=production sandbox"`
	Overrides         Overrides   `yaml:"overrides"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// withDefaults fills in the optional fields.
func (c Config) withDefaults() Config {
	if c.Environment == "" {
		c.Environment = Sandbox
	}
	if c.LogoutMode == "" {
		c.LogoutMode = LogoutModeRedirect
	}
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if strings.TrimSpace(c.Scope) == "" {
		c.Scope = DefaultScope
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}
	if !utils.ContainsString(utils.ScopeList(c.Scope), "openid") {
		return errors.New("scope must include openid")
	}

	redirectOrigin, err := messaging.Origin(c.RedirectURI)
	if err != nil {
		return fmt.Errorf("redirect uri: %w", err)
	}
	if c.LogoutMode == LogoutModeSilent {
		if c.LogoutRedirectURI == "" {
			return errors.New("silent logout requires a logout redirect uri")
		}
		logoutOrigin, err := messaging.Origin(c.LogoutRedirectURI)
		if err != nil {
			return fmt.Errorf("logout redirect uri: %w", err)
		}
		if logoutOrigin != redirectOrigin {
			return errors.New("silent logout requires the logout redirect uri on the redirect uri origin")
		}
		if path(c.LogoutRedirectURI) == path(c.RedirectURI) {
			return errors.New("logout redirect uri must differ from the redirect uri")
		}
	}
	return nil
}

// AuthenticationDomain is the IdP base URL.
func (c Config) AuthenticationDomain() string {
	if c.Overrides.AuthenticationDomain != "" {
		return strings.TrimRight(c.Overrides.AuthenticationDomain, "/")
	}
	return DefaultAuthenticationDomain
}

// PassportDomain hosts the confirmation screens.
func (c Config) PassportDomain() string {
	if c.Overrides.PassportDomain != "" {
		return strings.TrimRight(c.Overrides.PassportDomain, "/")
	}
	if c.Environment == Production {
		return ProductionPassportDomain
	}
	return SandboxPassportDomain
}

func path(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
