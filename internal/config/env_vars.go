package config

import (
	"os"
	"strings"
)

const (
	clientIDVar          = "PASSPORT_CLIENT_ID"
	redirectURIVar       = "PASSPORT_REDIRECT_URI"
	logoutRedirectURIVar = "PASSPORT_LOGOUT_REDIRECT_URI"
	logoutModeVar        = "PASSPORT_LOGOUT_MODE"
	environmentVar       = "PASSPORT_ENVIRONMENT"
	audienceVar          = "PASSPORT_AUDIENCE"
	scopeVar             = "PASSPORT_SCOPE"
	authDomainVar        = "PASSPORT_AUTH_DOMAIN"
	passportDomainVar    = "PASSPORT_DOMAIN"

	storageDriverVar  = "PASSPORT_STORAGE"
	storagePathVar    = "PASSPORT_STORAGE_PATH"
	redisURLVar       = "PASSPORT_REDIS_URL"
	keyringServiceVar = "PASSPORT_KEYRING_SERVICE"

	logLevelVar = "PASSPORT_LOG_LEVEL"
	envVar      = "ENV"
)

// applyEnv overrides file values with any PASSPORT_* variables that are set.
func (c *Config) applyEnv() {
	override(&c.Passport.ClientID, clientIDVar)
	override(&c.Passport.RedirectURI, redirectURIVar)
	override(&c.Passport.LogoutRedirectURI, logoutRedirectURIVar)
	overrideAs(&c.Passport.LogoutMode, logoutModeVar)
	overrideAs(&c.Passport.Environment, environmentVar)
	override(&c.Passport.Audience, audienceVar)
	override(&c.Passport.Scope, scopeVar)
	override(&c.Passport.Overrides.AuthenticationDomain, authDomainVar)
	override(&c.Passport.Overrides.PassportDomain, passportDomainVar)

	override(&c.Storage.Driver, storageDriverVar)
	override(&c.Storage.Path, storagePathVar)
	override(&c.Storage.RedisURL, redisURLVar)
	override(&c.Storage.KeyringService, keyringServiceVar)

	override(&c.LogLevel, logLevelVar)
	c.Env = GetEnv(envVar, c.Env)
}

func override(field *string, envVar string) {
	*field = GetEnv(envVar, *field)
}

func overrideAs[T ~string](field *T, envVar string) {
	*field = T(GetEnv(envVar, string(*field)))
}

// GetEnv returns the trimmed value of envVar, or defaultValue when it is unset or blank.
func GetEnv(envVar, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(envVar))
	if value == "" {
		return defaultValue
	}
	return value
}
