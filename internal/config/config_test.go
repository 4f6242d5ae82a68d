package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/immutable/go-passport/internal/config"
	"github.com/immutable/go-passport/passport"
)

const configYAML = `
passport:
  client_id: yaml-client
  redirect_uri: http://localhost:3000/callback
  logout_mode: silent
  logout_redirect_uri: http://localhost:3000/logout
  environment: production
  overrides:
    authentication_domain: https://auth.example.com
storage:
  driver: memory
log_level: debug
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("ENV", "")
	c, err := config.Load(writeFile(t, "passport.yaml", configYAML), "")
	require.NoError(t, err)

	require.Equal(t, "yaml-client", c.Passport.ClientID)
	require.Equal(t, passport.LogoutModeSilent, c.Passport.LogoutMode)
	require.Equal(t, passport.Production, c.Passport.Environment)
	require.Equal(t, "https://auth.example.com", c.Passport.Overrides.AuthenticationDomain)
	require.Equal(t, config.DriverMemory, c.Storage.Driver)
	require.Equal(t, zerolog.DebugLevel, c.Level())
	require.True(t, c.IsDev())
}

func TestLoadPrecedence(t *testing.T) {
	dotenv := writeFile(t, ".env", "PASSPORT_CLIENT_ID=dotenv-client\nPASSPORT_SCOPE=openid email\n")
	t.Setenv("PASSPORT_SCOPE", "openid offline_access")
	t.Setenv("PASSPORT_STORAGE", "keyring")
	t.Setenv("ENV", "PROD")
	// godotenv never overrides variables that are already set, so this one
	// is unset with a cleanup that undoes whatever .env loads into it
	t.Setenv("PASSPORT_CLIENT_ID", "")
	require.NoError(t, os.Unsetenv("PASSPORT_CLIENT_ID"))

	c, err := config.Load(writeFile(t, "passport.yaml", configYAML), dotenv)
	require.NoError(t, err)

	require.Equal(t, "dotenv-client", c.Passport.ClientID)
	require.Equal(t, "openid offline_access", c.Passport.Scope)
	require.Equal(t, config.DriverKeyring, c.Storage.Driver)
	require.False(t, c.IsDev())
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.ErrorContains(t, err, "read config")

	_, err = config.Load(writeFile(t, "bad.yaml", "passport: ["), "")
	require.ErrorContains(t, err, "parse config")

	// a missing .env is fine
	_, err = config.Load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
}

func TestLevelFallsBackToInfo(t *testing.T) {
	c := &config.Config{LogLevel: "chatty"}
	require.Equal(t, zerolog.InfoLevel, c.Level())
	c.LogLevel = ""
	require.Equal(t, zerolog.InfoLevel, c.Level())
}

func TestOpenDriver(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name     string
		storage  config.Storage
		wantName string
		errMsg   string
	}{
		{name: "memory", storage: config.Storage{Driver: "memory"}, wantName: "memory"},
		{name: "file", storage: config.Storage{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, wantName: "file"},
		{name: "keyring", storage: config.Storage{Driver: "keyring"}, wantName: "keyring"},
		{name: "redis", storage: config.Storage{Driver: "redis", RedisURL: "redis://" + mr.Addr()}, wantName: "redis"},
		{name: "redis without url", storage: config.Storage{Driver: "redis"}, errMsg: "requires redis_url"},
		{name: "unknown", storage: config.Storage{Driver: "floppy"}, errMsg: "unknown storage driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, closeFn, err := tt.storage.OpenDriver()
			if tt.errMsg != "" {
				require.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantName, d.Name())
			require.NoError(t, closeFn())
		})
	}
}
