// Package config loads the configuration of the passport command from a YAML
// file, a .env file and PASSPORT_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/immutable/go-passport/passport"
	"github.com/immutable/go-passport/storage"
	"github.com/immutable/go-passport/storage/file"
	"github.com/immutable/go-passport/storage/keyring"
	"github.com/immutable/go-passport/storage/memory"
	"github.com/immutable/go-passport/storage/redis"
)

// Storage driver names.
const (
	DriverMemory  = "memory"
	DriverFile    = "file"
	DriverKeyring = "keyring"
	DriverRedis   = "redis"
)

const defaultKeyringService = "immutable-passport"

type Config struct {
	Passport passport.Config `yaml:"passport"`
	Storage  Storage         `yaml:"storage"`
	LogLevel string          `yaml:"log_level"`
	Env      string          `yaml:"env"`
}

// Storage selects where sessions are kept between runs.
type Storage struct {
	Driver         string `yaml:"driver"`
	Path           string `yaml:"path"`
	RedisURL       string `yaml:"redis_url"`
	KeyringService string `yaml:"keyring_service"`
}

// Load reads path (optional), then dotenv (optional), then the environment.
// A missing .env file is not an error, a missing config file named by the caller is.
func Load(path, dotenv string) (*Config, error) {
	c := &Config{
		Storage:  Storage{Driver: DriverFile},
		LogLevel: zerolog.LevelInfoValue,
		Env:      "DEV",
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	c.applyEnv()
	return c, nil
}

// Level is the parsed log level, info when unset or unknown.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// IsDev reports whether logs should be written for a terminal.
func (c *Config) IsDev() bool {
	return c.Env == "DEV"
}

// OpenDriver builds the configured storage driver. The returned close
// function releases its connections.
func (s Storage) OpenDriver() (storage.Driver, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(s.Driver) {
	case "", DriverFile:
		path := s.Path
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, nil, fmt.Errorf("locate config dir: %w", err)
			}
			path = filepath.Join(dir, "passport", "sessions.json")
		}
		d, err := file.New(path)
		if err != nil {
			return nil, nil, err
		}
		return d, noop, nil
	case DriverMemory:
		return memory.New(), noop, nil
	case DriverKeyring:
		service := s.KeyringService
		if service == "" {
			service = defaultKeyringService
		}
		return keyring.New(service), noop, nil
	case DriverRedis:
		if s.RedisURL == "" {
			return nil, nil, errors.New("redis storage requires redis_url")
		}
		d, err := redis.NewFromURL(s.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", s.Driver)
}
