package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/panyam/authkit/client"
)

// Storage backends selectable through AUTHKIT_STORE
const (
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Config describes one tenant, one application and where its credentials live.
type Config struct {
	Domain       string `env:"AUTHKIT_DOMAIN"`
	ClientID     string `env:"AUTHKIT_CLIENT_ID"`
	ClientSecret string `env:"AUTHKIT_CLIENT_SECRET"`
	Audience     string `env:"AUTHKIT_AUDIENCE"`
	Scope        string `env:"AUTHKIT_SCOPE"            envDefault:"openid profile email offline_access"`

	Store           string `env:"AUTHKIT_STORE"            envDefault:"file"`
	StoreKey        string `env:"AUTHKIT_STORE_KEY"        envDefault:"credentials"`
	StorePath       string `env:"AUTHKIT_STORE_PATH"`
	StorePassphrase string `env:"AUTHKIT_STORE_PASSPHRASE"`

	HTTPTimeout time.Duration `env:"AUTHKIT_HTTP_TIMEOUT" envDefault:"30s"`
	RateLimit   float64       `env:"AUTHKIT_RATE_LIMIT"`
	RateBurst   int           `env:"AUTHKIT_RATE_BURST"   envDefault:"1"`

	Log LogConfig
}

// LogConfig controls the logger built by NewLogger.
type LogConfig struct {
	Level     string `env:"AUTHKIT_LOG_LEVEL"     envDefault:"info"`
	Format    string `env:"AUTHKIT_LOG_FORMAT"    envDefault:"console"`
	NoColor   bool   `env:"AUTHKIT_LOG_NO_COLOR"`
	Timestamp bool   `env:"AUTHKIT_LOG_TIMESTAMP" envDefault:"true"`
}

// LoadConfig reads a Config from AUTHKIT_* environment variables and
// validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and enumerated values.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Domain) == "" {
		errs = append(errs, errors.New("AUTHKIT_DOMAIN is required"))
	}
	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("AUTHKIT_CLIENT_ID is required"))
	}
	switch c.Store {
	case "", StoreFile, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("AUTHKIT_STORE must be %q or %q (got: %s)", StoreFile, StoreMemory, c.Store))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("AUTHKIT_HTTP_TIMEOUT must not be negative"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) storeKey() string {
	if c.StoreKey == "" {
		return client.DefaultStoreKey
	}
	return c.StoreKey
}

// Validate checks the level and format names.
func (c LogConfig) Validate() error {
	if c.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
			return fmt.Errorf("AUTHKIT_LOG_LEVEL is not a valid level (got: %s)", c.Level)
		}
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console", "pretty":
		return nil
	}
	return fmt.Errorf("AUTHKIT_LOG_FORMAT must be one of json, console (got: %s)", c.Format)
}
