package authkit

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("AUTHKIT_DOMAIN", "tenant.example.com")
	t.Setenv("AUTHKIT_CLIENT_ID", "cli")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "tenant.example.com", cfg.Domain)
	assert.Equal(t, "cli", cfg.ClientID)
	assert.Equal(t, "openid profile email offline_access", cfg.Scope)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, "credentials", cfg.StoreKey)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 1, cfg.RateBurst)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Log.Timestamp)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("AUTHKIT_DOMAIN", "tenant.example.com")
	t.Setenv("AUTHKIT_CLIENT_ID", "cli")
	t.Setenv("AUTHKIT_STORE", "memory")
	t.Setenv("AUTHKIT_STORE_KEY", "work")
	t.Setenv("AUTHKIT_HTTP_TIMEOUT", "5s")
	t.Setenv("AUTHKIT_RATE_LIMIT", "2.5")
	t.Setenv("AUTHKIT_LOG_LEVEL", "debug")
	t.Setenv("AUTHKIT_LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "work", cfg.StoreKey)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("AUTHKIT_DOMAIN", "")
	t.Setenv("AUTHKIT_CLIENT_ID", "")
	t.Setenv("AUTHKIT_STORE", "redis")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHKIT_DOMAIN is required")
	assert.Contains(t, err.Error(), "AUTHKIT_CLIENT_ID is required")
	assert.Contains(t, err.Error(), "AUTHKIT_STORE")

	t.Setenv("AUTHKIT_DOMAIN", "tenant.example.com")
	t.Setenv("AUTHKIT_CLIENT_ID", "cli")
	t.Setenv("AUTHKIT_STORE", "")
	t.Setenv("AUTHKIT_HTTP_TIMEOUT", "soon")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLogConfig_Validate(t *testing.T) {
	tests := []struct {
		cfg     LogConfig
		wantErr bool
	}{
		{LogConfig{}, false},
		{LogConfig{Level: "debug", Format: "json"}, false},
		{LogConfig{Level: "WARN", Format: "console"}, false},
		{LogConfig{Level: "loud"}, true},
		{LogConfig{Format: "xml"}, true},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.wantErr {
			assert.Error(t, err, "%+v", tt.cfg)
		} else {
			assert.NoError(t, err, "%+v", tt.cfg)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"component":"test"`)
	assert.NotContains(t, out, `"time"`)

	buf.Reset()
	logger = NewLogger(LogConfig{Level: "bogus", Format: "console", NoColor: true, Timestamp: true}, &buf)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	logger.Info().Msg("console line")
	assert.True(t, strings.Contains(buf.String(), "console line"))
}
