package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:          8080,
		DatabaseURL:   "postgres://localhost/bookmarks",
		RedisAddr:     "localhost:6379",
		XAPIBaseURL:   "https://api.x.com/2",
		OAuthTokenURL: "https://api.x.com/2/oauth2/token",
		OAuthClientID: "client-id",
		PageSize:      50,
		SyncInterval:  time.Hour,
		CredentialKey: "6368616e676520746869732070617373776f726420746f206120736563726574",
		JWTSecret:     "a-sufficiently-long-secret",
		JobRetention:  30 * 24 * time.Hour,
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"page size over api limit", func(c *Config) { c.PageSize = 101 }},
		{"short credential key", func(c *Config) { c.CredentialKey = "abcd" }},
		{"non-hex credential key", func(c *Config) { c.CredentialKey = string(make([]byte, 64)) }},
		{"weak jwt secret", func(c *Config) { c.JWTSecret = "short" }},
		{"sub-minute sync interval", func(c *Config) { c.SyncInterval = time.Second }},
		{"bad token url", func(c *Config) { c.OAuthTokenURL = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bookmarks")
	t.Setenv("OAUTH_CLIENT_ID", "client-id")
	t.Setenv("CREDENTIAL_KEY", "6368616e676520746869732070617373776f726420746f206120736563726574")
	t.Setenv("JWT_SECRET", "a-sufficiently-long-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 6*time.Hour, cfg.SyncInterval)
	assert.Equal(t, "https://api.x.com/2", cfg.XAPIBaseURL)
}
