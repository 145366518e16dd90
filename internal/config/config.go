// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds everything the service needs at startup.
type Config struct {
	Port        int    `validate:"min=1,max=65535"`
	DatabaseURL string `validate:"required"`

	RedisAddr     string `validate:"required"`
	RedisPassword string
	RedisDB       int

	// External bookmark API.
	XAPIBaseURL       string `validate:"required,url"`
	OAuthTokenURL     string `validate:"required,url"`
	OAuthClientID     string `validate:"required"`
	OAuthClientSecret string

	PageSize     int           `validate:"min=1,max=100"`
	SyncInterval time.Duration `validate:"min=1m"`

	// 64-char hex key for credential encryption at rest.
	CredentialKey string `validate:"required,len=64,hexadecimal"`
	// HMAC secret for admin bearer tokens.
	JWTSecret string `validate:"required,min=16"`

	JobRetention time.Duration `validate:"min=1h"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              envInt("PORT", 8080),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		XAPIBaseURL:       envStr("XAPI_BASE_URL", "https://api.x.com/2"),
		OAuthTokenURL:     envStr("OAUTH_TOKEN_URL", "https://api.x.com/2/oauth2/token"),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		PageSize:          envInt("SYNC_PAGE_SIZE", 50),
		SyncInterval:      envDuration("SYNC_INTERVAL", 6*time.Hour),
		CredentialKey:     os.Getenv("CREDENTIAL_KEY"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JobRetention:      envDuration("JOB_RETENTION", 30*24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			first := errs[0]
			return fmt.Errorf("config error: field %s failed %q validation", first.StructField(), first.Tag())
		}
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
