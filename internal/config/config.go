package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config collects everything read from the environment. Operational knobs
// (bind address, worker count, poll interval) stay as flags in main.
type Config struct {
	GitHubAppID         string
	GitHubPrivateKeyPEM []byte
	GitHubWebhookSecret string
	GitHubAPIBase       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AppJWTExpiry     time.Duration
	TokenCacheMargin time.Duration
	DeliveryTTL      time.Duration
}

// Load reads configuration from environment variables. The webhook pipeline
// cannot run without the GitHub App identity, so those three are required.
func Load() (Config, error) {
	cfg := Config{
		GitHubAppID:         os.Getenv("GITHUB_APP_ID"),
		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		GitHubAPIBase:       envDefault("GITHUB_API_BASE", "https://api.github.com"),
		RedisAddr:           envDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		AppJWTExpiry:        10 * time.Minute,
		TokenCacheMargin:    5 * time.Minute,
		DeliveryTTL:         time.Hour,
	}

	// Private keys handed through env often arrive with literal \n.
	if pem := os.Getenv("GITHUB_PRIVATE_KEY"); pem != "" {
		cfg.GitHubPrivateKeyPEM = []byte(strings.ReplaceAll(pem, `\n`, "\n"))
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.RedisDB = n
	}
	if v := os.Getenv("WEBHOOK_DELIVERY_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid WEBHOOK_DELIVERY_TTL_SECONDS %q: %w", v, err)
		}
		cfg.DeliveryTTL = time.Duration(n) * time.Second
	}

	if cfg.GitHubAppID == "" || len(cfg.GitHubPrivateKeyPEM) == 0 || cfg.GitHubWebhookSecret == "" {
		return Config{}, fmt.Errorf("GITHUB_APP_ID, GITHUB_PRIVATE_KEY and GITHUB_WEBHOOK_SECRET are required")
	}
	return cfg, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
