package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type serverConfig struct {
	HTTPAddr    string
	Production  bool
	LogLevel    string
	AppPrefix   string
	BackendURL  string
	FrontendURL string

	AccessToken   string
	WebhookSecret string
	APIBase       string

	StripeAPIKey        string
	StripeWebhookSecret string

	Store            string
	PostgresDSN      string
	RedisAddr        string
	FirestoreProject string

	ReconcileTimeout time.Duration
	ShutdownTimeout  time.Duration
}

// loadConfig reads the process environment, after merging an optional .env
// file. Variables already set in the environment win over the file.
func loadConfig() (*serverConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &serverConfig{
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		Production:          strings.EqualFold(getenv("APP_ENV", "development"), "production"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		AppPrefix:           getenv("APP_PREFIX", "upgrade"),
		BackendURL:          os.Getenv("BACKEND_URL"),
		FrontendURL:         os.Getenv("FRONTEND_URL"),
		AccessToken:         os.Getenv("ACCESS_TOKEN"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		APIBase:             os.Getenv("API_BASE"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Store:               strings.ToLower(getenv("STORE", "memory")),
		PostgresDSN:         os.Getenv("POSTGRES_DSN"),
		RedisAddr:           getenv("REDIS_ADDR", "localhost:6379"),
		FirestoreProject:    os.Getenv("FIRESTORE_PROJECT"),
		ShutdownTimeout:     15 * time.Second,
	}

	if raw := os.Getenv("RECONCILE_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONCILE_TIMEOUT %q: %w", raw, err)
		}
		cfg.ReconcileTimeout = d
	}

	return cfg, cfg.validate()
}

func (c *serverConfig) validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("ACCESS_TOKEN is required")
	}
	if c.Production && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when APP_ENV=production")
	}
	switch c.Store {
	case "memory":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for STORE=postgres")
		}
	case "redis":
	case "firestore":
		if c.FirestoreProject == "" {
			return fmt.Errorf("FIRESTORE_PROJECT is required for STORE=firestore")
		}
	default:
		return fmt.Errorf("unknown STORE %q (memory, postgres, redis, firestore)", c.Store)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
