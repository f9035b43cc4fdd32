package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds everything the dispatcher binary needs beyond DATABASE_URL.
// Values come from DISPATCH_-prefixed environment variables, e.g.
// DISPATCH_HTTP_ADDR, DISPATCH_BATCH_SIZE, DISPATCH_EMAIL_BASE_URL.
type Config struct {
	HTTPAddr     string        `koanf:"http_addr"`
	BatchSize    int           `koanf:"batch_size"`
	Workers      int           `koanf:"workers"`
	PollInterval time.Duration `koanf:"poll_interval"`

	WebhookSecret string `koanf:"webhook_secret"`

	SenderID    string `koanf:"sender_id"`
	SenderEmail string `koanf:"sender_email"`

	SendTimeout time.Duration `koanf:"send_timeout"`

	EmailBaseURL    string `koanf:"email_base_url"`
	EmailAPIKey     string `koanf:"email_api_key"`
	LinkedInBaseURL string `koanf:"linkedin_base_url"`
	LinkedInAPIKey  string `koanf:"linkedin_api_key"`
	HandoffBaseURL  string `koanf:"handoff_base_url"`
}

func loadConfig() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(env.Provider("DISPATCH_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "DISPATCH_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Config{
		HTTPAddr:     ":8080",
		BatchSize:    10,
		Workers:      4,
		PollInterval: 5 * time.Second,
		SendTimeout:  30 * time.Second,
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("DISPATCH_WEBHOOK_SECRET is required")
	}
	if cfg.SenderID == "" || cfg.SenderEmail == "" {
		return Config{}, fmt.Errorf("DISPATCH_SENDER_ID and DISPATCH_SENDER_EMAIL are required")
	}
	return cfg, nil
}
