// Package config handles configuration loading and validation for repolens.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/repolens/internal/logging"
)

// Config holds the application configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	BaseURL  string `yaml:"base_url"` // public URL used to build OAuth callbacks
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	GitHub    OAuthApp      `yaml:"github"`
	Bitbucket OAuthApp      `yaml:"bitbucket"`
	Review    ReviewConfig  `yaml:"review"`
	Display   DisplayConfig `yaml:"display"`
	Local     LocalConfig   `yaml:"local"`
	Session   SessionConfig `yaml:"session"`
}

// OAuthApp holds the client credentials and API location of a git host.
type OAuthApp struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	APIURL       string `yaml:"api_url"`
}

// Configured reports whether OAuth login is possible for the app.
func (a OAuthApp) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

// ReviewConfig locates the external review backend.
type ReviewConfig struct {
	BaseURL       string        `yaml:"base_url"`    // stored reviews and local review
	WebhookURL    string        `yaml:"webhook_url"` // repository review trigger
	Timeout       time.Duration `yaml:"timeout"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`
}

// DisplayConfig controls how reviews are rendered.
type DisplayConfig struct {
	InsightLimit int      `yaml:"insight_limit"` // per bucket, 0 shows all
	Style        string   `yaml:"style"`         // chroma style
	Exclude      []string `yaml:"exclude"`       // tree globs hidden from listings
}

// LocalConfig bounds guest uploads.
type LocalConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"`
	MaxFiles    int   `yaml:"max_files"`
}

// SessionConfig controls the login session cookie.
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
	Secure     bool          `yaml:"secure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:   "127.0.0.1:3000",
		BaseURL:  "http://127.0.0.1:3000",
		LogLevel: "info",
		GitHub: OAuthApp{
			APIURL: "https://api.github.com/",
		},
		Bitbucket: OAuthApp{
			APIURL: "https://api.bitbucket.org/2.0/",
		},
		Review: ReviewConfig{
			BaseURL:       "http://127.0.0.1:8000",
			Timeout:       2 * time.Minute,
			RatePerMinute: 30,
			Burst:         5,
		},
		Display: DisplayConfig{
			InsightLimit: 4,
			Style:        "dracula",
			Exclude:      []string{"node_modules/**", ".git/**"},
		},
		Local: LocalConfig{
			MaxFileSize: 200 * 1024,
			MaxFiles:    5,
		},
		Session: SessionConfig{
			CookieName: "repolens_session",
			TTL:        24 * time.Hour,
		},
	}
}

// envOverrides maps environment variables onto config fields.
var envOverrides = map[string]func(*Config, string){
	"GITHUB_ID":             func(c *Config, v string) { c.GitHub.ClientID = v },
	"GITHUB_SECRET":         func(c *Config, v string) { c.GitHub.ClientSecret = v },
	"AUTH_BITBUCKET_ID":     func(c *Config, v string) { c.Bitbucket.ClientID = v },
	"AUTH_BITBUCKET_SECRET": func(c *Config, v string) { c.Bitbucket.ClientSecret = v },
	"REVIEW_BASE_URL":       func(c *Config, v string) { c.Review.BaseURL = v },
	"REVIEW_WEBHOOK_URL":    func(c *Config, v string) { c.Review.WebhookURL = v },
	"REPOLENS_LISTEN":       func(c *Config, v string) { c.Listen = v },
	"REPOLENS_LOG_LEVEL":    func(c *Config, v string) { c.LogLevel = v },
	"REPOLENS_BASE_URL":     func(c *Config, v string) { c.BaseURL = v },
}

// Load reads configuration from the given path, then applies a .env file in
// the working directory and environment overrides. A missing config file is
// not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	// .env is optional; variables already set in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from non-empty environment values.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for key, set := range envOverrides {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			set(c, strings.TrimSpace(v))
		}
	}
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Review.Timeout == 0 {
		c.Review.Timeout = defaults.Review.Timeout
	}
	if c.Review.RatePerMinute == 0 {
		c.Review.RatePerMinute = defaults.Review.RatePerMinute
	}
	if c.Review.Burst == 0 {
		c.Review.Burst = defaults.Review.Burst
	}
	if c.Local.MaxFileSize == 0 {
		c.Local.MaxFileSize = defaults.Local.MaxFileSize
	}
	if c.Local.MaxFiles == 0 {
		c.Local.MaxFiles = defaults.Local.MaxFiles
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = defaults.Session.CookieName
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = defaults.Session.TTL
	}
	if c.Display.Style == "" {
		c.Display.Style = defaults.Display.Style
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen cannot be empty")
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	urls := map[string]string{
		"base_url":           c.BaseURL,
		"github.api_url":     c.GitHub.APIURL,
		"bitbucket.api_url":  c.Bitbucket.APIURL,
		"review.base_url":    c.Review.BaseURL,
		"review.webhook_url": c.Review.WebhookURL,
	}
	for name, raw := range urls {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	if c.Review.Timeout < 0 {
		return fmt.Errorf("review.timeout cannot be negative")
	}
	if c.Review.RatePerMinute < 0 || c.Review.Burst < 0 {
		return fmt.Errorf("review rate limits cannot be negative")
	}
	if c.Display.InsightLimit < 0 {
		return fmt.Errorf("display.insight_limit cannot be negative")
	}
	if c.Local.MaxFileSize < 0 || c.Local.MaxFiles < 0 {
		return fmt.Errorf("local limits cannot be negative")
	}

	return nil
}
