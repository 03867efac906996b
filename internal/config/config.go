package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the lexclaim client.
type Config struct {
	APIBaseURL     string        `yaml:"api_url" env:"LEXCLAIM_API_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"LEXCLAIM_REQUEST_TIMEOUT"`

	SessionBackend string `yaml:"session_backend" env:"LEXCLAIM_SESSION_BACKEND"`
	SessionDir     string `yaml:"session_dir" env:"LEXCLAIM_SESSION_DIR"`
	DownloadDir    string `yaml:"download_dir" env:"LEXCLAIM_DOWNLOAD_DIR"`

	AllowAnonymous    bool   `yaml:"allow_anonymous" env:"LEXCLAIM_ALLOW_ANONYMOUS"`
	KickoffMessage    string `yaml:"kickoff_message" env:"LEXCLAIM_KICKOFF_MESSAGE"`
	GuestTokenHeader  string `yaml:"guest_token_header" env:"LEXCLAIM_GUEST_TOKEN_HEADER"`
	AnonymousHeader   string `yaml:"anonymous_header" env:"LEXCLAIM_ANONYMOUS_HEADER"`
	OAuthProviderPath string `yaml:"oauth_provider_path" env:"LEXCLAIM_OAUTH_PATH"`

	BindAddr         string        `yaml:"bind_addr" env:"APP_BIND_ADDR"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin" env:"APP_ALLOW_ANY_ORIGIN"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"APP_SHUTDOWN_TIMEOUT"`
	MetricsNamespace string        `yaml:"metrics_namespace" env:"APP_METRICS_NAMESPACE"`

	DatabaseURL         string `yaml:"database_url" env:"DATABASE_URL"`
	TranscriptRedactPII bool   `yaml:"transcript_redact_pii" env:"TRANSCRIPT_REDACT_PII"`
	// TranscriptDir holds the local archive when DatabaseURL is empty.
	// Empty keeps the archive in memory for the life of the process.
	TranscriptDir       string `yaml:"transcript_dir" env:"LEXCLAIM_TRANSCRIPT_DIR"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// DefaultConfig returns a Config with local-development defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:     "http://localhost:8000",
		RequestTimeout: 30 * time.Second,
		SessionBackend: "badger",
		SessionDir:     defaultStateDir("session"),
		DownloadDir:    ".",
		TranscriptDir:  defaultStateDir("transcript"),
		AllowAnonymous: true,
		// Opening line the backend expects before it starts analysing the issue.
		KickoffMessage:    "Начинаем анализ проблемы",
		GuestTokenHeader:  "X-Guest-Token",
		AnonymousHeader:   "X-Anonymous",
		OAuthProviderPath: "/auth/google",
		BindAddr:          "127.0.0.1:8787",
		ShutdownTimeout:   10 * time.Second,
		MetricsNamespace:  "lexclaim",
		LogLevel:          "info",
	}
}

// Load builds the config from defaults, an optional YAML file and the
// environment, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Only variables that are set override; empty values are treated as unset.
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("LEXCLAIM_API_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("LEXCLAIM_API_URL scheme must be http or https")
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("LEXCLAIM_REQUEST_TIMEOUT must be at least 1s")
	}
	switch c.SessionBackend {
	case "badger":
		if strings.TrimSpace(c.SessionDir) == "" {
			return fmt.Errorf("LEXCLAIM_SESSION_DIR is required for the badger session backend")
		}
	case "memory":
	default:
		return fmt.Errorf("LEXCLAIM_SESSION_BACKEND must be badger or memory, got %q", c.SessionBackend)
	}
	if strings.TrimSpace(c.GuestTokenHeader) == "" {
		return fmt.Errorf("LEXCLAIM_GUEST_TOKEN_HEADER must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	return nil
}

func defaultStateDir(name string) string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return filepath.Join(".lexclaim", name)
	}
	return filepath.Join(base, "lexclaim", name)
}
