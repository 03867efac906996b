package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8000" {
		t.Fatalf("APIBaseURL = %q, want %q", cfg.APIBaseURL, "http://localhost:8000")
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.SessionBackend != "badger" {
		t.Fatalf("SessionBackend = %q, want %q", cfg.SessionBackend, "badger")
	}
	if !cfg.AllowAnonymous {
		t.Fatalf("AllowAnonymous = false, want true")
	}
	if cfg.GuestTokenHeader != "X-Guest-Token" {
		t.Fatalf("GuestTokenHeader = %q, want %q", cfg.GuestTokenHeader, "X-Guest-Token")
	}
	if filepath.Base(cfg.TranscriptDir) != "transcript" {
		t.Fatalf("TranscriptDir = %q, want a persistent transcript directory", cfg.TranscriptDir)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	setCoreEnvEmpty(t)

	path := filepath.Join(t.TempDir(), "lexclaim.yaml")
	yml := "api_url: https://file.example.test/\nsession_backend: memory\nrequest_timeout: 5s\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LEXCLAIM_API_URL", "https://env.example.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != "https://env.example.test" {
		t.Fatalf("APIBaseURL = %q, want env value", cfg.APIBaseURL)
	}
	if cfg.SessionBackend != "memory" {
		t.Fatalf("SessionBackend = %q, want file value %q", cfg.SessionBackend, "memory")
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
}

func TestLoadTrimsTrailingSlash(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("LEXCLAIM_API_URL", "https://api.example.test/")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != "https://api.example.test" {
		t.Fatalf("APIBaseURL = %q, want trailing slash trimmed", cfg.APIBaseURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"LEXCLAIM_API_URL", "not a url"},
		{"LEXCLAIM_SESSION_BACKEND", "redis"},
		{"LEXCLAIM_REQUEST_TIMEOUT", "10ms"},
		{"LOG_LEVEL", "verbose"},
	}
	for _, tc := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(tc.key, tc.value)
		if _, err := Load(""); err == nil {
			t.Fatalf("Load() with %s=%q error = nil, want error", tc.key, tc.value)
		}
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"LEXCLAIM_API_URL",
		"LEXCLAIM_REQUEST_TIMEOUT",
		"LEXCLAIM_SESSION_BACKEND",
		"LEXCLAIM_SESSION_DIR",
		"LEXCLAIM_DOWNLOAD_DIR",
		"LEXCLAIM_TRANSCRIPT_DIR",
		"LEXCLAIM_ALLOW_ANONYMOUS",
		"LEXCLAIM_KICKOFF_MESSAGE",
		"LEXCLAIM_GUEST_TOKEN_HEADER",
		"LEXCLAIM_ANONYMOUS_HEADER",
		"LEXCLAIM_OAUTH_PATH",
		"APP_BIND_ADDR",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"DATABASE_URL",
		"TRANSCRIPT_REDACT_PII",
		"LOG_LEVEL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
