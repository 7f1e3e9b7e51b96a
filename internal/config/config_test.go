// internal/config/config_test.go
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valpere/ScholarNav/internal/utils"
)

func TestLoadFromBytes(t *testing.T) {
	configYAML := `
request_timeout: 7s
max_retries: 3
jitter:
  min: 500ms
  max: 1s
premium_paths: ["/citations", "/scholar_lookup"]
captcha:
  max_wait: 2m
  headless: true
primary:
  mode: paid_api
  paid_api:
    api_key: "abc"
    country_code: us
    premium: true
secondary:
  mode: rotating_pool
`

	cfg, err := LoadFromBytes([]byte(configYAML))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}

	if cfg.RequestTimeout != 7*time.Second {
		t.Errorf("expected request_timeout 7s, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.Jitter.Min != 500*time.Millisecond || cfg.Jitter.Max != time.Second {
		t.Errorf("unexpected jitter %+v", cfg.Jitter)
	}
	if cfg.Captcha.MaxWait != 2*time.Minute || !cfg.Captcha.Headless {
		t.Errorf("unexpected captcha config %+v", cfg.Captcha)
	}
	if cfg.Captcha.PollInterval != DefaultCaptchaPollInterval {
		t.Errorf("expected default poll interval, got %v", cfg.Captcha.PollInterval)
	}
	if cfg.Primary.PaidAPI.CountryCode != "us" || !cfg.Primary.PaidAPI.Premium {
		t.Errorf("unexpected paid api config %+v", cfg.Primary.PaidAPI)
	}
	if cfg.Secondary.RotatingPool == nil {
		t.Fatal("expected rotating pool defaults to be applied")
	}
	if cfg.Secondary.RotatingPool.ValidationTimeout != DefaultValidationTimeout {
		t.Errorf("expected validation timeout %v, got %v", DefaultValidationTimeout, cfg.Secondary.RotatingPool.ValidationTimeout)
	}
	if cfg.Secondary.RotatingPool.PoolRefreshWaitTime != DefaultPoolRefreshWait {
		t.Errorf("expected refresh wait %v, got %v", DefaultPoolRefreshWait, cfg.Secondary.RotatingPool.PoolRefreshWaitTime)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("expected 5s baseline, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.MaxRetries)
	}
	if cfg.Jitter.Min != time.Second || cfg.Jitter.Max != 2*time.Second {
		t.Errorf("unexpected jitter %+v", cfg.Jitter)
	}
	if cfg.Primary.Mode != ModeNone || cfg.Secondary.Mode != ModeNone {
		t.Errorf("expected both pools direct, got %q/%q", cfg.Primary.Mode, cfg.Secondary.Mode)
	}
	if cfg.CheckURL != DefaultCheckURL {
		t.Errorf("unexpected check url %q", cfg.CheckURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("SCHOLARNAV_TEST_KEY", "from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
primary:
  mode: paid_api
  paid_api:
    api_key: "${SCHOLARNAV_TEST_KEY}"
secondary:
  mode: single_proxy
  single_proxy:
    http: "10.0.0.1:8080"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Primary.PaidAPI.APIKey != "from-env" {
		t.Errorf("expected env expansion, got %q", cfg.Primary.PaidAPI.APIKey)
	}
	if cfg.Secondary.SingleProxy.HTTPS != "10.0.0.1:8080" {
		t.Errorf("expected https to default to http, got %q", cfg.Secondary.SingleProxy.HTTPS)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !utils.IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown mode",
			yaml:    "primary:\n  mode: carrier_pigeon\n",
			wantErr: "carrier_pigeon",
		},
		{
			name:    "single proxy without address",
			yaml:    "secondary:\n  mode: single_proxy\n",
			wantErr: "secondary.single_proxy.http",
		},
		{
			name:    "paid api without key",
			yaml:    "primary:\n  mode: paid_api\n  paid_api:\n    country_code: us\n",
			wantErr: "primary.paid_api.api_key",
		},
		{
			name:    "inverted jitter",
			yaml:    "jitter:\n  min: 3s\n  max: 1s\n",
			wantErr: "jitter.max",
		},
		{
			name:    "bad tor port",
			yaml:    "secondary:\n  mode: anonymity_network\n  anonymity_network:\n    socks_port: 70000\n",
			wantErr: "ports",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, utils.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error to mention %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFromBytesSyntaxError(t *testing.T) {
	_, err := LoadFromBytes([]byte("request_timeout: [unterminated"))
	if err == nil {
		t.Fatal("expected syntax error")
	}
	if !utils.IsConfigurationError(err) {
		t.Errorf("expected configuration-class error, got %v", err)
	}
}

func TestIsPremiumURL(t *testing.T) {
	cfg := Default()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://scholar.google.com/citations?user=abc", true},
		{"https://scholar.google.com/scholar?q=graph", false},
		{"::not a url", false},
	}

	for _, tt := range tests {
		if got := cfg.IsPremiumURL(tt.url); got != tt.want {
			t.Errorf("IsPremiumURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
