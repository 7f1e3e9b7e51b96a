// internal/config/types.go
package config

import "time"

// Backend mode names as they appear in configuration files.
const (
	ModeNone             = "none"
	ModeSingleProxy      = "single_proxy"
	ModeRotatingPool     = "rotating_pool"
	ModePaidAPI          = "paid_api"
	ModeAnonymityNetwork = "anonymity_network"
)

// Config is the root configuration of the fetch layer.
type Config struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	Jitter         RangeConfig   `yaml:"jitter"`
	Cooldown       RangeConfig   `yaml:"cooldown"`
	PremiumPaths   []string      `yaml:"premium_paths"`
	CheckURL       string        `yaml:"check_url"`

	Captcha   CaptchaConfig `yaml:"captcha"`
	Primary   BackendConfig `yaml:"primary"`
	Secondary BackendConfig `yaml:"secondary"`

	Tor     EmbeddedTorConfig `yaml:"tor"`
	Log     LogConfig         `yaml:"log"`
	Metrics MetricsConfig     `yaml:"metrics"`
}

// RangeConfig is a closed interval a random duration is drawn from.
type RangeConfig struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// CaptchaConfig configures the browser used to clear challenges.
type CaptchaConfig struct {
	MaxWait      time.Duration `yaml:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	LogInterval  time.Duration `yaml:"log_interval"`
	Headless     bool          `yaml:"headless"`
	ExecPath     string        `yaml:"exec_path"`
}

// BackendConfig selects and configures one proxy backend.
type BackendConfig struct {
	Mode             string                  `yaml:"mode"`
	SingleProxy      *SingleProxyConfig      `yaml:"single_proxy,omitempty"`
	RotatingPool     *RotatingPoolConfig     `yaml:"rotating_pool,omitempty"`
	PaidAPI          *PaidAPIConfig          `yaml:"paid_api,omitempty"`
	AnonymityNetwork *AnonymityNetworkConfig `yaml:"anonymity_network,omitempty"`
}

// SingleProxyConfig is one fixed proxy. HTTPS defaults to HTTP.
type SingleProxyConfig struct {
	HTTP  string `yaml:"http"`
	HTTPS string `yaml:"https,omitempty"`
}

// RotatingPoolConfig configures the free proxy pool.
type RotatingPoolConfig struct {
	ValidationTimeout   time.Duration `yaml:"validation_timeout"`
	PoolRefreshWaitTime time.Duration `yaml:"pool_refresh_wait_time"`
	SourceURL           string        `yaml:"source_url,omitempty"`
}

// PaidAPIConfig configures the paid scraping proxy service.
type PaidAPIConfig struct {
	APIKey      string `yaml:"api_key"`
	CountryCode string `yaml:"country_code,omitempty"`
	Premium     bool   `yaml:"premium,omitempty"`
	Render      bool   `yaml:"render,omitempty"`
	AccountURL  string `yaml:"account_url,omitempty"`
}

// AnonymityNetworkConfig points at a running Tor daemon.
type AnonymityNetworkConfig struct {
	Host            string `yaml:"host,omitempty"`
	SocksPort       int    `yaml:"socks_port"`
	ControlPort     int    `yaml:"control_port"`
	ControlPassword string `yaml:"control_password,omitempty"`
	CookiePath      string `yaml:"cookie_path,omitempty"`
}

// EmbeddedTorConfig starts a private Tor daemon for the secondary pool.
type EmbeddedTorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace,omitempty"`
	Listen    string `yaml:"listen,omitempty"`
}
