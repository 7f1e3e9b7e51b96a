// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/ScholarNav/internal/utils"
)

// Defaults applied to any field left empty.
const (
	DefaultRequestTimeout      = 5 * time.Second
	DefaultMaxRetries          = 5
	DefaultJitterMin           = 1 * time.Second
	DefaultJitterMax           = 2 * time.Second
	DefaultCooldownMin         = 60 * time.Second
	DefaultCooldownMax         = 120 * time.Second
	DefaultCheckURL            = "http://httpbin.org/ip"
	DefaultCaptchaMaxWait      = 15 * time.Minute
	DefaultCaptchaPollInterval = 1 * time.Second
	DefaultCaptchaPollTimeout  = 5 * time.Second
	DefaultCaptchaLogInterval  = 10 * time.Second
	DefaultValidationTimeout   = 1 * time.Second
	DefaultPoolRefreshWait     = 120 * time.Second
	DefaultTorSocksPort        = 9050
	DefaultTorControlPort      = 9051
	DefaultTorStartupTimeout   = 3 * time.Minute
)

// DefaultPremiumPaths are URL path prefixes routed to the primary pool.
var DefaultPremiumPaths = []string{"/citations"}

// Default returns a configuration with every default applied and both pools
// left direct.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, utils.NewError(utils.ErrCodeMissingConfig, "configuration filename cannot be empty").Build()
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeMissingConfig, "failed to read configuration file").
			WithCause(err).
			WithContext("file", filename).
			Build()
	}

	return LoadFromBytes(data)
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes. ${VAR} references are
// expanded from the environment before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, utils.NewError(utils.ErrCodeMissingConfig, "configuration data cannot be empty").Build()
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, utils.NewError(utils.ErrCodeConfigSyntax, "failed to parse YAML configuration").
			WithCause(err).
			Build()
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Jitter.Min == 0 && cfg.Jitter.Max == 0 {
		cfg.Jitter = RangeConfig{Min: DefaultJitterMin, Max: DefaultJitterMax}
	}
	if cfg.Cooldown.Min == 0 && cfg.Cooldown.Max == 0 {
		cfg.Cooldown = RangeConfig{Min: DefaultCooldownMin, Max: DefaultCooldownMax}
	}
	if cfg.PremiumPaths == nil {
		cfg.PremiumPaths = append([]string(nil), DefaultPremiumPaths...)
	}
	if cfg.CheckURL == "" {
		cfg.CheckURL = DefaultCheckURL
	}

	c := &cfg.Captcha
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultCaptchaMaxWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultCaptchaPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultCaptchaPollTimeout
	}
	if c.LogInterval <= 0 {
		c.LogInterval = DefaultCaptchaLogInterval
	}

	applyBackendDefaults(&cfg.Primary)
	applyBackendDefaults(&cfg.Secondary)

	if cfg.Tor.StartupTimeout <= 0 {
		cfg.Tor.StartupTimeout = DefaultTorStartupTimeout
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "scholarnav"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

func applyBackendDefaults(b *BackendConfig) {
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
	if b.Mode == "" {
		b.Mode = ModeNone
	}

	switch b.Mode {
	case ModeRotatingPool:
		if b.RotatingPool == nil {
			b.RotatingPool = &RotatingPoolConfig{}
		}
		if b.RotatingPool.ValidationTimeout <= 0 {
			b.RotatingPool.ValidationTimeout = DefaultValidationTimeout
		}
		if b.RotatingPool.PoolRefreshWaitTime <= 0 {
			b.RotatingPool.PoolRefreshWaitTime = DefaultPoolRefreshWait
		}
	case ModeAnonymityNetwork:
		if b.AnonymityNetwork == nil {
			b.AnonymityNetwork = &AnonymityNetworkConfig{}
		}
		if b.AnonymityNetwork.Host == "" {
			b.AnonymityNetwork.Host = "127.0.0.1"
		}
		if b.AnonymityNetwork.SocksPort == 0 {
			b.AnonymityNetwork.SocksPort = DefaultTorSocksPort
		}
		if b.AnonymityNetwork.ControlPort == 0 {
			b.AnonymityNetwork.ControlPort = DefaultTorControlPort
		}
	case ModeSingleProxy:
		if b.SingleProxy != nil && b.SingleProxy.HTTPS == "" {
			b.SingleProxy.HTTPS = b.SingleProxy.HTTP
		}
	}
}

// Validate checks the configuration for values no backend can work with.
func (c *Config) Validate() error {
	var problems []string

	if c.MaxRetries < 1 {
		problems = append(problems, "max_retries must be at least 1")
	}
	if c.Jitter.Min < 0 || c.Jitter.Max < c.Jitter.Min {
		problems = append(problems, "jitter.max must not be below jitter.min")
	}
	if c.Cooldown.Min < 0 || c.Cooldown.Max < c.Cooldown.Min {
		problems = append(problems, "cooldown.max must not be below cooldown.min")
	}
	if _, err := url.ParseRequestURI(c.CheckURL); err != nil {
		problems = append(problems, fmt.Sprintf("check_url is not a valid URL: %v", err))
	}
	if c.Captcha.PollInterval > c.Captcha.MaxWait {
		problems = append(problems, "captcha.poll_interval exceeds captcha.max_wait")
	}
	problems = append(problems, c.Primary.validate("primary")...)
	problems = append(problems, c.Secondary.validate("secondary")...)

	if len(problems) > 0 {
		return utils.NewError(utils.ErrCodeInvalidConfig, strings.Join(problems, "; ")).
			WithSeverity(utils.SeverityCritical).
			WithContext("problems", len(problems)).
			Build()
	}
	return nil
}

func (b *BackendConfig) validate(slot string) []string {
	var problems []string
	switch b.Mode {
	case ModeNone, ModeRotatingPool:
	case ModeSingleProxy:
		if b.SingleProxy == nil || b.SingleProxy.HTTP == "" {
			problems = append(problems, slot+".single_proxy.http is required")
		}
	case ModePaidAPI:
		if b.PaidAPI == nil || b.PaidAPI.APIKey == "" {
			problems = append(problems, slot+".paid_api.api_key is required")
		}
	case ModeAnonymityNetwork:
		a := b.AnonymityNetwork
		if a == nil {
			return append(problems, slot+".anonymity_network is required")
		}
		if a.SocksPort < 1 || a.SocksPort > 65535 || a.ControlPort < 1 || a.ControlPort > 65535 {
			problems = append(problems, slot+".anonymity_network ports must be in 1-65535")
		}
	default:
		problems = append(problems, fmt.Sprintf("%s.mode %q is not one of none, single_proxy, rotating_pool, paid_api, anonymity_network", slot, b.Mode))
	}
	return problems
}

// IsPremiumURL reports whether rawURL's path starts with a premium prefix.
func (c *Config) IsPremiumURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, prefix := range c.PremiumPaths {
		if prefix != "" && strings.HasPrefix(u.Path, prefix) {
			return true
		}
	}
	return false
}
