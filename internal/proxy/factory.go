// internal/proxy/factory.go
package proxy

import (
	"context"

	"github.com/valpere/ScholarNav/internal/config"
	"github.com/valpere/ScholarNav/internal/utils"
)

// NewFromConfig builds the backend described by cfg. Missing collaborators
// in opts are filled with the production implementations.
func NewFromConfig(ctx context.Context, cfg config.BackendConfig, checkURL string, opts Options) (Backend, error) {
	if opts.Checker == nil {
		opts.Checker = NewHTTPChecker(checkURL, opts.Logger)
	}

	switch cfg.Mode {
	case config.ModeNone, "":
		return NewDirect(opts)

	case config.ModeSingleProxy:
		if cfg.SingleProxy == nil {
			return nil, utils.ConfigError(nil, "single_proxy settings are missing")
		}
		return NewSingle(ctx, cfg.SingleProxy.HTTP, cfg.SingleProxy.HTTPS, opts)

	case config.ModeRotatingPool:
		rp := cfg.RotatingPool
		if rp == nil {
			rp = &config.RotatingPoolConfig{}
		}
		if opts.Source == nil {
			opts.Source = NewFreeProxyListSource(rp.SourceURL, false, opts.Logger)
		}
		return NewRotatingPool(ctx, RotatingPoolOptions{
			ValidationTimeout:   rp.ValidationTimeout,
			PoolRefreshWaitTime: rp.PoolRefreshWaitTime,
		}, opts)

	case config.ModePaidAPI:
		if cfg.PaidAPI == nil {
			return nil, utils.ConfigError(nil, "paid_api settings are missing")
		}
		return NewPaidAPI(ctx, PaidAPIOptions{
			APIKey:      cfg.PaidAPI.APIKey,
			CountryCode: cfg.PaidAPI.CountryCode,
			Premium:     cfg.PaidAPI.Premium,
			Render:      cfg.PaidAPI.Render,
			AccountURL:  cfg.PaidAPI.AccountURL,
		}, opts)

	case config.ModeAnonymityNetwork:
		an := cfg.AnonymityNetwork
		if an == nil {
			return nil, utils.ConfigError(nil, "anonymity_network settings are missing")
		}
		host := an.Host
		if host == "" {
			host = "127.0.0.1"
		}
		return NewAnonymityNetwork(ctx, TorOptions{
			SocksAddr:       HostPort(host, an.SocksPort),
			ControlAddr:     HostPort(host, an.ControlPort),
			ControlPassword: an.ControlPassword,
			CookiePath:      an.CookiePath,
		}, opts)
	}

	return nil, utils.ConfigError(nil, "unknown proxy mode %q", cfg.Mode)
}
