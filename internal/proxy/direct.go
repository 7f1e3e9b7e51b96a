// internal/proxy/direct.go
package proxy

import (
	"context"

	"github.com/valpere/ScholarNav/internal/session"
	"github.com/valpere/ScholarNav/internal/utils"
)

// Direct sends requests without a proxy.
type Direct struct {
	*base
}

// NewDirect creates a proxy-less backend.
func NewDirect(opts Options) (*Direct, error) {
	b, err := newBase(ModeNone, session.Settings{}, opts.Timeout, opts.logger())
	if err != nil {
		return nil, err
	}
	return &Direct{base: b}, nil
}

// Single routes every request through one fixed proxy.
type Single struct {
	*base
}

// NewSingle validates the proxy and creates the backend. An empty https
// address reuses http. A proxy that fails validation is a configuration
// error.
func NewSingle(ctx context.Context, http, https string, opts Options) (*Single, error) {
	if http == "" {
		return nil, utils.ConfigError(nil, "single proxy address is empty")
	}
	if https == "" {
		https = http
	}

	settings := session.Settings{Proxy: session.ProxyConfig{HTTP: http, HTTPS: https}}
	logger := opts.logger()

	if opts.Checker != nil {
		if _, err := opts.Checker.Check(ctx, settings, DefaultCheckTimeout); err != nil {
			return nil, utils.ConfigError(err, "proxy %s does not work", settings.Proxy.Redacted().HTTP)
		}
	}

	b, err := newBase(ModeSingleProxy, settings, opts.Timeout, logger)
	if err != nil {
		return nil, err
	}
	b.current = Address(http)
	return &Single{base: b}, nil
}
