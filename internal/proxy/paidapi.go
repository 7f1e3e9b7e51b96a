// internal/proxy/paidapi.go
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/valpere/ScholarNav/internal/session"
	"github.com/valpere/ScholarNav/internal/utils"
)

const (
	// DefaultAccountURL reports request usage for an API key.
	DefaultAccountURL = "http://api.scraperapi.com/account"
	// PaidAPIProxyHost is the proxy endpoint of the scraping service.
	PaidAPIProxyHost = "proxy-server.scraperapi.com:8001"
	// PaidAPITimeout is the request baseline for the service, which renders
	// and retries upstream before answering.
	PaidAPITimeout = 60 * time.Second

	paidAPIValidationAttempts = 3
)

// PaidAPIOptions configures the paid scraping proxy.
type PaidAPIOptions struct {
	APIKey      string
	CountryCode string
	Premium     bool
	Render      bool
	// AccountURL overrides DefaultAccountURL.
	AccountURL string
}

// Account is the usage report of an API key.
type Account struct {
	RequestCount int    `json:"requestCount"`
	RequestLimit int    `json:"requestLimit"`
	Error        string `json:"error,omitempty"`
}

// Remaining returns the number of requests left.
func (a Account) Remaining() int {
	return a.RequestLimit - a.RequestCount
}

// PaidAPI routes requests through a paid scraping service that handles
// rotation itself. Certificates are re-signed by the service, so TLS
// verification is off for its sessions.
type PaidAPI struct {
	*base

	opts   PaidAPIOptions
	client *resty.Client
}

// NewPaidAPI checks the account, validates the proxy and creates the
// backend. An invalid key, an exhausted quota or a proxy that never works is
// a configuration error.
func NewPaidAPI(ctx context.Context, apiOpts PaidAPIOptions, opts Options) (*PaidAPI, error) {
	if apiOpts.APIKey == "" {
		return nil, utils.ConfigError(nil, "paid API key is empty")
	}
	if apiOpts.AccountURL == "" {
		apiOpts.AccountURL = DefaultAccountURL
	}

	logger := opts.logger()
	client := resty.New().SetTimeout(30 * time.Second)

	p := &PaidAPI{opts: apiOpts, client: client}

	account, err := p.Account(ctx)
	if err != nil {
		return nil, utils.ConfigError(err, "failed to query paid API account")
	}
	if account.Error != "" {
		return nil, utils.ConfigError(nil, "paid API rejected the key: %s", account.Error)
	}
	if account.Remaining() <= 0 {
		return nil, utils.ConfigError(nil, "paid API quota exhausted (%d of %d used)", account.RequestCount, account.RequestLimit)
	}
	logger.Infof("paid API has %d of %d requests left", account.Remaining(), account.RequestLimit)

	settings := session.Settings{
		Proxy:              session.ProxyConfig{HTTP: ProxyURL(apiOpts), HTTPS: ProxyURL(apiOpts)},
		InsecureSkipVerify: true,
	}

	if opts.Checker != nil {
		var lastErr error
		for attempt := 1; attempt <= paidAPIValidationAttempts; attempt++ {
			if _, lastErr = opts.Checker.Check(ctx, settings, PaidAPITimeout); lastErr == nil {
				break
			}
			logger.Warnf("paid API proxy check %d/%d failed: %v", attempt, paidAPIValidationAttempts, lastErr)
		}
		if lastErr != nil {
			return nil, utils.ConfigError(lastErr, "paid API proxy does not work")
		}
	}

	b, err := newBase(ModePaidAPI, settings, opts.timeoutOr(PaidAPITimeout), logger)
	if err != nil {
		return nil, err
	}
	b.current = Address(PaidAPIProxyHost)
	p.base = b
	return p, nil
}

// ProxyURL builds the proxy address. Service options travel in the
// username, joined by dots.
func ProxyURL(o PaidAPIOptions) string {
	var user strings.Builder
	user.WriteString("scraperapi.retry_404=true")
	if o.CountryCode != "" {
		user.WriteString(".country_code=" + strings.ToLower(o.CountryCode))
	}
	if o.Premium {
		user.WriteString(".premium=true")
	}
	if o.Render {
		user.WriteString(".render=true")
	}
	return fmt.Sprintf("http://%s:%s@%s", user.String(), url.PathEscape(o.APIKey), PaidAPIProxyHost)
}

// Account queries the usage report of the key.
func (p *PaidAPI) Account(ctx context.Context) (*Account, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("api_key", p.opts.APIKey).
		Get(p.opts.AccountURL)
	if err != nil {
		return nil, err
	}

	var account Account
	if err := json.Unmarshal(resp.Body(), &account); err != nil {
		return nil, fmt.Errorf("decode account response (status %d): %w", resp.StatusCode(), err)
	}
	return &account, nil
}

// QuotaRemaining returns how many requests the key has left.
func (p *PaidAPI) QuotaRemaining(ctx context.Context) (int, error) {
	account, err := p.Account(ctx)
	if err != nil {
		return 0, err
	}
	if account.Error != "" {
		return 0, utils.Errorf(utils.ErrCodeAuthFailed, "paid API account error: %s", account.Error).Build()
	}
	return account.Remaining(), nil
}
