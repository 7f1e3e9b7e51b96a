// internal/proxy/checker.go
package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/valpere/ScholarNav/internal/session"
	"github.com/valpere/ScholarNav/internal/utils"
)

// DefaultCheckURL echoes the caller's IP address as JSON.
const DefaultCheckURL = "http://httpbin.org/ip"

// DefaultCheckTimeout bounds a validation request when none is given.
const DefaultCheckTimeout = 5 * time.Second

// CheckResult describes a working proxy.
type CheckResult struct {
	Origin   string
	Duration time.Duration
}

// Checker validates proxy settings before a backend commits to them.
type Checker interface {
	Check(ctx context.Context, settings session.Settings, timeout time.Duration) (*CheckResult, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, settings session.Settings, timeout time.Duration) (*CheckResult, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, settings session.Settings, timeout time.Duration) (*CheckResult, error) {
	return f(ctx, settings, timeout)
}

// HTTPChecker fetches a checkpoint URL through the proxy. 200 means the
// proxy works, 401 means it rejected the credentials.
type HTTPChecker struct {
	checkURL string
	logger   utils.Logger
}

// NewHTTPChecker creates a checker against checkURL.
func NewHTTPChecker(checkURL string, logger utils.Logger) *HTTPChecker {
	if checkURL == "" {
		checkURL = DefaultCheckURL
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &HTTPChecker{checkURL: checkURL, logger: logger.WithField("component", "proxy-check")}
}

// Check performs one request through settings' proxy.
func (c *HTTPChecker) Check(ctx context.Context, settings session.Settings, timeout time.Duration) (*CheckResult, error) {
	s, err := session.New(settings, c.logger)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	resp, err := s.Get(ctx, c.checkURL, timeout)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeProxyFailed, "proxy check request failed").
			WithCause(err).
			WithContext("proxy", settings.Proxy.Redacted()).
			Build()
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, utils.NewError(utils.ErrCodeAuthFailed, "proxy rejected credentials").
			WithContext("proxy", settings.Proxy.Redacted()).
			Build()
	default:
		return nil, utils.Errorf(utils.ErrCodeProxyFailed, "proxy check returned status %d", resp.StatusCode).
			WithContext("proxy", settings.Proxy.Redacted()).
			Build()
	}

	var body struct {
		Origin string `json:"origin"`
	}
	_ = json.Unmarshal([]byte(resp.Body), &body)

	c.logger.WithField("origin", body.Origin).Infof("proxy works, took %v", resp.Duration.Round(time.Millisecond))
	return &CheckResult{Origin: body.Origin, Duration: resp.Duration}, nil
}
