// internal/session/transport.go
package session

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/valpere/ScholarNav/internal/utils"
)

// ProxyConfig is the per-scheme proxy mapping of a session, stored exactly as
// configured. An address without a scheme is treated as an HTTP proxy.
type ProxyConfig struct {
	HTTP  string `json:"http,omitempty" yaml:"http,omitempty"`
	HTTPS string `json:"https,omitempty" yaml:"https,omitempty"`
}

// IsZero reports whether no proxy is configured.
func (p ProxyConfig) IsZero() bool {
	return p.HTTP == "" && p.HTTPS == ""
}

// Redacted returns the configuration with passwords masked, for logging.
func (p ProxyConfig) Redacted() ProxyConfig {
	return ProxyConfig{HTTP: redact(p.HTTP), HTTPS: redact(p.HTTPS)}
}

// ParseProxyURL parses a configured proxy address into a URL.
func ParseProxyURL(addr string) (*url.URL, error) {
	if addr == "" {
		return nil, nil
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy address %q: missing host", addr)
	}
	return u, nil
}

func isSOCKS(u *url.URL) bool {
	return u != nil && (u.Scheme == "socks5" || u.Scheme == "socks5h")
}

// newTransport builds the base transport for settings. SOCKS proxies are
// dialed directly; HTTP proxies are chosen per request scheme.
func newTransport(settings Settings, logger utils.Logger) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       BuildTLSConfig(settings.InsecureSkipVerify, logger),
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if settings.Proxy.IsZero() {
		return tr, nil
	}

	httpURL, err := ParseProxyURL(settings.Proxy.HTTP)
	if err != nil {
		return nil, err
	}
	httpsURL, err := ParseProxyURL(settings.Proxy.HTTPS)
	if err != nil {
		return nil, err
	}
	if httpsURL == nil {
		httpsURL = httpURL
	}
	if httpURL == nil {
		httpURL = httpsURL
	}

	if isSOCKS(httpsURL) {
		socks, err := proxy.FromURL(httpsURL, dialer)
		if err != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
		}
		if cd, ok := socks.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.Dial = socks.Dial //nolint:staticcheck // fallback for dialers without context support
		}
		return tr, nil
	}

	tr.Proxy = func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" {
			return httpsURL, nil
		}
		return httpURL, nil
	}
	return tr, nil
}

func redact(addr string) string {
	u, err := ParseProxyURL(addr)
	if err != nil || u == nil || u.User == nil {
		return addr
	}
	return u.Redacted()
}
