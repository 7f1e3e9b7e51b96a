// Package session owns the HTTP clients used to talk to the target site.
// A Session bundles a cookie jar, a proxy-aware transport, a User-Agent and
// an optional browser; a Manager replaces Sessions without leaking them.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/valpere/ScholarNav/internal/browser"
	"github.com/valpere/ScholarNav/internal/utils"
)

// ErrTimeout marks a request that exceeded its per-attempt deadline.
var ErrTimeout = &utils.StructuredError{Code: utils.ErrCodeNetworkTimeout, Message: "request timed out"}

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Settings determine how a session is built.
type Settings struct {
	Proxy              ProxyConfig
	InsecureSkipVerify bool
	// UserAgent pins the identity. Empty picks a random one per session.
	UserAgent string
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       string
	Header     http.Header
	URL        string
	Duration   time.Duration
}

// Session is one HTTP identity: cookies, transport, User-Agent and an
// optional browser handle. It is not safe for concurrent use.
type Session struct {
	id        string
	settings  Settings
	userAgent string
	client    *resty.Client
	transport *http.Transport
	jar       http.CookieJar
	logger    utils.Logger

	mu      sync.Mutex
	browser browser.Context
	closed  bool
}

var defaultRotator = NewUserAgentRotator(nil, time.Now().UnixNano())

// New creates a session from settings.
func New(settings Settings, logger utils.Logger) (*Session, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	id := uuid.NewString()
	logger = logger.WithField("session", id[:8])

	tr, err := newTransport(settings, logger)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeProxyFailed, "failed to build session transport").
			WithCause(err).
			WithContext("proxy", settings.Proxy.Redacted()).
			Build()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	userAgent := settings.UserAgent
	if userAgent == "" {
		userAgent = defaultRotator.GetRandom()
	}

	client := resty.New()
	client.SetTransport(cloudflarebp.AddCloudFlareByPass(tr))
	applyTLSPolicy(tr, settings.InsecureSkipVerify)
	client.SetCookieJar(jar)
	client.SetHeaders(map[string]string{
		"User-Agent":                userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.5",
		"DNT":                       "1",
		"Upgrade-Insecure-Requests": "1",
	})

	logger.WithFields(map[string]interface{}{
		"proxy":    settings.Proxy.Redacted(),
		"insecure": settings.InsecureSkipVerify,
	}).Debug("session created")

	return &Session{
		id:        id,
		settings:  settings,
		userAgent: userAgent,
		client:    client,
		transport: tr,
		jar:       jar,
		logger:    logger,
	}, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// UserAgent returns the identity presented by this session.
func (s *Session) UserAgent() string { return s.userAgent }

// Proxy returns the proxy mapping exactly as configured.
func (s *Session) Proxy() ProxyConfig { return s.settings.Proxy }

// Settings returns the settings the session was built from.
func (s *Session) Settings() Settings { return s.settings }

// InsecureSkipVerify reports whether TLS verification is disabled.
func (s *Session) InsecureSkipVerify() bool { return s.settings.InsecureSkipVerify }

// Get fetches rawURL. timeout bounds this single request; zero means only
// ctx bounds it. Any HTTP status is a successful return.
func (s *Session) Get(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.client.R().SetContext(reqCtx).Get(rawURL)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			return nil, utils.NewError(utils.ErrCodeNetworkTimeout, "request timed out").
				WithCause(err).
				WithRetryable(true).
				WithContext("timeout", timeout.String()).
				Build()
		}
		return nil, utils.NewError(utils.ErrCodeNetworkFailed, "request failed").
			WithCause(err).
			WithRetryable(true).
			Build()
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       decodeBody(resp.Body(), resp.Header().Get("Content-Type")),
		Header:     resp.Header(),
		URL:        rawURL,
		Duration:   elapsed,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Cookies returns the cookies the session would send to u.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(u)
}

// SetCookies stores cookies as if u had set them.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.jar.SetCookies(u, cookies)
}

// Browser returns the attached browser or nil.
func (s *Session) Browser() browser.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser
}

// AttachBrowser binds b to the session so it is closed with it. A previously
// attached browser is closed.
func (s *Session) AttachBrowser(b browser.Context) {
	s.mu.Lock()
	prev := s.browser
	s.browser = b
	closed := s.closed
	s.mu.Unlock()

	if prev != nil && prev != b {
		if err := prev.Close(); err != nil {
			s.logger.Warnf("failed to close replaced browser: %v", err)
		}
	}
	if closed && b != nil {
		_ = b.Close()
	}
}

// Close releases the browser and the transport's connections. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	b := s.browser
	s.browser = nil
	s.mu.Unlock()

	var errs []error
	if b != nil {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	s.transport.CloseIdleConnections()

	s.logger.Debug("session closed")
	return errors.Join(errs...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
