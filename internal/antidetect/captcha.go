// internal/antidetect/captcha.go
package antidetect

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/valpere/ScholarNav/internal/browser"
	"github.com/valpere/ScholarNav/internal/session"
	"github.com/valpere/ScholarNav/internal/utils"
)

// CaptchaResult is the outcome of one bridge run.
type CaptchaResult int

const (
	// CaptchaSolved means the page loaded clean in the browser and its
	// cookies were copied into the session.
	CaptchaSolved CaptchaResult = iota
	// CaptchaHardBlock means the browser reached the denial-of-service page.
	CaptchaHardBlock
	// CaptchaTimeout means nobody cleared the challenge within MaxWait.
	CaptchaTimeout
)

// String returns the lower-case name used in logs and metrics.
func (r CaptchaResult) String() string {
	switch r {
	case CaptchaSolved:
		return "solved"
	case CaptchaHardBlock:
		return "hard_block"
	case CaptchaTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Solver clears a challenge for a session. Implemented by Bridge.
type Solver interface {
	Solve(ctx context.Context, sess *session.Session, target string) (CaptchaResult, error)
}

// BridgeConfig controls how long and how often the browser is polled.
type BridgeConfig struct {
	MaxWait      time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
	// LogInterval is the first progress checkpoint; later ones double.
	LogInterval time.Duration
	Browser     *browser.Config
}

// DefaultBridgeConfig returns the default polling settings.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		MaxWait:      15 * time.Minute,
		PollInterval: time.Second,
		PollTimeout:  5 * time.Second,
		LogInterval:  10 * time.Second,
		Browser:      browser.DefaultConfig(),
	}
}

// Bridge hands a challenged URL to a browser, waits until a person solves
// the challenge and moves the resulting cookies back into the session.
type Bridge struct {
	launcher browser.Launcher
	detector *Detector
	config   BridgeConfig
	logger   utils.Logger
	now      func() time.Time
}

// NewBridge creates a bridge. Zero durations in config take the defaults.
func NewBridge(launcher browser.Launcher, detector *Detector, config BridgeConfig, logger utils.Logger) *Bridge {
	def := DefaultBridgeConfig()
	if config.MaxWait <= 0 {
		config.MaxWait = def.MaxWait
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = def.PollTimeout
	}
	if config.LogInterval <= 0 {
		config.LogInterval = def.LogInterval
	}
	if config.Browser == nil {
		config.Browser = def.Browser
	}
	if detector == nil {
		detector = NewDetector()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Bridge{
		launcher: launcher,
		detector: detector,
		config:   config,
		logger:   logger.WithField("component", "captcha"),
		now:      time.Now,
	}
}

// Solve runs the challenge for target in the session's browser. The error
// is non-nil only when no browser can be used, the browser closes before
// the page clears, or ctx ends.
func (b *Bridge) Solve(ctx context.Context, sess *session.Session, target string) (CaptchaResult, error) {
	u, err := url.Parse(target)
	if err != nil {
		return CaptchaTimeout, utils.ConfigError(err, "invalid captcha URL %q", target)
	}

	br, err := b.browserFor(ctx, sess)
	if err != nil {
		return CaptchaTimeout, err
	}

	if err := b.copyCookiesToBrowser(ctx, br, sess, u); err != nil {
		b.logger.Warnf("failed to copy session cookies into browser: %v", err)
	}

	b.logger.Info("CAPTCHA detected, solve it in the browser window to continue")
	if err := br.Navigate(ctx, target); err != nil {
		if ctx.Err() != nil {
			return CaptchaTimeout, ctx.Err()
		}
		b.logger.Warnf("browser navigation reported: %v", err)
	}

	result, err := b.poll(ctx, br)
	if err != nil {
		if errors.Is(err, browser.ErrClosed) {
			sess.AttachBrowser(nil)
			return result, utils.NewError(utils.ErrCodeCaptchaFailed, "browser closed before the CAPTCHA was solved").
				WithCause(err).
				WithContext("url", target).
				Build()
		}
		return result, err
	}

	if result == CaptchaSolved {
		if err := b.copyCookiesToSession(ctx, br, sess, u); err != nil {
			b.logger.Warnf("failed to copy browser cookies into session: %v", err)
		}
	}
	return result, nil
}

// browserFor returns the session's browser, launching one on demand. An
// attached browser that no longer answers is closed and replaced.
func (b *Bridge) browserFor(ctx context.Context, sess *session.Session) (browser.Context, error) {
	if br := sess.Browser(); br != nil {
		probeCtx, cancel := context.WithTimeout(ctx, b.config.PollTimeout)
		_, err := br.CurrentURL(probeCtx)
		cancel()
		if err == nil {
			return br, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warnf("attached browser is gone, launching a new one: %v", err)
		sess.AttachBrowser(nil)
	}
	if b.launcher == nil {
		return nil, utils.NewError(utils.ErrCodeBrowserFailed, "no browser launcher configured").Build()
	}

	cfg := *b.config.Browser
	cfg.UserAgent = sess.UserAgent()
	cfg.IgnoreCertErrors = sess.InsecureSkipVerify()
	if p := sess.Proxy(); p.HTTPS != "" {
		cfg.ProxyServer = p.HTTPS
	} else {
		cfg.ProxyServer = p.HTTP
	}

	br, err := b.launcher.Launch(ctx, &cfg)
	if err != nil {
		if errors.Is(err, utils.ErrBrowserUnavailable) {
			return nil, err
		}
		return nil, utils.NewError(utils.ErrCodeBrowserFailed, "failed to start browser for captcha").
			WithCause(err).
			WithSeverity(utils.SeverityCritical).
			Build()
	}
	sess.AttachBrowser(br)
	return br, nil
}

// poll reads the page until it is clean, hard-blocked or MaxWait passes.
// Progress is logged at LogInterval, then at doubling checkpoints.
func (b *Bridge) poll(ctx context.Context, br browser.Context) (CaptchaResult, error) {
	start := b.now()
	checkpoint := b.config.LogInterval

	for {
		pollCtx, cancel := context.WithTimeout(ctx, b.config.PollTimeout)
		html, err := br.HTML(pollCtx)
		cancel()

		if errors.Is(err, browser.ErrClosed) {
			b.logger.Warn("browser closed while waiting for the CAPTCHA")
			return CaptchaTimeout, err
		}
		if err == nil {
			switch b.detector.Classify(html, 0) {
			case HardBlock:
				b.logger.Warn("browser reached the hard-block page")
				return CaptchaHardBlock, nil
			case Clean:
				b.logger.Infof("CAPTCHA solved after %v", b.now().Sub(start).Round(time.Second))
				return CaptchaSolved, nil
			}
		} else if ctx.Err() == nil {
			b.logger.Debugf("poll failed: %v", err)
		}

		elapsed := b.now().Sub(start)
		if elapsed >= b.config.MaxWait {
			b.logger.Warnf("CAPTCHA not solved within %v", b.config.MaxWait)
			return CaptchaTimeout, nil
		}
		if elapsed >= checkpoint {
			b.logger.Infof("still waiting for the CAPTCHA to be solved (%v)", elapsed.Round(time.Second))
			for checkpoint <= elapsed {
				checkpoint *= 2
			}
		}

		select {
		case <-ctx.Done():
			return CaptchaTimeout, ctx.Err()
		case <-time.After(b.config.PollInterval):
		}
	}
}

// copyCookiesToBrowser moves the session cookies for u into the browser.
// The browser only accepts cookies for the host it is on, so a blank tab is
// first pointed at u's origin and cookies for other hosts are skipped.
func (b *Bridge) copyCookiesToBrowser(ctx context.Context, br browser.Context, sess *session.Session, u *url.URL) error {
	current, err := br.CurrentURL(ctx)
	if err != nil {
		return err
	}

	cur, err := url.Parse(current)
	if err != nil || cur.Hostname() == "" {
		origin := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
		if err := br.Navigate(ctx, origin); err != nil {
			return err
		}
		cur = &url.URL{Scheme: u.Scheme, Host: u.Host}
	}

	domain := u.Hostname()
	if !domainMatch(cur.Hostname(), domain) {
		b.logger.Debugf("browser is on %s, skipping cookies for %s", cur.Hostname(), domain)
		return nil
	}

	for _, c := range sess.Cookies(u) {
		err := br.SetCookie(ctx, browser.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   "/",
			Secure: u.Scheme == "https",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// copyCookiesToSession stores the browser cookies in the session jar
// without HttpOnly, expiry or SameSite attributes.
func (b *Bridge) copyCookiesToSession(ctx context.Context, br browser.Context, sess *session.Session, u *url.URL) error {
	cookies, err := br.Cookies(ctx)
	if err != nil {
		return err
	}

	jarCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		jarCookies = append(jarCookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		})
	}
	sess.SetCookies(u, jarCookies)
	b.logger.Debugf("copied %d cookies into the session", len(jarCookies))
	return nil
}

// domainMatch reports whether host is domain or one of its subdomains.
func domainMatch(host, domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	host = strings.ToLower(host)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
