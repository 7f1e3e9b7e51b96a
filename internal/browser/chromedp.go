// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/valpere/ScholarNav/internal/utils"
)

// ChromeLauncher launches Chrome through chromedp.
type ChromeLauncher struct {
	logger utils.Logger
}

// NewChromeLauncher creates a launcher that logs through logger.
func NewChromeLauncher(logger utils.Logger) *ChromeLauncher {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &ChromeLauncher{logger: logger.WithField("component", "browser")}
}

// AllocatorOptions translates cfg into chromedp allocator options.
func AllocatorOptions(cfg *Config) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Headless, chromedp.DisableGPU)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if server := ProxyServerArg(cfg.ProxyServer); server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}
	if cfg.IgnoreCertErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}

	return opts
}

// ProxyServerArg converts a proxy address into the form Chrome accepts.
// Chrome cannot take credentials on the command line, so userinfo is dropped.
func ProxyServerArg(proxy string) string {
	if proxy == "" {
		return ""
	}
	if !strings.Contains(proxy, "://") {
		return "http://" + proxy
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return proxy
	}
	u.User = nil
	return u.String()
}

// Launch starts a Chrome process and opens a tab.
func (l *ChromeLauncher) Launch(ctx context.Context, cfg *Config) (Context, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	c := &chromeContext{
		ctx:    tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	startCtx := ctx
	if cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()
	}

	if err := c.start(startCtx); err != nil {
		c.Close()
		return nil, utils.NewError(utils.ErrCodeBrowserFailed, "failed to launch browser").
			WithCause(err).
			WithSeverity(utils.SeverityCritical).
			Build()
	}

	l.logger.WithField("proxy", ProxyServerArg(cfg.ProxyServer)).Info("browser started")
	return c, nil
}

// chromeContext implements Context on a chromedp tab.
type chromeContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// start runs an empty action list on the tab context itself. The first Run
// allocates the browser, and the process lives as long as the context that
// run used.
func (c *chromeContext) start(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(c.ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes actions in the tab. The actions stop when either the tab or
// the caller's context ends.
func (c *chromeContext) run(ctx context.Context, actions ...chromedp.Action) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case c.ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrClosed, err)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (c *chromeContext) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := c.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	if location == "" {
		location = "about:blank"
	}
	return location, nil
}

func (c *chromeContext) Navigate(ctx context.Context, target string) error {
	if err := c.run(ctx, chromedp.Navigate(target), chromedp.WaitReady("body")); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (c *chromeContext) HTML(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (c *chromeContext) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, rc := range raw {
		cookie := Cookie{
			Name:     rc.Name,
			Value:    rc.Value,
			Domain:   rc.Domain,
			Path:     rc.Path,
			Secure:   rc.Secure,
			HTTPOnly: rc.HTTPOnly,
			SameSite: rc.SameSite.String(),
		}
		if !rc.Session && rc.Expires > 0 {
			sec, frac := math.Modf(rc.Expires)
			cookie.Expires = time.Unix(int64(sec), int64(frac*1e9))
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (c *chromeContext) SetCookie(ctx context.Context, cookie Cookie) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		path := cookie.Path
		if path == "" {
			path = "/"
		}
		return network.SetCookie(cookie.Name, cookie.Value).
			WithDomain(cookie.Domain).
			WithPath(path).
			WithSecure(cookie.Secure).
			Do(ctx)
	}))
}

// Close terminates the tab and the browser process. Safe to call twice.
func (c *chromeContext) Close() error {
	c.once.Do(c.cancel)
	return nil
}
