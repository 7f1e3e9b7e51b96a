// internal/browser/types.go
package browser

import (
	"context"
	"errors"
	"time"
)

// Config defines how a browser context is launched.
type Config struct {
	Headless         bool          `yaml:"headless" json:"headless"`
	ExecPath         string        `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	UserDataDir      string        `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`
	ProxyServer      string        `yaml:"proxy_server,omitempty" json:"proxy_server,omitempty"`
	UserAgent        string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	ViewportWidth    int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height" json:"viewport_height"`
	StartupTimeout   time.Duration `yaml:"startup_timeout" json:"startup_timeout"`
	IgnoreCertErrors bool          `yaml:"ignore_cert_errors" json:"ignore_cert_errors"`
}

// DefaultConfig returns default browser configuration. The browser is
// visible by default since challenges are cleared by a person.
func DefaultConfig() *Config {
	return &Config{
		Headless:       false,
		ViewportWidth:  1280,
		ViewportHeight: 900,
		StartupTimeout: 30 * time.Second,
	}
}

// Cookie is a browser cookie in a driver-independent form.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
	SameSite string
}

// ErrClosed is returned by every Context method once the tab or the browser
// process is gone.
var ErrClosed = errors.New("browser closed")

// Context is one live browser tab with its own process.
type Context interface {
	// CurrentURL returns the URL of the loaded page, or "about:blank".
	CurrentURL(ctx context.Context) (string, error)

	// Navigate loads url and waits for the document body.
	Navigate(ctx context.Context, url string) error

	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)

	// Cookies returns the cookies visible to the current page.
	Cookies(ctx context.Context) ([]Cookie, error)

	// SetCookie stores a cookie in the browser.
	SetCookie(ctx context.Context, c Cookie) error

	// Close terminates the browser process.
	Close() error
}

// Launcher starts browser contexts.
type Launcher interface {
	Launch(ctx context.Context, cfg *Config) (Context, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, cfg *Config) (Context, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, cfg *Config) (Context, error) {
	return f(ctx, cfg)
}
