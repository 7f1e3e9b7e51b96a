// Package proxy provides the identity backends a fetch can be routed
// through: direct, a fixed proxy, a rotating free-proxy pool, a paid
// scraping proxy and the Tor network. Each backend owns one live session.
package proxy

import (
	"context"
	"time"

	"github.com/valpere/ScholarNav/internal/session"
	"github.com/valpere/ScholarNav/internal/utils"
)

// Mode identifies a backend variant.
type Mode string

const (
	ModeNone             Mode = "none"
	ModeSingleProxy      Mode = "single_proxy"
	ModeRotatingPool     Mode = "rotating_pool"
	ModePaidAPI          Mode = "paid_api"
	ModeAnonymityNetwork Mode = "anonymity_network"
)

// Address is a proxy endpoint such as "10.0.0.1:8080" or
// "socks5://127.0.0.1:9050".
type Address string

// ErrNoMoreCandidates is returned when a backend cannot offer another proxy.
var ErrNoMoreCandidates = &utils.StructuredError{Code: utils.ErrCodeNoCandidates, Message: "no more proxy candidates"}

// Backend is one proxy strategy together with the session it feeds.
type Backend interface {
	// Mode returns the variant.
	Mode() Mode

	// Session returns the live session. Never nil before Close.
	Session() *session.Session

	// Refresh closes the live session and builds a new one on the same proxy.
	Refresh() (*session.Session, error)

	// NextCandidate retires previous, switches the session to a new working
	// proxy and returns its address. ErrNoMoreCandidates means the backend
	// has nothing left to offer.
	NextCandidate(ctx context.Context, previous Address) (Address, error)

	// CanRotate reports whether NextCandidate can ever succeed.
	CanRotate() bool

	// Current returns the address the live session uses, if any.
	Current() Address

	// Timeout is the recommended request baseline. Zero means the global
	// default applies.
	Timeout() time.Duration

	// Close releases the session and any control connections.
	Close() error
}

// Options carries the collaborators shared by all backend constructors.
type Options struct {
	Logger   utils.Logger
	Checker  Checker
	Source   Source
	Identity IdentityRotator
	// Timeout overrides the variant's recommended request baseline.
	Timeout time.Duration
}

func (o Options) logger() utils.Logger {
	if o.Logger == nil {
		return utils.NewNopLogger()
	}
	return o.Logger
}

func (o Options) timeoutOr(def time.Duration) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return def
}

// base implements the non-rotating parts of Backend.
type base struct {
	mode     Mode
	sessions *session.Manager
	current  Address
	timeout  time.Duration
	logger   utils.Logger
}

func newBase(mode Mode, settings session.Settings, timeout time.Duration, logger utils.Logger) (*base, error) {
	logger = logger.WithField("backend", string(mode))
	sessions, err := session.NewManager(settings, logger)
	if err != nil {
		return nil, err
	}
	return &base{
		mode:     mode,
		sessions: sessions,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

func (b *base) Mode() Mode { return b.mode }
func (b *base) Session() *session.Session { return b.sessions.Session() }
func (b *base) Refresh() (*session.Session, error) { return b.sessions.Refresh() }
func (b *base) Current() Address { return b.current }
func (b *base) Timeout() time.Duration { return b.timeout }
func (b *base) CanRotate() bool { return false }
func (b *base) Close() error { return b.sessions.Close() }

func (b *base) NextCandidate(ctx context.Context, previous Address) (Address, error) {
	return "", ErrNoMoreCandidates
}

// settingsFor maps an address onto both schemes, as configured.
func settingsFor(addr Address) session.Settings {
	return session.Settings{Proxy: session.ProxyConfig{HTTP: string(addr), HTTPS: string(addr)}}
}
