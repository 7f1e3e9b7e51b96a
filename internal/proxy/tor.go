// internal/proxy/tor.go
package proxy

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nao1215/tornago"
	"golang.org/x/time/rate"

	"github.com/valpere/ScholarNav/internal/utils"
)

const (
	// TorTimeout is the request baseline over Tor circuits.
	TorTimeout = 10 * time.Second
	// newnymInterval is the spacing Tor enforces between NEWNYM signals.
	newnymInterval = 10 * time.Second
)

// IdentityRotator asks the anonymity network for a fresh exit.
type IdentityRotator interface {
	NewIdentity(ctx context.Context) error
	Close() error
}

// TorOptions locates a running Tor daemon.
type TorOptions struct {
	SocksAddr       string
	ControlAddr     string
	ControlPassword string
	CookiePath      string
	// ControlTimeout bounds control-port operations.
	ControlTimeout time.Duration
}

// AnonymityNetwork routes requests through Tor's SOCKS port and rotates
// identity with the control port.
type AnonymityNetwork struct {
	*base

	identity IdentityRotator
	newnym   *rate.Limiter
}

// NewAnonymityNetwork creates the backend. When the control port cannot be
// reached the backend still works but cannot rotate.
func NewAnonymityNetwork(ctx context.Context, torOpts TorOptions, opts Options) (*AnonymityNetwork, error) {
	if torOpts.SocksAddr == "" {
		return nil, utils.ConfigError(nil, "tor SOCKS address is empty")
	}

	logger := opts.logger()
	addr := Address("socks5://" + torOpts.SocksAddr)
	settings := settingsFor(addr)

	if opts.Checker != nil {
		if _, err := opts.Checker.Check(ctx, settings, TorTimeout); err != nil {
			return nil, utils.ConfigError(err, "tor SOCKS proxy at %s does not work", torOpts.SocksAddr)
		}
	}

	identity := opts.Identity
	if identity == nil && torOpts.ControlAddr != "" {
		ctrl, err := DialTorControl(torOpts)
		if err != nil {
			logger.Warnf("tor control port unavailable, identity rotation disabled: %v", err)
		} else {
			identity = ctrl
		}
	}

	b, err := newBase(ModeAnonymityNetwork, settings, opts.timeoutOr(TorTimeout), logger)
	if err != nil {
		if identity != nil {
			identity.Close()
		}
		return nil, err
	}
	b.current = addr

	return &AnonymityNetwork{
		base:     b,
		identity: identity,
		newnym:   rate.NewLimiter(rate.Every(newnymInterval), 1),
	}, nil
}

// CanRotate reports whether the control port is usable.
func (a *AnonymityNetwork) CanRotate() bool {
	return a.identity != nil
}

// NextCandidate requests a new circuit and refreshes the session. The
// endpoint stays the same.
func (a *AnonymityNetwork) NextCandidate(ctx context.Context, previous Address) (Address, error) {
	if a.identity == nil {
		return "", ErrNoMoreCandidates
	}

	if err := a.newnym.Wait(ctx); err != nil {
		return "", err
	}
	if err := a.identity.NewIdentity(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", utils.NewError(utils.ErrCodeNoCandidates, "tor refused a new identity").
			WithCause(err).
			Build()
	}

	if _, err := a.Refresh(); err != nil {
		return "", err
	}
	a.logger.Info("switched to a new tor identity")
	return a.current, nil
}

// Close closes the session and the control connection.
func (a *AnonymityNetwork) Close() error {
	err := a.base.Close()
	if a.identity != nil {
		if cerr := a.identity.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// torControl is an IdentityRotator on a tornago control connection.
type torControl struct {
	client *tornago.ControlClient
}

// DialTorControl connects and authenticates to a Tor control port. A
// password takes precedence over the cookie file.
func DialTorControl(o TorOptions) (IdentityRotator, error) {
	timeout := o.ControlTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	auth := tornago.ControlAuthFromPassword(o.ControlPassword)
	if o.ControlPassword == "" && o.CookiePath != "" {
		auth = tornago.ControlAuthFromCookie(o.CookiePath)
	}

	client, err := tornago.NewControlClient(o.ControlAddr, auth, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to tor control port %s: %w", o.ControlAddr, err)
	}
	if err := client.Authenticate(); err != nil {
		client.Close()
		return nil, fmt.Errorf("authenticate to tor control port: %w", err)
	}
	return &torControl{client: client}, nil
}

func (t *torControl) NewIdentity(ctx context.Context) error {
	return t.client.NewIdentity(ctx)
}

func (t *torControl) Close() error {
	return t.client.Close()
}

// EmbeddedTor is a private Tor daemon started for this process.
type EmbeddedTor struct {
	process *tornago.TorProcess
}

// StartEmbeddedTor launches a Tor daemon on free ports and waits for it to
// bootstrap.
func StartEmbeddedTor(ctx context.Context, startupTimeout time.Duration) (*EmbeddedTor, error) {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(startupTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeProxyFailed, "failed to start embedded Tor daemon").
			WithCause(err).
			Build()
	}

	if ctx.Err() != nil {
		_ = process.Stop()
		return nil, ctx.Err()
	}
	return &EmbeddedTor{process: process}, nil
}

// Options returns the addresses of the running daemon.
func (e *EmbeddedTor) Options() TorOptions {
	return TorOptions{
		SocksAddr:   e.process.SocksAddr(),
		ControlAddr: e.process.ControlAddr(),
		CookiePath:  filepath.Join(e.process.DataDir(), "control_auth_cookie"),
	}
}

// Stop shuts the daemon down. Safe to call twice.
func (e *EmbeddedTor) Stop() error {
	if e == nil || e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	return err
}

// HostPort joins host and port for TorOptions.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
