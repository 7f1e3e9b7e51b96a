// cmd/scholarnav/app.go
package main

import (
	"context"
	"errors"
	"io"

	"github.com/valpere/ScholarNav/internal/config"
	apperrors "github.com/valpere/ScholarNav/internal/errors"
	"github.com/valpere/ScholarNav/internal/monitoring"
	"github.com/valpere/ScholarNav/internal/navigator"
	"github.com/valpere/ScholarNav/internal/proxy"
	"github.com/valpere/ScholarNav/internal/utils"
)

// app carries what the commands share: flags, configuration, logger,
// metrics and the resources to release on exit.
type app struct {
	configFile  string
	verbose     bool
	logLevel    string
	embeddedTor bool

	cfg     *config.Config
	logger  utils.Logger
	errors  *apperrors.Service
	metrics *monitoring.MetricsManager

	nav *navigator.Navigator
	tor *proxy.EmbeddedTor

	stdout io.Writer
	stderr io.Writer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		errors: apperrors.NewService(),
		logger: utils.NewNopLogger(),
		stdout: stdout,
		stderr: stderr,
	}
}

// load reads the configuration and sets up logging and metrics.
func (a *app) load() error {
	cfg := config.Default()
	if a.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(a.configFile); err != nil {
			return err
		}
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.verbose {
		level = "debug"
	}
	a.logger = utils.NewLogger(utils.LogOptions{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	a.errors.WithVerbose(a.verbose)
	a.metrics = monitoring.NewMetricsManager(monitoring.MetricsConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableGoMetrics:      true,
		EnableProcessMetrics: true,
	})
	return nil
}

// buildBackend builds the backend for one pool. The secondary pool runs on
// an embedded Tor daemon when requested.
func (a *app) buildBackend(ctx context.Context, pool navigator.Pool) (proxy.Backend, error) {
	opts := proxy.Options{Logger: a.logger.WithField("pool", string(pool))}

	if pool == navigator.PoolSecondary && (a.embeddedTor || a.cfg.Tor.Enabled) {
		if a.tor == nil {
			a.logger.Info("starting embedded Tor daemon, this can take a while")
			tor, err := proxy.StartEmbeddedTor(ctx, a.cfg.Tor.StartupTimeout)
			if err != nil {
				return nil, err
			}
			a.tor = tor
		}
		return proxy.NewAnonymityNetwork(ctx, a.tor.Options(), opts)
	}

	cfg := a.cfg.Secondary
	if pool == navigator.PoolPrimary {
		cfg = a.cfg.Primary
	}
	return proxy.NewFromConfig(ctx, cfg, a.cfg.CheckURL, opts)
}

// navigator builds both backends and the navigator on first use.
func (a *app) navigator(ctx context.Context) (*navigator.Navigator, error) {
	if a.nav != nil {
		return a.nav, nil
	}

	primary, err := a.buildBackend(ctx, navigator.PoolPrimary)
	if err != nil {
		return nil, err
	}
	secondary, err := a.buildBackend(ctx, navigator.PoolSecondary)
	if err != nil {
		primary.Close()
		return nil, err
	}

	nav, err := navigator.New(a.cfg, primary, secondary,
		navigator.WithLogger(a.logger),
		navigator.WithMetrics(a.metrics),
	)
	if err != nil {
		primary.Close()
		secondary.Close()
		return nil, err
	}
	a.nav = nav
	return nav, nil
}

// serveMetrics exposes metrics in the background when enabled.
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	go func() {
		if err := a.metrics.StartMetricsServer(ctx, a.cfg.Metrics.Listen, "/metrics"); err != nil {
			a.logger.Errorf("metrics server stopped: %v", err)
		}
	}()
}

func (a *app) close() error {
	var errs []error
	if a.nav != nil {
		errs = append(errs, a.nav.Close())
	}
	if a.tor != nil {
		errs = append(errs, a.tor.Stop())
	}
	return errors.Join(errs...)
}
