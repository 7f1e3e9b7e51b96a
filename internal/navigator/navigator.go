// Package navigator drives a fetch through the proxy backends: it picks a
// pool, classifies every response and decides whether to return, retry,
// rotate, solve a captcha, escalate to the primary pool or give up.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/valpere/ScholarNav/internal/antidetect"
	"github.com/valpere/ScholarNav/internal/browser"
	"github.com/valpere/ScholarNav/internal/config"
	"github.com/valpere/ScholarNav/internal/proxy"
	"github.com/valpere/ScholarNav/internal/session"
	"github.com/valpere/ScholarNav/internal/utils"
)

// Pool names one of the two backends a navigator holds.
type Pool string

const (
	PoolPrimary   Pool = "primary"
	PoolSecondary Pool = "secondary"
)

// Terminal error classes for errors.Is.
var (
	ErrHardBlock        = &utils.StructuredError{Code: utils.ErrCodeDetectionBlocked, Message: "hard-blocked by the remote service"}
	ErrMaxTriesExceeded = &utils.StructuredError{Code: utils.ErrCodeMaxTries, Message: "maximum tries exceeded"}
)

// Sleeper pauses for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Metrics receives fetch-level observations. Implemented by
// monitoring.MetricsManager.
type Metrics interface {
	RecordFetch(pool, result string, duration time.Duration)
	RecordAttempt(pool, classification string, duration time.Duration)
	RecordRotation(pool string)
	RecordRefresh(pool string)
	RecordCooldown(reason string)
	RecordEscalation()
	RecordCaptcha(result string, duration time.Duration)
}

// Navigator fetches pages through a primary and a secondary backend. It
// is not safe for concurrent use; callers serialise Fetch.
type Navigator struct {
	cfg       *config.Config
	primary   proxy.Backend
	secondary proxy.Backend

	detector *antidetect.Detector
	solver   antidetect.Solver
	sleep    Sleeper
	rnd      *rand.Rand
	metrics  Metrics
	logger   utils.Logger
	now      func() time.Time
}

// Option customises a Navigator.
type Option func(*Navigator)

// WithLogger sets the logger.
func WithLogger(logger utils.Logger) Option {
	return func(n *Navigator) { n.logger = logger }
}

// WithSleeper replaces the context-aware time.Sleep used for jitter and
// cooldowns.
func WithSleeper(s Sleeper) Option {
	return func(n *Navigator) { n.sleep = s }
}

// WithRand sets the random source for jitter and cooldown draws.
func WithRand(r *rand.Rand) Option {
	return func(n *Navigator) { n.rnd = r }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(n *Navigator) { n.metrics = m }
}

// WithCaptchaSolver replaces the browser bridge.
func WithCaptchaSolver(s antidetect.Solver) Option {
	return func(n *Navigator) { n.solver = s }
}

// WithDetector replaces the default response classifier.
func WithDetector(d *antidetect.Detector) Option {
	return func(n *Navigator) { n.detector = d }
}

// New creates a navigator. A nil backend is replaced by a direct one, so
// both pools always exist. The navigator owns both backends.
func New(cfg *config.Config, primary, secondary proxy.Backend, opts ...Option) (*Navigator, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	n := &Navigator{
		cfg:       cfg,
		primary:   primary,
		secondary: secondary,
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = utils.NewNopLogger()
	}
	n.logger = n.logger.WithField("component", "navigator")
	if n.rnd == nil {
		n.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if n.metrics == nil {
		n.metrics = nopMetrics{}
	}
	if n.detector == nil {
		n.detector = antidetect.NewDetector()
	}
	if n.solver == nil {
		n.solver = antidetect.NewBridge(browser.NewChromeLauncher(n.logger), n.detector, BridgeConfig(cfg), n.logger)
	}

	var err error
	if n.primary == nil {
		if n.primary, err = proxy.NewDirect(proxy.Options{Logger: n.logger}); err != nil {
			return nil, err
		}
	}
	if n.secondary == nil {
		if n.secondary, err = proxy.NewDirect(proxy.Options{Logger: n.logger}); err != nil {
			n.primary.Close()
			return nil, err
		}
	}
	return n, nil
}

// BridgeConfig maps the captcha section of cfg onto the bridge settings.
func BridgeConfig(cfg *config.Config) antidetect.BridgeConfig {
	bc := antidetect.DefaultBridgeConfig()
	c := cfg.Captcha
	if c.MaxWait > 0 {
		bc.MaxWait = c.MaxWait
	}
	if c.PollInterval > 0 {
		bc.PollInterval = c.PollInterval
	}
	if c.PollTimeout > 0 {
		bc.PollTimeout = c.PollTimeout
	}
	if c.LogInterval > 0 {
		bc.LogInterval = c.LogInterval
	}
	bc.Browser.Headless = c.Headless
	bc.Browser.ExecPath = c.ExecPath
	return bc
}

// Backend returns the backend serving pool.
func (n *Navigator) Backend(pool Pool) proxy.Backend {
	if pool == PoolPrimary {
		return n.primary
	}
	return n.secondary
}

// Close releases both backends.
func (n *Navigator) Close() error {
	return errors.Join(n.secondary.Close(), n.primary.Close())
}

// SelectPool returns the pool a fetch of rawURL starts in.
func (n *Navigator) SelectPool(rawURL string, preferPrimary bool) Pool {
	if preferPrimary || n.cfg.IsPremiumURL(rawURL) {
		return PoolPrimary
	}
	return PoolSecondary
}

// fetchState lives for one Fetch call, across both pools.
type fetchState struct {
	url        string
	attempts   int
	hardBlocks int
	forbidden  int
	lastReason string
	lastStatus int
}

// poolState lives for one pool run.
type poolState struct {
	pool     Pool
	backend  proxy.Backend
	baseline time.Duration
	timeout  time.Duration
	tries    int
	solves   int
	logger   utils.Logger
}

// Fetch returns the body of rawURL. It blocks through jitter, retries,
// captcha solving and cooldowns. Returned errors match ErrHardBlock,
// ErrMaxTriesExceeded, a configuration error (utils.IsConfigurationError)
// or the context error.
func (n *Navigator) Fetch(ctx context.Context, rawURL string, preferPrimary bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", utils.Errorf(utils.ErrCodeInvalidConfig, "invalid URL %q", rawURL).WithCause(err).Build()
	}

	start := n.now()
	st := &fetchState{url: rawURL}
	pool := n.SelectPool(rawURL, preferPrimary)

	out := n.runPool(ctx, pool, st)
	if out.Kind == Terminal && out.Reason == ReasonExhausted && pool == PoolSecondary && st.hardBlocks == 0 {
		n.logger.WithField("url", rawURL).Warnf("secondary pool exhausted after %d attempts, escalating to primary", st.attempts)
		n.metrics.RecordEscalation()
		pool = PoolPrimary
		out = n.runPool(ctx, pool, st)
	}

	result, err := n.finish(out, pool, st)
	n.metrics.RecordFetch(string(pool), result, n.now().Sub(start))
	if err != nil {
		return "", err
	}
	return out.Body, nil
}

// finish converts the last outcome into the caller-facing result.
func (n *Navigator) finish(out Outcome, pool Pool, st *fetchState) (string, error) {
	switch {
	case out.Kind == Success:
		return "success", nil
	case out.Reason == ReasonExhausted && st.hardBlocks > 0:
		return ReasonHardBlock, n.hardBlockError(pool, st)
	case out.Reason == ReasonExhausted:
		return ReasonExhausted, utils.NewError(utils.ErrCodeMaxTries,
			fmt.Sprintf("gave up on %s after %d attempts (last: %s, status %d)", st.url, st.attempts, st.lastReason, st.lastStatus)).
			WithCause(out.Err).
			WithRetryable(true).
			WithContext("url", st.url).
			WithContext("tries", st.attempts).
			WithContext("pool", string(pool)).
			WithContext("last_reason", st.lastReason).
			WithContext("last_status", st.lastStatus).
			WithUserMessage("The page could not be fetched through any proxy. Try again later.").
			Build()
	case out.Reason == ReasonHardBlock:
		return ReasonHardBlock, n.hardBlockError(pool, st)
	default:
		return out.Reason, out.Err
	}
}

func (n *Navigator) hardBlockError(pool Pool, st *fetchState) error {
	return utils.NewError(utils.ErrCodeDetectionBlocked, fmt.Sprintf("hard-blocked while fetching %s", st.url)).
		WithSeverity(utils.SeverityCritical).
		WithContext("url", st.url).
		WithContext("tries", st.attempts).
		WithContext("pool", string(pool)).
		WithContext("last_reason", st.lastReason).
		WithContext("last_status", st.lastStatus).
		WithUserMessage("The remote service is refusing this client. Wait before trying again.").
		Build()
}

// runPool loops over one backend until success, a terminal outcome or the
// try budget runs out.
func (n *Navigator) runPool(ctx context.Context, pool Pool, st *fetchState) Outcome {
	backend := n.Backend(pool)
	baseline := backend.Timeout()
	if baseline <= 0 {
		baseline = n.cfg.RequestTimeout
	}
	ps := &poolState{
		pool:     pool,
		backend:  backend,
		baseline: baseline,
		timeout:  baseline,
		logger:   n.logger.WithFields(map[string]interface{}{"pool": string(pool), "backend": string(backend.Mode())}),
	}

	for ps.tries < n.cfg.MaxRetries {
		if err := n.sleep(ctx, n.draw(n.cfg.Jitter)); err != nil {
			return n.canceled(err)
		}

		out := n.attempt(ctx, st, ps)
		st.lastReason, st.lastStatus = out.Reason, out.Status
		if out.Kind != Retryable {
			return out
		}

		if out.Charged {
			ps.tries++
		}
		ps.logger.Debugf("attempt %d: %s, next %s (try %d/%d)", st.attempts, out.Reason, out.Action, ps.tries, n.cfg.MaxRetries)

		if next := n.apply(ctx, ps, out); next != nil {
			return *next
		}
	}

	ps.logger.Warnf("try budget of %d spent", n.cfg.MaxRetries)
	return terminal(ReasonExhausted, st.lastStatus, nil)
}

// attempt performs one request and classifies it.
func (n *Navigator) attempt(ctx context.Context, st *fetchState, ps *poolState) Outcome {
	st.attempts++
	sess := ps.backend.Session()

	resp, err := sess.Get(ctx, st.url, ps.timeout)
	if err != nil {
		if ctx.Err() != nil {
			return n.canceled(ctx.Err())
		}
		if errors.Is(err, session.ErrTimeout) {
			n.metrics.RecordAttempt(string(ps.pool), ReasonTimeout, ps.timeout)
			if ps.timeout < 3*ps.baseline {
				ps.logger.Debugf("timed out after %s, allowing more time", ps.timeout)
				return retry(ReasonTimeout, ActionGrowTimeout, 0, false)
			}
			ps.logger.Infof("timed out at %s, giving up on this session", ps.timeout)
			return retry(ReasonTimeout, ActionRotate, 0, true)
		}
		n.metrics.RecordAttempt(string(ps.pool), ReasonTransport, 0)
		ps.logger.Infof("request failed: %v", err)
		return retry(ReasonTransport, ActionRotate, 0, true)
	}

	class := n.detector.Classify(resp.Body, resp.StatusCode)
	n.metrics.RecordAttempt(string(ps.pool), class.String(), resp.Duration)

	switch class {
	case antidetect.Clean:
		return success(resp.Body, resp.StatusCode)
	case antidetect.Captcha:
		return n.solveCaptcha(ctx, sess, st, ps, resp.StatusCode)
	case antidetect.HardBlock:
		return n.hardBlocked(st, ps, resp.StatusCode)
	}

	if resp.StatusCode == 403 {
		return n.forbidden(st, ps)
	}
	ps.logger.Infof("unexpected status %d", resp.StatusCode)
	return retry(ReasonStatus, ActionRotate, resp.StatusCode, true)
}

func (n *Navigator) solveCaptcha(ctx context.Context, sess *session.Session, st *fetchState, ps *poolState, status int) Outcome {
	ps.logger.Warn("got a captcha page")
	start := n.now()
	result, err := n.solver.Solve(ctx, sess, st.url)
	elapsed := n.now().Sub(start)

	if err != nil {
		n.metrics.RecordCaptcha("error", elapsed)
		if ctx.Err() != nil {
			return n.canceled(ctx.Err())
		}
		if utils.IsConfigurationError(err) {
			return terminal(ReasonConfiguration, status, err)
		}
		ps.logger.Warnf("captcha bridge failed: %v", err)
		return retry(ReasonCaptchaFailed, ActionRotate, status, true)
	}
	n.metrics.RecordCaptcha(result.String(), elapsed)

	switch result {
	case antidetect.CaptchaSolved:
		ps.solves++
		ps.logger.Infof("captcha solved (%d in this pool)", ps.solves)
		return retry(ReasonCaptcha, ActionRetry, status, ps.solves > n.cfg.MaxRetries)
	case antidetect.CaptchaHardBlock:
		return n.hardBlocked(st, ps, status)
	default:
		ps.logger.Warnf("captcha not solved within %s", BridgeConfig(n.cfg).MaxWait)
		return retry(ReasonCaptchaTimeout, ActionRotate, status, true)
	}
}

// hardBlocked handles a denial page. The second one in a fetch is final.
func (n *Navigator) hardBlocked(st *fetchState, ps *poolState, status int) Outcome {
	st.hardBlocks++
	if st.hardBlocks > 1 {
		ps.logger.Error("hard-blocked twice, giving up")
		return terminal(ReasonHardBlock, status, nil)
	}
	if ps.backend.CanRotate() {
		ps.logger.Warn("hard-blocked, moving to another proxy")
		return retry(ReasonHardBlock, ActionRotate, status, true)
	}
	ps.logger.Warn("hard-blocked, cooling down before one more try")
	return retry(ReasonHardBlock, ActionCooldownRetry, status, true)
}

// forbidden handles a plain 403. Without rotation the first one gets a
// fresh session right away, later ones wait out the cooldown first.
func (n *Navigator) forbidden(st *fetchState, ps *poolState) Outcome {
	if ps.backend.CanRotate() {
		return retry(ReasonForbidden, ActionRotate, 403, true)
	}
	st.forbidden++
	if st.forbidden == 1 {
		return retry(ReasonForbidden, ActionRefresh, 403, true)
	}
	return retry(ReasonForbidden, ActionCooldownRefresh, 403, true)
}

// apply performs out.Action. A non-nil result ends the pool run.
func (n *Navigator) apply(ctx context.Context, ps *poolState, out Outcome) *Outcome {
	switch out.Action {
	case ActionRetry:
		return nil
	case ActionGrowTimeout:
		ps.timeout += ps.baseline
		return nil
	case ActionCooldownRetry:
		return n.cooldown(ctx, out.Reason)
	case ActionCooldownRefresh:
		if next := n.cooldown(ctx, out.Reason); next != nil {
			return next
		}
		return n.refresh(ps)
	case ActionRefresh:
		return n.refresh(ps)
	case ActionRotate:
		if !ps.backend.CanRotate() {
			return n.refresh(ps)
		}
		return n.rotate(ctx, ps)
	}
	return nil
}

func (n *Navigator) rotate(ctx context.Context, ps *poolState) *Outcome {
	previous := ps.backend.Current()
	addr, err := ps.backend.NextCandidate(ctx, previous)
	if err != nil {
		var out Outcome
		switch {
		case ctx.Err() != nil:
			out = n.canceled(ctx.Err())
		case utils.IsConfigurationError(err):
			out = terminal(ReasonConfiguration, 0, err)
		default:
			if !errors.Is(err, proxy.ErrNoMoreCandidates) {
				ps.logger.Warnf("rotation failed: %v", err)
			}
			out = terminal(ReasonExhausted, 0, err)
		}
		return &out
	}

	n.metrics.RecordRotation(string(ps.pool))
	ps.logger.Infof("rotated from %q to %q", previous, addr)
	ps.timeout = ps.baseline
	return nil
}

func (n *Navigator) refresh(ps *poolState) *Outcome {
	if _, err := ps.backend.Refresh(); err != nil {
		out := terminal(ReasonConfiguration, 0, err)
		return &out
	}
	n.metrics.RecordRefresh(string(ps.pool))
	ps.logger.Debug("session refreshed")
	ps.timeout = ps.baseline
	return nil
}

func (n *Navigator) cooldown(ctx context.Context, reason string) *Outcome {
	d := n.draw(n.cfg.Cooldown)
	n.logger.Infof("cooling down for %s after %s", d.Round(time.Second), reason)
	n.metrics.RecordCooldown(reason)
	if err := n.sleep(ctx, d); err != nil {
		out := n.canceled(err)
		return &out
	}
	return nil
}

func (n *Navigator) canceled(err error) Outcome {
	return terminal(ReasonCanceled, 0, utils.NewError(utils.ErrCodeContextCanceled, "fetch canceled").WithCause(err).Build())
}

// draw returns a uniform duration in [r.Min, r.Max].
func (n *Navigator) draw(r config.RangeConfig) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(n.rnd.Int63n(int64(r.Max-r.Min)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordFetch(string, string, time.Duration) {}
func (nopMetrics) RecordAttempt(string, string, time.Duration) {}
func (nopMetrics) RecordRotation(string) {}
func (nopMetrics) RecordRefresh(string) {}
func (nopMetrics) RecordCooldown(string) {}
func (nopMetrics) RecordEscalation() {}
func (nopMetrics) RecordCaptcha(string, time.Duration) {}
