// internal/proxy/pool.go
package proxy

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/ScholarNav/internal/utils"
)

// DefaultRefetchInterval is the minimum spacing between two downloads of
// the candidate list.
const DefaultRefetchInterval = 10 * time.Second

// RotatingPoolOptions configures a RotatingPool.
type RotatingPoolOptions struct {
	// ValidationTimeout bounds the check of one candidate.
	ValidationTimeout time.Duration
	// PoolRefreshWaitTime is how long NextCandidate searches before giving
	// up. The budget restarts after every validated candidate.
	PoolRefreshWaitTime time.Duration
	// RefetchInterval throttles downloads of the candidate list.
	RefetchInterval time.Duration
}

// RotatingPool draws proxies from a Source, validates them and never offers
// a proxy it has retired.
type RotatingPool struct {
	*base

	source  Source
	checker Checker
	opts    RotatingPoolOptions

	queue   []Address
	dirty   map[Address]struct{}
	refetch *rate.Limiter
	now     func() time.Time
}

// NewRotatingPool creates the pool and switches its session to the first
// working candidate.
func NewRotatingPool(ctx context.Context, poolOpts RotatingPoolOptions, opts Options) (*RotatingPool, error) {
	if opts.Source == nil {
		return nil, utils.ConfigError(nil, "rotating pool has no proxy source")
	}
	if opts.Checker == nil {
		return nil, utils.ConfigError(nil, "rotating pool has no proxy checker")
	}
	if poolOpts.ValidationTimeout <= 0 {
		poolOpts.ValidationTimeout = time.Second
	}
	if poolOpts.PoolRefreshWaitTime <= 0 {
		poolOpts.PoolRefreshWaitTime = 120 * time.Second
	}
	if poolOpts.RefetchInterval <= 0 {
		poolOpts.RefetchInterval = DefaultRefetchInterval
	}

	b, err := newBase(ModeRotatingPool, settingsFor(""), opts.Timeout, opts.logger())
	if err != nil {
		return nil, err
	}

	p := &RotatingPool{
		base:    b,
		source:  opts.Source,
		checker: opts.Checker,
		opts:    poolOpts,
		dirty:   make(map[Address]struct{}),
		refetch: rate.NewLimiter(rate.Every(poolOpts.RefetchInterval), 1),
		now:     time.Now,
	}

	if _, err := p.NextCandidate(ctx, ""); err != nil {
		p.Close()
		return nil, utils.NewError(utils.ErrCodeNoCandidates, "none of the free proxies are working at the moment").
			WithCause(err).
			WithUserMessage("None of the free proxies are working at the moment. Try again after a few minutes.").
			Build()
	}
	return p, nil
}

// CanRotate reports true; exhaustion is signalled by NextCandidate.
func (p *RotatingPool) CanRotate() bool { return true }

// IsDirty reports whether addr has been retired.
func (p *RotatingPool) IsDirty(addr Address) bool {
	_, ok := p.dirty[addr]
	return ok
}

// NextCandidate retires previous and returns the next validated proxy.
func (p *RotatingPool) NextCandidate(ctx context.Context, previous Address) (Address, error) {
	if previous != "" {
		p.markDirty(previous)
	}

	deadline := p.now().Add(p.opts.PoolRefreshWaitTime)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !p.now().Before(deadline) {
			p.logger.Warnf("no working proxy found within %v", p.opts.PoolRefreshWaitTime)
			return "", ErrNoMoreCandidates
		}

		addr, ok := p.pop()
		if !ok {
			if err := p.refill(ctx, deadline); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", ErrNoMoreCandidates
			}
			continue
		}

		if _, err := p.checker.Check(ctx, settingsFor(addr), p.opts.ValidationTimeout); err != nil {
			if ctx.Err() != nil {
				p.queue = append([]Address{addr}, p.queue...)
				return "", ctx.Err()
			}
			p.logger.Debugf("candidate %s failed validation: %v", addr, err)
			p.markDirty(addr)
			continue
		}

		if _, err := p.sessions.Swap(settingsFor(addr)); err != nil {
			p.markDirty(addr)
			continue
		}
		p.current = addr
		p.logger.Infof("switched to proxy %s", addr)
		return addr, nil
	}
}

func (p *RotatingPool) markDirty(addr Address) {
	p.dirty[addr] = struct{}{}
}

// pop returns the next queued address that is not dirty.
func (p *RotatingPool) pop() (Address, bool) {
	for len(p.queue) > 0 {
		addr := p.queue[0]
		p.queue = p.queue[1:]
		if !p.IsDirty(addr) {
			return addr, true
		}
	}
	return "", false
}

// refill downloads the candidate list again, waiting for the refetch
// limiter. It fails when the wait would pass deadline.
func (p *RotatingPool) refill(ctx context.Context, deadline time.Time) error {
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := p.refetch.Wait(waitCtx); err != nil {
		return err
	}

	addrs, err := p.source.Fetch(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		p.logger.Warnf("failed to fetch proxies from %s: %v", p.source.Name(), err)
		return nil
	}
	p.queue = append(p.queue, addrs...)
	return nil
}
