package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRenewTimeout bounds a single renewal attempt. Renewal runs
// detached from the caller that happened to start it, so the timeout is the
// only thing that stops a hung authorization server from wedging every
// waiter.
const DefaultRenewTimeout = 10 * time.Second

// attempt is one in-flight renewal and its shared outcome. Waiters block on
// done; ok may only be read after done is closed.
type attempt struct {
	done   chan struct{}
	ok     bool
	reauth sync.Once
}

// claimReauth reports whether the caller is the one that gets to announce
// this attempt's failure. Exactly one caller per attempt wins the claim.
func (a *attempt) claimReauth() bool {
	claimed := false
	a.reauth.Do(func() { claimed = true })
	return claimed
}

// failed reports whether the attempt has completed unsuccessfully. While
// the attempt is still running it reports false.
func (a *attempt) failed() bool {
	select {
	case <-a.done:
		return !a.ok
	default:
		return false
	}
}

// Coordinator collapses concurrent renewal triggers into a single renewal
// call. The first caller in an idle period starts the renewal; callers
// arriving while it runs attach to it and observe the same outcome. The
// moment an attempt completes the Coordinator is idle again, so a later
// call always starts a fresh renewal rather than reusing a stale result.
type Coordinator struct {
	renewer Renewer
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	current *attempt
}

// NewCoordinator returns a Coordinator that renews through renewer.
// logger may be nil.
func NewCoordinator(renewer Renewer, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		renewer: renewer,
		timeout: DefaultRenewTimeout,
		log:     ensureLogger(logger),
	}
}

// SetTimeout overrides the per-attempt renewal timeout. Call it before the
// Coordinator is in use.
func (c *Coordinator) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Refresh renews the access credential and reports whether renewal
// succeeded. It never returns an error: renewal failure is an expected
// outcome, reported as false, and the cause is logged instead.
//
// If a renewal is already in flight, Refresh does not start another; it
// waits for the in-flight attempt and returns its outcome. If ctx is
// canceled while waiting, Refresh returns false but the attempt keeps
// running for the callers still attached to it.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	ok, _ := c.refresh(ctx)
	return ok
}

// refresh also returns the attempt that produced the outcome, so callers
// inside the package can claim per-attempt side effects.
func (c *Coordinator) refresh(ctx context.Context) (bool, *attempt) {
	c.mu.Lock()
	if a := c.current; a != nil {
		c.mu.Unlock()
		return c.await(ctx, a), a
	}
	a := &attempt{done: make(chan struct{})}
	c.current = a
	c.mu.Unlock()

	a.ok = c.renewOnce(ctx)

	// Clear before closing done: once the outcome is decided, the next
	// caller must start a new attempt, not read this one's result.
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	close(a.done)

	return a.ok, a
}

func (c *Coordinator) await(ctx context.Context, a *attempt) bool {
	select {
	case <-a.done:
		return a.ok
	case <-ctx.Done():
		c.log.Debug("renewal waiter canceled", "error", ctx.Err())
		return false
	}
}

// renewOnce runs a single renewal attempt. The attempt is detached from
// the triggering caller's cancellation, because its outcome is shared with
// every waiter; it is bounded by the coordinator's timeout instead.
func (c *Coordinator) renewOnce(ctx context.Context) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.renewer.Renew(rctx); err != nil {
		c.log.Warn("credential renewal failed", "error", err, "elapsed", time.Since(start))
		return false
	}
	c.log.Debug("credential renewed", "elapsed", time.Since(start))
	return true
}
