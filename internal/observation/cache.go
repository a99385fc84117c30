package observation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// Freshness tells a consumer whether a snapshot came from a permitted read.
type Freshness int

const (
	// Fresh means the snapshot is a live read, or younger than the permitted interval.
	Fresh Freshness = iota

	// Stale means a live read was due but was throttled, failed, or held back.
	Stale
)

// String returns "fresh" or "stale".
func (f Freshness) String() string {
	if f == Fresh {
		return "fresh"
	}
	return "stale"
}

// defaultFailureThreshold is used when Options.FailureThreshold is zero.
const defaultFailureThreshold = 3

// defaultReadTimeout is used when Options.ReadTimeout is zero.
const defaultReadTimeout = 30 * time.Second

// singleflight key for status reads.
const statusKey = "status"

// Upstream is the cloud API as the cache needs it.
type Upstream interface {
	FetchConfiguration(ctx context.Context) (pool.ConfigPayload, error)
	FetchStatus(ctx context.Context) (pool.StatusPayload, error)
}

// Logger is the logging interface used by the cache.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Cache.
type Options struct {
	Policy ThrottlePolicy

	// FailureThreshold is the number of consecutive transport failures after
	// which served snapshots report the controller unavailable.
	FailureThreshold int

	// ReadTimeout bounds one shared live read, which outlives any single
	// caller's context.
	ReadTimeout time.Duration

	// ModeOverrides replaces the mode sequence of general channels, keyed by channel id.
	ModeOverrides map[string][]int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	Logger Logger
}

// Cache owns the last known configuration and status snapshot, and decides
// when a live read is permitted.
//
// Throttle rejections and transport failures never surface from Snapshot;
// they are absorbed into the returned Freshness and the snapshot's
// connectivity flag.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Concurrent live reads are
//     coalesced into one upstream call.
type Cache struct {
	upstream  Upstream
	policy    ThrottlePolicy
	threshold int
	timeout   time.Duration
	overrides map[string][]int
	now       func() time.Time
	logger    Logger

	group singleflight.Group

	mu      sync.RWMutex
	cfg     *pool.Configuration
	payload pool.StatusPayload
	snap    pool.Snapshot
	hasSnap bool
	state   ThrottleState
}

type liveResult struct {
	snap      pool.Snapshot
	freshness Freshness
	err       error
}

// New creates an empty cache. Nothing is fetched until Prime or Snapshot.
func New(upstream Upstream, opts Options) *Cache {
	c := &Cache{
		upstream:  upstream,
		policy:    opts.Policy,
		threshold: opts.FailureThreshold,
		timeout:   opts.ReadTimeout,
		overrides: opts.ModeOverrides,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if c.threshold <= 0 {
		c.threshold = defaultFailureThreshold
	}
	if c.timeout <= 0 {
		c.timeout = defaultReadTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// Prime performs the initial configuration and status reads.
// Unlike Snapshot it reports upstream errors, so startup can retry.
// A "pool not connected" status is a successful observation.
func (c *Cache) Prime(ctx context.Context) error {
	c.mu.RLock()
	hasCfg := c.cfg != nil
	c.mu.RUnlock()

	if !hasCfg {
		if err := c.RefreshConfig(ctx); err != nil {
			return err
		}
	}

	res := c.live(ctx)
	if res.err != nil && !errors.Is(res.err, pool.ErrPoolNotConnected) {
		return res.err
	}
	return nil
}

// RefreshConfig re-reads the configuration and replaces it wholesale.
// Throttle rejections and failures are recorded in the throttle state and
// returned, since the caller asked explicitly.
func (c *Cache) RefreshConfig(ctx context.Context) error {
	payload, err := c.upstream.FetchConfiguration(ctx)
	if err != nil {
		c.recordError(err)
		return fmt.Errorf("refreshing configuration: %w", err)
	}
	c.UpdateConfig(pool.NewConfiguration(payload, c.overrides))
	return nil
}

// UpdateConfig replaces the configuration. The current snapshot is rebuilt
// against it so mode indices follow the new sequences.
func (c *Cache) UpdateConfig(cfg *pool.Configuration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	if c.hasSnap {
		rebuilt := pool.NewSnapshot(cfg, c.payload, c.snap.FetchedAt)
		c.snap = rebuilt.WithConnected(c.snap.Connected)
	}
	c.logger.Info("configuration updated", "channels", len(cfg.Channels))
}

// Snapshot returns the current view of the controller.
//
// Without forceLive, a snapshot younger than the permitted interval is
// returned Fresh with no upstream call. Otherwise a live read is attempted
// unless a rejection or failure hold is in force.
//
// Parameters:
//   - ctx: Bounds the live read
//   - forceLive: Skip the age check (the hold still applies)
//
// Returns:
//   - pool.Snapshot: Never an error; before the first read an empty, unavailable snapshot
//   - Freshness: Fresh for a permitted read, Stale otherwise
func (c *Cache) Snapshot(ctx context.Context, forceLive bool) (pool.Snapshot, Freshness) {
	now := c.now()

	c.mu.RLock()
	state := c.state
	has := c.hasSnap
	c.mu.RUnlock()

	if !forceLive && has && now.Sub(state.LastFetch) < c.policy.Interval(state, now) {
		return c.served(), Fresh
	}
	if now.Before(c.policy.HoldUntil(state)) {
		return c.served(), Stale
	}

	res := c.live(ctx)
	return res.snap, res.freshness
}

// Current returns the cached view without any upstream call.
func (c *Cache) Current() (pool.Snapshot, Freshness) {
	now := c.now()
	c.mu.RLock()
	state, has := c.state, c.hasSnap
	c.mu.RUnlock()

	snap := c.served()
	if has && now.Sub(state.LastFetch) < c.policy.Interval(state, now) {
		return snap, Fresh
	}
	return snap, Stale
}

// live performs one coalesced upstream status read. The read runs detached
// from ctx so that a caller giving up never cancels it for the others
// sharing it; that caller alone gets the cached snapshot as stale.
func (c *Cache) live(ctx context.Context) liveResult {
	ch := c.group.DoChan(statusKey, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(readCtx), nil
	})
	select {
	case r := <-ch:
		return r.Val.(liveResult)
	case <-ctx.Done():
		return liveResult{snap: c.served(), freshness: Stale, err: ctx.Err()}
	}
}

func (c *Cache) fetch(ctx context.Context) liveResult {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	if cfg == nil {
		if err := c.RefreshConfig(ctx); err != nil {
			return liveResult{snap: c.served(), freshness: Stale, err: err}
		}
		c.mu.RLock()
		cfg = c.cfg
		c.mu.RUnlock()
	}

	payload, err := c.upstream.FetchStatus(ctx)
	now := c.now()

	c.mu.Lock()
	switch {
	case err == nil:
		c.payload = payload
		c.snap = pool.NewSnapshot(cfg, payload, now)
		c.hasSnap = true
		c.state.LastFetch = now
		c.state.Failures = 0
		c.mu.Unlock()
		return liveResult{snap: c.served(), freshness: Fresh}

	case errors.Is(err, pool.ErrPoolNotConnected):
		if c.hasSnap {
			c.snap = c.snap.Disconnected(now)
		} else {
			c.snap = pool.EmptySnapshot(cfg).Disconnected(now)
			c.hasSnap = true
		}
		c.state.LastFetch = now
		c.state.Failures = 0
		c.mu.Unlock()
		c.logger.Warn("controller reports not connected")
		return liveResult{snap: c.served(), freshness: Fresh, err: err}
	}
	c.mu.Unlock()

	c.recordError(err)
	return liveResult{snap: c.served(), freshness: Stale, err: err}
}

// recordError folds a failed upstream call into the throttle state.
func (c *Cache) recordError(err error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case errors.Is(err, pool.ErrThrottled):
		c.state.LastRejection = now
		c.logger.Debug("live read throttled, serving cache", "retry_after", c.policy.Base)
	case errors.Is(err, context.Canceled):
		// Caller went away; not a failure of the upstream.
	default:
		c.state.Failures++
		c.state.LastFailure = now
		if c.state.Failures == c.threshold {
			c.logger.Error("upstream unavailable, marking controller disconnected",
				"consecutive_failures", c.state.Failures, "error", err)
		} else {
			c.logger.Warn("live read failed, serving cache",
				"consecutive_failures", c.state.Failures, "error", err)
		}
	}
}

// served returns the snapshot consumers may see. Past the failure threshold
// connectivity is forced off; before any read an empty snapshot is returned.
func (c *Cache) served() pool.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.hasSnap {
		return pool.EmptySnapshot(c.cfg)
	}
	if c.state.Failures >= c.threshold {
		return c.snap.WithConnected(false)
	}
	return c.snap
}

// RecordCommandIssued stamps the last-command time, opening the active window.
func (c *Cache) RecordCommandIssued() {
	now := c.now()
	c.mu.Lock()
	c.state.LastCommand = now
	c.mu.Unlock()
}

// Config returns the current configuration, or nil before the first read.
func (c *Cache) Config() *pool.Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Ready reports whether both configuration and a status snapshot are held.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg != nil && c.hasSnap
}

// Throttle returns a copy of the throttle state.
func (c *Cache) Throttle() ThrottleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Policy returns the configured throttle policy.
func (c *Cache) Policy() ThrottlePolicy {
	return c.policy
}

// NextLiveAt is the earliest time a live read would be attempted.
func (c *Cache) NextLiveAt() time.Time {
	return c.policy.NextLiveAt(c.Throttle(), c.now())
}

// HoldUntil is the end of any rejection or failure hold.
func (c *Cache) HoldUntil() time.Time {
	return c.policy.HoldUntil(c.Throttle())
}
