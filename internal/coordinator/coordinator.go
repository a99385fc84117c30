package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/poolbridge/internal/observation"
	"github.com/nerrad567/poolbridge/internal/pool"
	"github.com/nerrad567/poolbridge/internal/reconcile"
)

// Coordinator defaults.
const (
	defaultObserveTimeout = 90 * time.Second
	defaultCommandTimeout = 30 * time.Second
	defaultAuditTimeout   = 5 * time.Second

	// maxHandles bounds the transition history kept for lookups by id.
	maxHandles = 256
)

// Logger is the logging interface used by the coordinator.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics receives coordinator measurements. It is optional.
type Metrics interface {
	UpstreamRequest(operation, result string, elapsed time.Duration)
	CommandIssued(channel string, action string)
	TransitionResolved(channel string, outcome string)
	ActiveTransitions(n int)
	SnapshotObserved(fetchedAt time.Time, consecutiveFailures int)
}

// AuditEvent is one row of the action log.
type AuditEvent struct {
	Action  string
	Channel string
	Value   string
	Outcome string
	Detail  string
}

// Auditor persists AuditEvents. It is optional; audit.SQLiteRepository
// satisfies it.
type Auditor interface {
	Record(ctx context.Context, e AuditEvent) error
}

// Telemetry receives every new snapshot. It is optional and must not block.
type Telemetry interface {
	WriteSnapshot(cfg *pool.Configuration, snap pool.Snapshot)
}

// Options configures a Coordinator.
type Options struct {
	Policy           observation.ThrottlePolicy
	FailureThreshold int
	ModeOverrides    map[string][]int

	// SettleDelay is the pause after a command before its confirmation read.
	SettleDelay time.Duration

	// ObserveTimeout bounds one confirmation wait.
	ObserveTimeout time.Duration

	// ConfirmPolls is the number of reads a command has to show up.
	// 0 derives it from the active window.
	ConfirmPolls int

	// MaxAttempts is the retry budget per request. 0 means mode count + 2.
	MaxAttempts int

	// WaitForExecution is the default for requests that do not say.
	WaitForExecution bool

	TemperatureScale int

	// CommandTimeout bounds one upstream action once the slot is held.
	CommandTimeout time.Duration

	Now       func() time.Time
	Logger    Logger
	Metrics   Metrics
	Audit     Auditor
	Telemetry Telemetry
}

// Coordinator owns the observation cache and one reconciler per channel,
// runs the poll loop, and routes every upstream call through one slot.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Coordinator struct {
	opts      Options
	transport *transport
	cache     *observation.Cache
	logger    Logger
	metrics   Metrics
	audit     Auditor
	telemetry Telemetry
	now       func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	wake     chan struct{}
	started  bool
	stopped  bool
	stopOnce sync.Once

	mu            sync.Mutex
	reconcilers   map[pool.ChannelID]*reconcile.Reconciler
	overrides     map[pool.ChannelID]override
	handles       map[string]*reconcile.Handle
	handleOrder   []string
	lastCommandAt time.Time
	lastWritten   time.Time

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// New creates a Coordinator. Call Start to begin polling.
//
// Parameters:
//   - upstream: Cloud API client
//   - opts: Throttle policy, reconciliation tuning and optional sinks
//
// Returns:
//   - *Coordinator: Ready to Start
//   - error: If upstream is nil or the policy is unusable
func New(upstream Upstream, opts Options) (*Coordinator, error) {
	if upstream == nil {
		return nil, errors.New("coordinator: upstream is required")
	}
	if opts.Policy.Base <= 0 || opts.Policy.Active <= 0 {
		return nil, fmt.Errorf("coordinator: invalid throttle policy %+v", opts.Policy)
	}
	if opts.ObserveTimeout <= 0 {
		opts.ObserveTimeout = defaultObserveTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.ConfirmPolls <= 0 {
		opts.ConfirmPolls = reconcile.DefaultConfirmPolls(opts.Policy.Window, opts.Policy.Active)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:        opts,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
		telemetry:   opts.Telemetry,
		now:         opts.Now,
		ctx:         ctx,
		cancel:      cancel,
		wake:        make(chan struct{}, 1),
		reconcilers: make(map[pool.ChannelID]*reconcile.Reconciler),
		overrides:   make(map[pool.ChannelID]override),
		handles:     make(map[string]*reconcile.Handle),
		subs:        make(map[*Subscription]struct{}),
	}
	c.transport = newTransport(upstream, opts.Metrics, opts.CommandTimeout)
	c.cache = observation.New(c.transport, observation.Options{
		Policy:           opts.Policy,
		FailureThreshold: opts.FailureThreshold,
		ReadTimeout:      opts.CommandTimeout,
		ModeOverrides:    opts.ModeOverrides,
		Now:              opts.Now,
		Logger:           opts.Logger,
	})
	return c, nil
}

// Start launches the poll loop. The first configuration and status reads
// happen in the background, retried until they succeed; operations return
// ErrNotReady until then.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return nil
	}
	c.started = true

	// Stop when the caller's context ends, as well as on Stop.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			c.cancel()
		case <-c.ctx.Done():
		}
	}()

	c.wg.Add(1)
	go c.pollLoop()

	c.logger.Info("coordinator started",
		"base_interval", c.opts.Policy.Base,
		"active_interval", c.opts.Policy.Active,
		"active_window", c.opts.Policy.Window,
		"confirm_polls", c.opts.ConfirmPolls,
	)
	return nil
}

// Stop cancels every reconciliation, stops the poll loop and closes all
// subscriptions. It is safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		recs := make([]*reconcile.Reconciler, 0, len(c.reconcilers))
		for _, r := range c.reconcilers {
			recs = append(recs, r)
		}
		c.mu.Unlock()

		c.cancel()
		for _, r := range recs {
			r.Close()
		}
		c.wg.Wait()

		c.subMu.Lock()
		subs := make([]*Subscription, 0, len(c.subs))
		for s := range c.subs {
			subs = append(subs, s)
		}
		c.subMu.Unlock()
		for _, s := range subs {
			s.Close()
		}
		c.logger.Info("coordinator stopped")
	})
}

// Ready reports whether configuration and a first status are held.
func (c *Coordinator) Ready() bool {
	return c.cache.Ready()
}

// HealthCheck reports ErrNotReady before the first read and
// ErrUpstreamUnavailable once consecutive failures reach the threshold.
// A controller that reports itself offline is not a health failure.
func (c *Coordinator) HealthCheck(_ context.Context) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if !c.cache.Ready() {
		return ErrNotReady
	}
	threshold := c.opts.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if n := c.cache.Throttle().Failures; n >= threshold {
		return fmt.Errorf("%w: %d consecutive failures", ErrUpstreamUnavailable, n)
	}
	return nil
}

// Configuration returns the current channel configuration, or nil before
// the first read.
func (c *Coordinator) Configuration() *pool.Configuration {
	return c.cache.Config()
}

// Throttle returns the cache's throttle state.
func (c *Coordinator) Throttle() observation.ThrottleState {
	return c.cache.Throttle()
}

// pollLoop primes the cache, then reads at the active interval while any
// reconciliation runs or a command was issued recently, else at the base
// interval.
func (c *Coordinator) pollLoop() {
	defer c.wg.Done()

	for !c.cache.Ready() {
		err := c.cache.Prime(c.ctx)
		if err == nil {
			cfg := c.cache.Config()
			c.logger.Info("pool primed", "channels", len(cfg.Channels))
			c.publishAll()
			break
		}
		if c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, pool.ErrUnauthorized) {
			c.logger.Error("pool api code rejected, retrying", "error", err)
		} else {
			c.logger.Warn("initial read failed, retrying", "error", err)
		}
		delay := c.cache.NextLiveAt().Sub(c.now())
		if delay < c.opts.Policy.Active {
			delay = c.opts.Policy.Active
		}
		if !c.sleep(c.ctx, delay) {
			return
		}
	}

	for {
		due := c.nextPollAt()
		timer := time.NewTimer(max(due.Sub(c.now()), 0))
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-c.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		c.cache.Snapshot(c.ctx, true)
		c.publishAll()
	}
}

// nextPollAt is the next scheduled read: the poll interval after the last
// fetch, pushed out by any rejection or failure hold.
func (c *Coordinator) nextPollAt() time.Time {
	state := c.cache.Throttle()
	now := c.now()

	interval := c.opts.Policy.Base
	if c.activeCount() > 0 || c.opts.Policy.InActiveWindow(state, now) {
		interval = c.opts.Policy.Active
	}
	next := state.LastFetch.Add(interval)
	if hold := c.opts.Policy.HoldUntil(state); hold.After(next) {
		next = hold
	}
	if settled := c.settledAt(); settled.After(next) {
		next = settled
	}
	return next
}

// settledAt is when the last command's effect should be visible.
func (c *Coordinator) settledAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastCommandAt.IsZero() {
		return time.Time{}
	}
	return c.lastCommandAt.Add(c.opts.SettleDelay)
}

// poke reschedules the poll loop.
func (c *Coordinator) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.reconcilers {
		if r.Active() {
			n++
		}
	}
	return n
}

// sleep waits d or until ctx or the coordinator ends. It reports whether
// the full wait elapsed.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil && c.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.ctx.Done():
		return false
	}
}

func (c *Coordinator) markCommand() {
	c.cache.RecordCommandIssued()
	c.mu.Lock()
	c.lastCommandAt = c.now()
	c.mu.Unlock()
	c.poke()
}

func (c *Coordinator) record(e AuditEvent) {
	if c.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultAuditTimeout)
	defer cancel()
	if err := c.audit.Record(ctx, e); err != nil {
		c.logger.Warn("audit write failed", "action", e.Action, "error", err)
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) UpstreamRequest(string, string, time.Duration) {}
func (noopMetrics) CommandIssued(string, string)                  {}
func (noopMetrics) TransitionResolved(string, string)             {}
func (noopMetrics) ActiveTransitions(int)                         {}
func (noopMetrics) SnapshotObserved(time.Time, int)               {}
