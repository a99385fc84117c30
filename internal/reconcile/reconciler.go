package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// Driver performs the I/O a reconciliation needs for one channel.
// Implementations route every call through the shared transport slot.
type Driver interface {
	// Params fixes the machine parameters for req from the current configuration.
	Params(req Request) (Params, error)

	// Current returns the cached observation without any upstream call.
	Current() Observation

	// IssueCommand sends one step towards req.Target. sent is false when the
	// command never left, e.g. ctx ended while waiting for the transport slot.
	IssueCommand(ctx context.Context, req Request) (sent bool, err error)

	// Observe waits for the next permitted live read and returns it. The wait
	// is bounded; on timeout the returned observation is not Fresh.
	Observe(ctx context.Context) (Observation, error)
}

// Hooks are called as a request progresses. They run on the reconciler's
// goroutines and must not block. Nil hooks are skipped.
type Hooks struct {
	OnAccepted func(h *Handle)
	OnStep     func(h *Handle, s State)

	// OnResolved receives every resolution once. superseded is true when a
	// newer request for the same channel cancelled h.
	OnResolved func(h *Handle, o Outcome, superseded bool)
}

// Logger is the logging interface used by the reconciler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Reconciler.
type Options struct {
	Driver Driver
	Hooks  Hooks
	Logger Logger
	Now    func() time.Time
}

// Reconciler owns the live request of one channel.
//
// At most one request is live at a time. A new request resolves the old
// handle Cancelled immediately; the old run stops at its next suspension
// point, still consuming the confirmation read of a command already sent,
// and the new run starts only after it has stopped.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Reconciler struct {
	channel pool.ChannelID
	driver  Driver
	hooks   Hooks
	logger  Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current *run
}

type run struct {
	handle *Handle
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciler for channel. Runs stop when ctx ends.
func New(ctx context.Context, channel pool.ChannelID, opts Options) *Reconciler {
	ctx, cancel := context.WithCancel(ctx)
	r := &Reconciler{
		channel: channel,
		driver:  opts.Driver,
		hooks:   opts.Hooks,
		logger:  opts.Logger,
		now:     opts.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RequestTransition starts driving the channel to target, superseding any
// live request.
//
// Parameters:
//   - target: Index into the channel's mode sequence
//   - wait: Carried to the upstream action and to display handling
//
// Returns:
//   - *Handle: Resolves to Reached, Failed, Cancelled or TimedOut
func (r *Reconciler) RequestTransition(target int, wait bool) *Handle {
	h := newHandle(r.channel, target, wait, r.now())
	ctx, cancel := context.WithCancel(r.ctx)
	cur := &run{handle: h, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.current
	r.current = cur
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		r.supersede(prev.handle)
	}

	r.logger.Info("transition requested",
		"channel", r.channel, "id", h.ID, "target", target, "wait_for_execution", wait)
	if r.hooks.OnAccepted != nil {
		r.hooks.OnAccepted(h)
	}

	go r.drive(ctx, cur, prev)
	return h
}

// Cancel resolves the live request Cancelled. It reports whether one existed.
func (r *Reconciler) Cancel() bool {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur == nil {
		return false
	}
	cur.cancel()
	o := Outcome{State: Cancelled, Mode: r.driver.Current().Mode}
	if cur.handle.resolve(o) {
		r.resolved(cur.handle, o, false)
	}
	return true
}

// Active reports whether a request is live or its run is still winding down.
func (r *Reconciler) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Current returns the live handle, or nil.
func (r *Reconciler) Current() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return r.current.handle
}

// Close cancels any live request and waits for its run to stop.
func (r *Reconciler) Close() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()

	r.Cancel()
	r.cancel()
	if cur != nil {
		<-cur.done
	}
}

func (r *Reconciler) supersede(h *Handle) {
	o := Outcome{State: Cancelled, Mode: r.driver.Current().Mode}
	if h.resolve(o) {
		r.resolved(h, o, true)
	}
}

func (r *Reconciler) drive(ctx context.Context, cur *run, prev *run) {
	defer close(cur.done)
	defer r.release(cur)

	// Never overlap with the previous run's in-flight command.
	if prev != nil {
		<-prev.done
	}

	h := cur.handle
	if ctx.Err() != nil {
		r.finish(h, Outcome{State: Cancelled, Mode: r.driver.Current().Mode})
		return
	}

	params, err := r.driver.Params(h.Request)
	if err != nil {
		r.finish(h, Outcome{State: Failed, Mode: r.driver.Current().Mode, Reason: err})
		return
	}

	m := NewMachine(params)
	step := m.Start(r.driver.Current())
	inFlight := false

	for {
		switch step.Kind {
		case StepResolve:
			r.finish(h, step.Outcome)
			return

		case StepIssueCommand:
			if ctx.Err() != nil {
				r.finish(h, m.Cancel())
				return
			}
			r.step(h, m.State())

			sent, err := r.driver.IssueCommand(ctx, h.Request)
			if !sent && ctx.Err() != nil {
				r.finish(h, m.Cancel())
				return
			}
			if err != nil {
				r.logger.Warn("command failed", "channel", r.channel, "id", h.ID, "error", err)
				step = m.CommandFailed(err)
			} else {
				step = m.CommandIssued()
			}
			inFlight = sent
			r.step(h, m.State())

		case StepObserve:
			obsCtx := ctx
			if inFlight {
				// The confirmation read of a sent command is consumed even if cancelled.
				obsCtx = context.WithoutCancel(ctx)
				inFlight = false
			}
			r.step(h, AwaitingConfirmation)

			obs, err := r.driver.Observe(obsCtx)
			if err != nil {
				obs.Fresh = false
			}
			if ctx.Err() != nil {
				r.finish(h, m.Cancel())
				return
			}
			step = m.Observed(obs)
			r.logger.Debug("confirmation read",
				"channel", r.channel, "id", h.ID, "mode", obs.Mode, "fresh", obs.Fresh,
				"remaining", m.Remaining(), "state", m.State())
		}
	}
}

func (r *Reconciler) release(cur *run) {
	r.mu.Lock()
	if r.current == cur {
		r.current = nil
	}
	r.mu.Unlock()
	cur.cancel()
}

func (r *Reconciler) step(h *Handle, s State) {
	h.setState(s)
	if r.hooks.OnStep != nil {
		r.hooks.OnStep(h, s)
	}
}

func (r *Reconciler) finish(h *Handle, o Outcome) {
	if h.resolve(o) {
		r.resolved(h, o, false)
	}
}

func (r *Reconciler) resolved(h *Handle, o Outcome, superseded bool) {
	args := []any{"channel", r.channel, "id", h.ID, "outcome", o.State, "mode", o.Mode,
		"commands", o.Commands, "retries", o.Retries, "superseded", superseded}
	if o.Reason != nil {
		args = append(args, "reason", o.Reason.Error())
	}
	r.logger.Info("transition resolved", args...)
	if r.hooks.OnResolved != nil {
		r.hooks.OnResolved(h, o, superseded)
	}
}

// IsTerminalFailure reports whether err ends a request without retry.
func IsTerminalFailure(err error) bool {
	return errors.Is(err, pool.ErrPoolNotConnected) ||
		errors.Is(err, pool.ErrUnauthorized) ||
		errors.Is(err, pool.ErrUnknownMode) ||
		errors.Is(err, pool.ErrUnknownChannel)
}
