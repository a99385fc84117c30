package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// Upstream operation names used for metrics.
const (
	opConfig       = "config"
	opStatus       = "status"
	opAction       = "action"
	opActionStatus = "action_status"
)

// Upstream is the cloud API as the coordinator needs it.
// *connectmypool.Client satisfies it.
type Upstream interface {
	FetchConfiguration(ctx context.Context) (pool.ConfigPayload, error)
	FetchStatus(ctx context.Context) (pool.StatusPayload, error)
	Execute(ctx context.Context, action pool.Action) (pool.ActionReceipt, error)
	ActionStatus(ctx context.Context, actionNumber int) (map[string]any, error)
}

// transport serialises every upstream call through one slot.
// It is handed to the observation cache as its Upstream, so status reads
// and commands for all channels share the slot.
type transport struct {
	upstream Upstream
	slot     chan struct{}
	metrics  Metrics
	timeout  time.Duration
}

func newTransport(upstream Upstream, metrics Metrics, timeout time.Duration) *transport {
	return &transport{
		upstream: upstream,
		slot:     make(chan struct{}, 1),
		metrics:  metrics,
		timeout:  timeout,
	}
}

// acquire takes the slot or gives up when ctx ends.
func (t *transport) acquire(ctx context.Context) (release func(), err error) {
	select {
	case t.slot <- struct{}{}:
		return func() { <-t.slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *transport) FetchConfiguration(ctx context.Context) (pool.ConfigPayload, error) {
	release, err := t.acquire(ctx)
	if err != nil {
		return pool.ConfigPayload{}, err
	}
	defer release()

	start := time.Now()
	p, err := t.upstream.FetchConfiguration(ctx)
	t.observe(opConfig, start, err)
	return p, err
}

func (t *transport) FetchStatus(ctx context.Context) (pool.StatusPayload, error) {
	release, err := t.acquire(ctx)
	if err != nil {
		return pool.StatusPayload{}, err
	}
	defer release()

	start := time.Now()
	p, err := t.upstream.FetchStatus(ctx)
	t.observe(opStatus, start, err)
	return p, err
}

// execute sends one action. Once the slot is held the send is detached from
// ctx: a command that has started is never aborted.
//
// Returns:
//   - sent: false only when ctx ended while waiting for the slot
func (t *transport) execute(ctx context.Context, action pool.Action) (receipt pool.ActionReceipt, sent bool, err error) {
	release, err := t.acquire(ctx)
	if err != nil {
		return pool.ActionReceipt{}, false, err
	}
	defer release()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	start := time.Now()
	receipt, err = t.upstream.Execute(sendCtx, action)
	t.observe(opAction, start, err)
	return receipt, true, err
}

func (t *transport) actionStatus(ctx context.Context, actionNumber int) (map[string]any, error) {
	release, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	status, err := t.upstream.ActionStatus(ctx, actionNumber)
	t.observe(opActionStatus, start, err)
	return status, err
}

func (t *transport) observe(op string, start time.Time, err error) {
	t.metrics.UpstreamRequest(op, resultOf(err), time.Since(start))
}

// resultOf classifies an upstream error for metrics labels.
func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pool.ErrThrottled):
		return "throttled"
	case errors.Is(err, pool.ErrPoolNotConnected):
		return "not_connected"
	case errors.Is(err, pool.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
