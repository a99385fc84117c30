package coordinator

import (
	"context"
	"fmt"

	"github.com/nerrad567/poolbridge/internal/observation"
	"github.com/nerrad567/poolbridge/internal/pool"
	"github.com/nerrad567/poolbridge/internal/reconcile"
)

// channelDriver binds one reconciler to the shared cache and transport.
type channelDriver struct {
	c  *Coordinator
	id pool.ChannelID
}

func (d *channelDriver) descriptor() (pool.ChannelDescriptor, error) {
	desc, ok := d.c.cache.Config().Channel(d.id)
	if !ok {
		return pool.ChannelDescriptor{}, fmt.Errorf("%w: %s", pool.ErrUnknownChannel, d.id)
	}
	return desc, nil
}

func (d *channelDriver) Params(req reconcile.Request) (reconcile.Params, error) {
	desc, err := d.descriptor()
	if err != nil {
		return reconcile.Params{}, err
	}
	return reconcile.Params{
		ModeCount:    len(desc.Modes),
		Target:       req.Target,
		DirectSet:    desc.DirectSet,
		MaxAttempts:  d.c.opts.MaxAttempts,
		ConfirmPolls: d.c.opts.ConfirmPolls,
	}, nil
}

func (d *channelDriver) Current() reconcile.Observation {
	snap, freshness := d.c.cache.Current()
	return d.observation(snap, freshness)
}

func (d *channelDriver) observation(snap pool.Snapshot, freshness observation.Freshness) reconcile.Observation {
	st, _ := snap.Channel(d.id)
	return reconcile.Observation{
		Mode:      st.ModeIndex,
		Connected: snap.Connected,
		Fresh:     freshness == observation.Fresh,
	}
}

func (d *channelDriver) IssueCommand(ctx context.Context, req reconcile.Request) (bool, error) {
	desc, err := d.descriptor()
	if err != nil {
		return false, err
	}
	action, err := desc.ModeCommand(req.Target, req.WaitForExecution)
	if err != nil {
		return false, err
	}

	_, sent, err := d.c.transport.execute(ctx, action)
	if !sent {
		return false, err
	}
	d.c.markCommand()
	d.c.metrics.CommandIssued(string(d.id), action.Code.String())

	outcome := "sent"
	detail := fmt.Sprintf("transition %s towards %s", req.ID, desc.Modes.Label(req.Target))
	if err != nil {
		outcome = "error"
		detail += ": " + err.Error()
	}
	d.c.record(AuditEvent{
		Action:  action.Code.String(),
		Channel: string(d.id),
		Value:   action.Value,
		Outcome: outcome,
		Detail:  detail,
	})
	return true, err
}

// Observe waits for the command to settle and for the throttle to permit a
// read, then reads live. Stale results are retried until ObserveTimeout,
// after which the last stale observation is returned.
func (d *channelDriver) Observe(ctx context.Context) (reconcile.Observation, error) {
	c := d.c
	deadline := c.now().Add(c.opts.ObserveTimeout)

	for {
		due := c.cache.NextLiveAt()
		if settled := c.settledAt(); settled.After(due) {
			due = settled
		}
		if due.After(deadline) {
			due = deadline
		}
		if !c.sleep(ctx, due.Sub(c.now())) {
			snap, _ := c.cache.Current()
			return d.observation(snap, observation.Stale), contextErr(ctx, c.ctx)
		}

		snap, freshness := c.cache.Snapshot(ctx, true)
		c.publishAll()
		if freshness == observation.Fresh {
			return d.observation(snap, freshness), nil
		}
		if !c.now().Before(deadline) {
			c.logger.Warn("confirmation read timed out", "channel", d.id, "timeout", c.opts.ObserveTimeout)
			return d.observation(snap, observation.Stale), nil
		}
	}
}

// contextErr returns the first error among ctxs, or context.Canceled.
func contextErr(ctxs ...context.Context) error {
	for _, ctx := range ctxs {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return context.Canceled
}
