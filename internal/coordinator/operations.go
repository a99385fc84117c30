package coordinator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nerrad567/poolbridge/internal/observation"
	"github.com/nerrad567/poolbridge/internal/pool"
	"github.com/nerrad567/poolbridge/internal/reconcile"
)

// TransitionView describes a request and, once resolved, its outcome.
type TransitionView struct {
	reconcile.Request
	TargetLabel string       `json:"target_label"`
	State       string       `json:"state"`
	Outcome     *OutcomeView `json:"outcome,omitempty"`
}

// OutcomeView is the serialisable form of reconcile.Outcome.
type OutcomeView struct {
	State     string `json:"state"`
	Mode      int    `json:"mode"`
	ModeLabel string `json:"mode_label"`
	Reason    string `json:"reason,omitempty"`
	Commands  int    `json:"commands"`
	Retries   int    `json:"retries"`
}

func errUnknownChannel(id pool.ChannelID) error {
	return fmt.Errorf("%w: %s", pool.ErrUnknownChannel, id)
}

// ready checks the coordinator accepts operations.
func (c *Coordinator) ready() error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}
	if !c.cache.Ready() {
		return ErrNotReady
	}
	return nil
}

func (c *Coordinator) descriptor(id pool.ChannelID) (pool.ChannelDescriptor, error) {
	if err := c.ready(); err != nil {
		return pool.ChannelDescriptor{}, err
	}
	desc, ok := c.cache.Config().Channel(id)
	if !ok {
		return pool.ChannelDescriptor{}, errUnknownChannel(id)
	}
	return desc, nil
}

// ResolveMode finds a mode of channel id by label or numeric code.
func (c *Coordinator) ResolveMode(id pool.ChannelID, ref string) (int, error) {
	desc, err := c.descriptor(id)
	if err != nil {
		return -1, err
	}
	i := desc.Modes.Resolve(ref)
	if i < 0 {
		return -1, fmt.Errorf("%w: %q for %s", pool.ErrUnknownMode, ref, id)
	}
	return i, nil
}

// SubmitTransition asks for channel id to be driven to mode, given by label
// or numeric code. Any live request for the channel is superseded.
//
// Parameters:
//   - id: Channel id
//   - mode: Mode label or code
//   - wait: Display and upstream wait_for_execution; nil uses the configured default
//
// Returns:
//   - *reconcile.Handle: Resolves once with the outcome
//   - error: ErrNotReady, pool.ErrUnknownChannel or pool.ErrUnknownMode
func (c *Coordinator) SubmitTransition(id pool.ChannelID, mode string, wait *bool) (*reconcile.Handle, error) {
	target, err := c.ResolveMode(id, mode)
	if err != nil {
		return nil, err
	}
	w := c.opts.WaitForExecution
	if wait != nil {
		w = *wait
	}
	return c.reconcilerFor(id).RequestTransition(target, w), nil
}

func (c *Coordinator) reconcilerFor(id pool.ChannelID) *reconcile.Reconciler {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reconcilers[id]
	if !ok {
		r = reconcile.New(c.ctx, id, reconcile.Options{
			Driver: &channelDriver{c: c, id: id},
			Hooks: reconcile.Hooks{
				OnAccepted: c.onAccepted,
				OnStep:     c.onStep,
				OnResolved: c.onResolved,
			},
			Logger: c.logger,
			Now:    c.now,
		})
		c.reconcilers[id] = r
	}
	return r
}

// CancelTransition cancels the live request of channel id.
func (c *Coordinator) CancelTransition(id pool.ChannelID) error {
	if _, err := c.descriptor(id); err != nil {
		return err
	}
	c.mu.Lock()
	r, ok := c.reconcilers[id]
	c.mu.Unlock()
	if !ok || !r.Cancel() {
		return fmt.Errorf("%w: %s", ErrNoTransition, id)
	}
	return nil
}

// Transition looks up a recent request by id.
func (c *Coordinator) Transition(requestID string) (*reconcile.Handle, error) {
	c.mu.Lock()
	h, ok := c.handles[requestID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransitionNotFound, requestID)
	}
	return h, nil
}

// Describe renders a handle for callers outside the process.
func (c *Coordinator) Describe(h *reconcile.Handle) TransitionView {
	v := TransitionView{
		Request:     h.Request,
		TargetLabel: c.modeLabel(h.Channel, h.Target),
		State:       h.State().String(),
	}
	if o, ok := h.Outcome(); ok {
		ov := &OutcomeView{
			State:     o.State.String(),
			Mode:      o.Mode,
			ModeLabel: c.modeLabel(h.Channel, o.Mode),
			Commands:  o.Commands,
			Retries:   o.Retries,
		}
		if o.Reason != nil {
			ov.Reason = o.Reason.Error()
		}
		v.Outcome = ov
	}
	return v
}

// RefreshConfiguration re-reads the channel configuration. Requests for
// channels that no longer exist are cancelled.
func (c *Coordinator) RefreshConfiguration(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}
	if err := c.cache.RefreshConfig(ctx); err != nil {
		return err
	}
	cfg := c.cache.Config()

	c.mu.Lock()
	if c.stopped {
		// Stop owns the reconcilers and may already be waiting on wg.
		c.mu.Unlock()
		return ErrStopped
	}
	var removed []*reconcile.Reconciler
	for id, r := range c.reconcilers {
		if _, ok := cfg.Channel(id); !ok {
			removed = append(removed, r)
			delete(c.reconcilers, id)
			delete(c.overrides, id)
		}
	}
	c.wg.Add(len(removed))
	c.mu.Unlock()

	for _, r := range removed {
		r := r
		r.Cancel()
		go func() {
			defer c.wg.Done()
			r.Close()
		}()
	}
	c.publishAll()
	return nil
}

// RefreshStatus forces a live read. A rejection or failure hold still
// applies, in which case the cached snapshot is returned Stale.
func (c *Coordinator) RefreshStatus(ctx context.Context) (PoolStatus, error) {
	if err := c.ready(); err != nil {
		return PoolStatus{}, err
	}
	c.cache.Snapshot(ctx, true)
	c.publishAll()
	return c.View()
}

// ExecuteAction sends an action unmodified, bypassing reconciliation.
// The active window opens as for any command, so the effect is observed
// at the active interval.
func (c *Coordinator) ExecuteAction(ctx context.Context, action pool.Action) (pool.ActionReceipt, error) {
	if err := c.ready(); err != nil {
		return pool.ActionReceipt{}, err
	}
	return c.execute(ctx, action, "")
}

func (c *Coordinator) execute(ctx context.Context, action pool.Action, channel pool.ChannelID) (pool.ActionReceipt, error) {
	receipt, sent, err := c.transport.execute(ctx, action)
	if !sent {
		return receipt, err
	}
	c.markCommand()
	label := string(channel)
	if label == "" {
		label = "pool"
	}
	c.metrics.CommandIssued(label, action.Code.String())

	e := AuditEvent{
		Action:  action.Code.String(),
		Channel: string(channel),
		Value:   action.Value,
		Outcome: "sent",
		Detail:  "device " + strconv.Itoa(action.DeviceNumber),
	}
	if err != nil {
		e.Outcome = "error"
		e.Detail += ": " + err.Error()
		c.logger.Warn("action failed", "action", action.Code, "device", action.DeviceNumber, "error", err)
	} else {
		c.logger.Info("action sent", "action", action.Code, "device", action.DeviceNumber,
			"value", action.Value, "action_number", receipt.ActionNumber)
	}
	c.record(e)
	if err != nil {
		return receipt, fmt.Errorf("executing %s: %w", action.Code, err)
	}
	return receipt, nil
}

// ActionStatus queries the cloud for an earlier action's progress.
func (c *Coordinator) ActionStatus(ctx context.Context, actionNumber int) (map[string]any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.transport.actionStatus(ctx, actionNumber)
}

// SetSetpoint sets a heater or solar target temperature, rounded to a
// whole degree in the configured scale.
func (c *Coordinator) SetSetpoint(ctx context.Context, id pool.ChannelID, value float64) (pool.ActionReceipt, error) {
	desc, err := c.descriptor(id)
	if err != nil {
		return pool.ActionReceipt{}, err
	}
	if !desc.SupportsSetpoint {
		return pool.ActionReceipt{}, fmt.Errorf("%w: %s has no setpoint", pool.ErrUnsupported, id)
	}
	v, err := pool.SetpointValue(value, c.opts.TemperatureScale)
	if err != nil {
		return pool.ActionReceipt{}, err
	}
	return c.execute(ctx, pool.Action{
		Code:             desc.SetpointAction,
		DeviceNumber:     desc.Number,
		Value:            v,
		WaitForExecution: c.opts.WaitForExecution,
	}, id)
}

// SetLightEffect selects a colour or show on a colour-enabled lighting zone.
func (c *Coordinator) SetLightEffect(ctx context.Context, id pool.ChannelID, effect string) (pool.ActionReceipt, error) {
	desc, err := c.descriptor(id)
	if err != nil {
		return pool.ActionReceipt{}, err
	}
	if !desc.SupportsEffects {
		return pool.ActionReceipt{}, fmt.Errorf("%w: %s has no effects", pool.ErrUnsupported, id)
	}
	e, ok := desc.Effect(effect)
	if !ok {
		return pool.ActionReceipt{}, fmt.Errorf("%w: %q for %s", pool.ErrUnknownEffect, effect, id)
	}
	return c.execute(ctx, pool.Action{
		Code:             pool.ActionSetLightColor,
		DeviceNumber:     desc.Number,
		Value:            strconv.Itoa(e.Number),
		WaitForExecution: c.opts.WaitForExecution,
	}, id)
}

// SyncLights restarts the colour sequence of a lighting zone.
func (c *Coordinator) SyncLights(ctx context.Context, id pool.ChannelID) (pool.ActionReceipt, error) {
	desc, err := c.descriptor(id)
	if err != nil {
		return pool.ActionReceipt{}, err
	}
	if desc.Kind != pool.KindLight {
		return pool.ActionReceipt{}, fmt.Errorf("%w: %s is not a lighting zone", pool.ErrUnsupported, id)
	}
	return c.execute(ctx, pool.Action{
		Code:             pool.ActionLightSync,
		DeviceNumber:     desc.Number,
		WaitForExecution: c.opts.WaitForExecution,
	}, id)
}

// ActivateFavourite activates a stored favourite by number.
func (c *Coordinator) ActivateFavourite(ctx context.Context, number int) (pool.ActionReceipt, error) {
	if err := c.ready(); err != nil {
		return pool.ActionReceipt{}, err
	}
	if _, ok := c.cache.Config().Favourite(number); !ok {
		return pool.ActionReceipt{}, fmt.Errorf("%w: %d", pool.ErrUnknownFavourite, number)
	}
	return c.execute(ctx, pool.Action{
		Code:             pool.ActionSetActiveFavourite,
		DeviceNumber:     number,
		WaitForExecution: c.opts.WaitForExecution,
	}, "")
}

// Freshness of the cached snapshot, for callers that only need the flag.
func (c *Coordinator) Freshness() observation.Freshness {
	_, f := c.cache.Current()
	return f
}
