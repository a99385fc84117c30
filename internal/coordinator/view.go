package coordinator

import (
	"time"

	"github.com/nerrad567/poolbridge/internal/observation"
	"github.com/nerrad567/poolbridge/internal/pool"
	"github.com/nerrad567/poolbridge/internal/reconcile"
)

// override is a display mode that replaces the observed mode while a
// request is live.
type override struct {
	handleID string
	mode     int

	// optimistic overrides show the target; pinned ones hold the last
	// confirmed mode.
	optimistic bool
}

// PendingTransition summarises the live request of a channel.
type PendingTransition struct {
	ID               string `json:"id"`
	Target           int    `json:"target"`
	TargetLabel      string `json:"target_label"`
	WaitForExecution bool   `json:"wait_for_execution"`
	State            string `json:"state"`
}

// StatusUpdate is the published view of one channel.
//
// DisplayMode is what a user interface should show: the observed mode,
// except while a request is live, when it is pinned to the last confirmed
// mode (wait_for_execution) or set to the target (optimistic).
type StatusUpdate struct {
	Channel       pool.ChannelID     `json:"channel"`
	Kind          pool.ChannelKind   `json:"kind"`
	Name          string             `json:"name"`
	DisplayMode   int                `json:"display_mode"`
	DisplayLabel  string             `json:"display_label"`
	ObservedMode  int                `json:"observed_mode"`
	ObservedLabel string             `json:"observed_label"`
	Fresh         bool               `json:"fresh"`
	Available     bool               `json:"available"`
	Pending       *PendingTransition `json:"pending,omitempty"`
	Setpoint      *float64           `json:"setpoint,omitempty"`
	SpaSetpoint   *float64           `json:"spa_setpoint,omitempty"`
	Effect        *int               `json:"effect,omitempty"`
	FetchedAt     time.Time          `json:"fetched_at"`
}

// PoolStatus is the published view of the whole controller.
type PoolStatus struct {
	Connected         bool            `json:"connected"`
	Fresh             bool            `json:"fresh"`
	Temperature       *float64        `json:"temperature,omitempty"`
	TemperatureScale  int             `json:"temperature_scale"`
	ActiveFavourite   *pool.Favourite `json:"active_favourite,omitempty"`
	FetchedAt         time.Time       `json:"fetched_at"`
	NextLiveAt        time.Time       `json:"next_live_at"`
	ActiveTransitions int             `json:"active_transitions"`
	Channels          []StatusUpdate  `json:"channels"`
}

// View returns the current view of every channel without any upstream call.
func (c *Coordinator) View() (PoolStatus, error) {
	if !c.cache.Ready() {
		return PoolStatus{}, ErrNotReady
	}
	cfg := c.cache.Config()
	snap, freshness := c.cache.Current()

	ps := PoolStatus{
		Connected:         snap.Connected,
		Fresh:             freshness == observation.Fresh,
		Temperature:       snap.Temperature,
		TemperatureScale:  c.opts.TemperatureScale,
		FetchedAt:         snap.FetchedAt,
		NextLiveAt:        c.cache.NextLiveAt(),
		ActiveTransitions: c.activeCount(),
		Channels:          c.updates(cfg, nil),
	}
	if f, ok := cfg.Favourite(snap.ActiveFavourite); ok && snap.ActiveFavourite != pool.NoFavourite {
		ps.ActiveFavourite = &f
	}
	return ps, nil
}

// ChannelView returns the current view of one channel.
func (c *Coordinator) ChannelView(id pool.ChannelID) (StatusUpdate, error) {
	if !c.cache.Ready() {
		return StatusUpdate{}, ErrNotReady
	}
	cfg := c.cache.Config()
	if _, ok := cfg.Channel(id); !ok {
		return StatusUpdate{}, errUnknownChannel(id)
	}
	return c.updates(cfg, []pool.ChannelID{id})[0], nil
}

// updates builds StatusUpdates for ids, or for every channel when ids is empty.
//
// The snapshot is read after the overrides: a resolution stores its final
// observation before removing its override, so a missing override is never
// paired with an older snapshot.
func (c *Coordinator) updates(cfg *pool.Configuration, ids []pool.ChannelID) []StatusUpdate {
	if cfg == nil {
		return nil
	}
	if len(ids) == 0 {
		ids = make([]pool.ChannelID, 0, len(cfg.Channels))
		for _, d := range cfg.Channels {
			ids = append(ids, d.ID)
		}
	}

	c.mu.Lock()
	overrides := make(map[pool.ChannelID]override, len(ids))
	pending := make(map[pool.ChannelID]*reconcile.Handle, len(ids))
	for _, id := range ids {
		if ov, ok := c.overrides[id]; ok {
			overrides[id] = ov
		}
		if r, ok := c.reconcilers[id]; ok {
			if h := r.Current(); h != nil {
				pending[id] = h
			}
		}
	}
	c.mu.Unlock()
	snap, freshness := c.cache.Current()

	out := make([]StatusUpdate, 0, len(ids))
	for _, id := range ids {
		desc, ok := cfg.Channel(id)
		if !ok {
			continue
		}
		st, _ := snap.Channel(id)
		u := StatusUpdate{
			Channel:       id,
			Kind:          desc.Kind,
			Name:          desc.Name,
			DisplayMode:   st.ModeIndex,
			DisplayLabel:  desc.Modes.Label(st.ModeIndex),
			ObservedMode:  st.ModeIndex,
			ObservedLabel: desc.Modes.Label(st.ModeIndex),
			Fresh:         freshness == observation.Fresh,
			Available:     snap.Connected && st.Reported,
			Setpoint:      st.Setpoint,
			SpaSetpoint:   st.SpaSetpoint,
			Effect:        st.Effect,
			FetchedAt:     snap.FetchedAt,
		}
		if ov, ok := overrides[id]; ok {
			u.DisplayMode = ov.mode
			u.DisplayLabel = desc.Modes.Label(ov.mode)
		}
		if h, ok := pending[id]; ok {
			if _, done := h.Outcome(); !done {
				u.Pending = &PendingTransition{
					ID:               h.ID,
					Target:           h.Target,
					TargetLabel:      desc.Modes.Label(h.Target),
					WaitForExecution: h.WaitForExecution,
					State:            h.State().String(),
				}
			}
		}
		out = append(out, u)
	}
	return out
}

// publish sends the current view of ids (all channels when empty) to
// every subscriber.
func (c *Coordinator) publish(ids ...pool.ChannelID) {
	cfg := c.cache.Config()
	if cfg == nil {
		return
	}
	updates := c.updates(cfg, ids)

	c.subMu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subMu.Unlock()

	for _, u := range updates {
		for _, s := range subs {
			s.offer(u)
		}
	}
}

// publishAll publishes every channel after a read, and forwards a new
// snapshot to telemetry and metrics.
func (c *Coordinator) publishAll() {
	cfg := c.cache.Config()
	if cfg == nil {
		return
	}
	snap, _ := c.cache.Current()

	c.mu.Lock()
	isNew := snap.FetchedAt.After(c.lastWritten)
	if isNew {
		c.lastWritten = snap.FetchedAt
	}
	c.mu.Unlock()

	if isNew {
		c.metrics.SnapshotObserved(snap.FetchedAt, c.cache.Throttle().Failures)
		if c.telemetry != nil {
			c.telemetry.WriteSnapshot(cfg, snap)
		}
	}
	c.publish()
}

// onAccepted installs the display override for a new request.
func (c *Coordinator) onAccepted(h *reconcile.Handle) {
	snap, _ := c.cache.Current()
	st, _ := snap.Channel(h.Channel)

	c.mu.Lock()
	prev, had := c.overrides[h.Channel]
	ov := override{handleID: h.ID, mode: h.Target, optimistic: true}
	if h.WaitForExecution {
		ov = override{handleID: h.ID, mode: st.ModeIndex}
		if had && !prev.optimistic {
			// Keep showing the mode confirmed before the superseded request.
			ov.mode = prev.mode
		}
	}
	c.overrides[h.Channel] = ov

	c.handles[h.ID] = h
	c.handleOrder = append(c.handleOrder, h.ID)
	for len(c.handleOrder) > maxHandles {
		delete(c.handles, c.handleOrder[0])
		c.handleOrder = c.handleOrder[1:]
	}
	c.mu.Unlock()

	c.metrics.ActiveTransitions(c.activeCount())
	c.publish(h.Channel)
	c.poke()
}

func (c *Coordinator) onStep(h *reconcile.Handle, _ reconcile.State) {
	c.publish(h.Channel)
}

// onResolved reverts the display override and reports the outcome.
// A superseded request leaves the override to its successor.
func (c *Coordinator) onResolved(h *reconcile.Handle, o reconcile.Outcome, superseded bool) {
	if !superseded {
		c.mu.Lock()
		if ov, ok := c.overrides[h.Channel]; ok && ov.handleID == h.ID {
			delete(c.overrides, h.Channel)
		}
		c.mu.Unlock()
	}

	detail := "transition " + h.ID
	if superseded {
		detail += " superseded"
	}
	if o.Reason != nil {
		detail += ": " + o.Reason.Error()
	}
	c.record(AuditEvent{
		Action:  "transition",
		Channel: string(h.Channel),
		Value:   c.modeLabel(h.Channel, h.Target),
		Outcome: o.State.String(),
		Detail:  detail,
	})

	c.metrics.TransitionResolved(string(h.Channel), o.State.String())
	c.metrics.ActiveTransitions(c.activeCount())
	c.publish(h.Channel)
	c.poke()
}

func (c *Coordinator) modeLabel(id pool.ChannelID, index int) string {
	desc, ok := c.cache.Config().Channel(id)
	if !ok {
		return ""
	}
	return desc.Modes.Label(index)
}
