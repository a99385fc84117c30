package pool

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ChannelKind classifies a controllable unit.
type ChannelKind string

// Channel kinds.
const (
	KindSwitch     ChannelKind = "switch"
	KindMultiSpeed ChannelKind = "multi_speed"
	KindValve      ChannelKind = "valve"
	KindLight      ChannelKind = "light"
	KindHeater     ChannelKind = "heater"
	KindSolar      ChannelKind = "solar"
	KindSelection  ChannelKind = "selection"
)

// ChannelID identifies a channel across configuration refreshes,
// e.g. "channel-1", "valve-2", "light-1", "pool-spa".
type ChannelID string

// Fixed ids of the controller-wide selections.
const (
	PoolSpaID  ChannelID = "pool-spa"
	HeatCoolID ChannelID = "heat-cool"
)

var idPrefixes = map[ChannelKind]string{
	KindSwitch:     "channel",
	KindMultiSpeed: "channel",
	KindValve:      "valve",
	KindLight:      "light",
	KindHeater:     "heater",
	KindSolar:      "solar",
}

// IDFor builds the channel id of a numbered device.
func IDFor(kind ChannelKind, number int) ChannelID {
	prefix, ok := idPrefixes[kind]
	if !ok {
		prefix = string(kind)
	}
	return ChannelID(prefix + "-" + strconv.Itoa(number))
}

// Effect is a named lighting colour or show.
type Effect struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// Favourite is a stored controller preset.
type Favourite struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// NoFavourite is the active_favourite value meaning none is active.
const NoFavourite = 255

// ChannelDescriptor describes one controllable channel.
//
// Descriptors are built by NewConfiguration and treated as immutable;
// the Modes and Effects slices must not be modified by callers.
type ChannelDescriptor struct {
	ID       ChannelID    `json:"id"`
	Kind     ChannelKind  `json:"kind"`
	Name     string       `json:"name"`
	Number   int          `json:"number"`
	Function string       `json:"function,omitempty"`
	Modes    ModeSequence `json:"modes"`

	// DirectSet channels accept a target mode in one action. Cycle-only
	// channels (general channels) advance one step per action.
	DirectSet  bool       `json:"direct_set"`
	ModeAction ActionCode `json:"mode_action"`

	SupportsEffects  bool       `json:"supports_effects"`
	Effects          []Effect   `json:"effects,omitempty"`
	SupportsSetpoint bool       `json:"supports_setpoint"`
	SetpointAction   ActionCode `json:"setpoint_action,omitempty"`
}

// ModeCommand builds the action that moves the channel one step towards
// targetIndex: a cycle for cycle-only channels, a set for direct-set ones.
func (d ChannelDescriptor) ModeCommand(targetIndex int, wait bool) (Action, error) {
	mode, ok := d.Modes.At(targetIndex)
	if !ok {
		return Action{}, fmt.Errorf("%w: index %d for %s", ErrUnknownMode, targetIndex, d.ID)
	}
	action := Action{
		Code:             d.ModeAction,
		DeviceNumber:     d.Number,
		WaitForExecution: wait,
	}
	if d.DirectSet {
		action.Value = strconv.Itoa(mode.Code)
	}
	return action, nil
}

// Effect finds a lighting effect by name (case-insensitive) or number.
func (d ChannelDescriptor) Effect(ref string) (Effect, bool) {
	ref = strings.TrimSpace(ref)
	for _, e := range d.Effects {
		if strings.EqualFold(e.Name, ref) {
			return e, true
		}
	}
	if n, err := strconv.Atoi(ref); err == nil {
		for _, e := range d.Effects {
			if e.Number == n {
				return e, true
			}
		}
	}
	return Effect{}, false
}

// Configuration is the full set of channel descriptors for one controller.
// It is replaced wholesale on refresh and never mutated after construction.
type Configuration struct {
	Channels          []ChannelDescriptor `json:"channels"`
	Favourites        []Favourite         `json:"favourites"`
	PoolSpaSelection  bool                `json:"pool_spa_selection_enabled"`
	HeatCoolSelection bool                `json:"heat_cool_selection_enabled"`

	index map[ChannelID]int
}

// Channel looks up a descriptor by id.
func (c *Configuration) Channel(id ChannelID) (ChannelDescriptor, bool) {
	if c == nil {
		return ChannelDescriptor{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return ChannelDescriptor{}, false
	}
	return c.Channels[i], true
}

// Favourite looks up a favourite by number.
func (c *Configuration) Favourite(number int) (Favourite, bool) {
	if c == nil {
		return Favourite{}, false
	}
	for _, f := range c.Favourites {
		if f.Number == number {
			return f, true
		}
	}
	return Favourite{}, false
}

// ConfigPayload is the decoded pool configuration as reported by the cloud.
type ConfigPayload struct {
	PoolSpaSelectionEnabled  bool
	HeatCoolSelectionEnabled bool
	Channels                 []DeviceConfig
	Valves                   []DeviceConfig
	LightingZones            []DeviceConfig
	Heaters                  []DeviceConfig
	SolarSystems             []DeviceConfig
	Favourites               []Favourite
}

// DeviceConfig is one configured device of any kind.
type DeviceConfig struct {
	Number       int
	Name         string
	Function     string
	ColorEnabled bool
	Colors       []Effect
}

// NewConfiguration builds descriptors from the cloud payload.
//
// General channels are cycle-only. Their sequence is Off/Auto/On unless the
// function names a speed, in which case it is Off/Low/Medium/High. Entries
// in modeOverrides (keyed by channel id, values are mode codes) replace the
// derived sequence of general channels.
//
// Parameters:
//   - p: Decoded configuration payload
//   - modeOverrides: Optional per-channel mode code sequences
//
// Returns:
//   - *Configuration: Immutable configuration with channels in payload order
func NewConfiguration(p ConfigPayload, modeOverrides map[string][]int) *Configuration {
	cfg := &Configuration{
		PoolSpaSelection:  p.PoolSpaSelectionEnabled,
		HeatCoolSelection: p.HeatCoolSelectionEnabled,
		Favourites:        append([]Favourite(nil), p.Favourites...),
	}
	sort.SliceStable(cfg.Favourites, func(i, j int) bool {
		return cfg.Favourites[i].Number < cfg.Favourites[j].Number
	})

	for _, ch := range p.Channels {
		kind, modes := KindSwitch, TriModes()
		if strings.Contains(strings.ToLower(ch.Function), "speed") {
			kind, modes = KindMultiSpeed, SpeedModes()
		}
		id := IDFor(kind, ch.Number)
		if codes, ok := modeOverrides[string(id)]; ok && len(codes) > 1 {
			modes = SequenceFromCodes(codes)
			if len(codes) > 3 {
				kind = KindMultiSpeed
			}
		}
		cfg.add(ChannelDescriptor{
			ID:         id,
			Kind:       kind,
			Name:       nameOr(ch.Name, "Channel", ch.Number),
			Number:     ch.Number,
			Function:   ch.Function,
			Modes:      modes,
			ModeAction: ActionCycleChannel,
		})
	}

	for _, v := range p.Valves {
		cfg.add(ChannelDescriptor{
			ID:         IDFor(KindValve, v.Number),
			Kind:       KindValve,
			Name:       nameOr(v.Name, "Valve", v.Number),
			Number:     v.Number,
			Function:   v.Function,
			Modes:      TriModes(),
			DirectSet:  true,
			ModeAction: ActionSetValveMode,
		})
	}

	for _, lz := range p.LightingZones {
		d := ChannelDescriptor{
			ID:         IDFor(KindLight, lz.Number),
			Kind:       KindLight,
			Name:       nameOr(lz.Name, "Lighting Zone", lz.Number),
			Number:     lz.Number,
			Modes:      TriModes(),
			DirectSet:  true,
			ModeAction: ActionSetLightMode,
		}
		if lz.ColorEnabled {
			d.SupportsEffects = true
			d.Effects = append([]Effect(nil), lz.Colors...)
		}
		cfg.add(d)
	}

	for _, h := range p.Heaters {
		cfg.add(ChannelDescriptor{
			ID:               IDFor(KindHeater, h.Number),
			Kind:             KindHeater,
			Name:             nameOr(h.Name, "Heater", h.Number),
			Number:           h.Number,
			Modes:            HeaterModes(),
			DirectSet:        true,
			ModeAction:       ActionSetHeaterMode,
			SupportsSetpoint: true,
			SetpointAction:   ActionSetHeaterSetTemp,
		})
	}

	for _, s := range p.SolarSystems {
		cfg.add(ChannelDescriptor{
			ID:               IDFor(KindSolar, s.Number),
			Kind:             KindSolar,
			Name:             nameOr(s.Name, "Solar", s.Number),
			Number:           s.Number,
			Modes:            TriModes(),
			DirectSet:        true,
			ModeAction:       ActionSetSolarMode,
			SupportsSetpoint: true,
			SetpointAction:   ActionSetSolarSetTemp,
		})
	}

	if p.PoolSpaSelectionEnabled {
		cfg.add(ChannelDescriptor{
			ID:         PoolSpaID,
			Kind:       KindSelection,
			Name:       "Pool/Spa Selection",
			Modes:      PoolSpaModes(),
			DirectSet:  true,
			ModeAction: ActionSetPoolSpa,
		})
	}
	if p.HeatCoolSelectionEnabled {
		cfg.add(ChannelDescriptor{
			ID:         HeatCoolID,
			Kind:       KindSelection,
			Name:       "Heat/Cool Selection",
			Modes:      HeatCoolModes(),
			DirectSet:  true,
			ModeAction: ActionSetHeatCool,
		})
	}

	return cfg
}

func (c *Configuration) add(d ChannelDescriptor) {
	if c.index == nil {
		c.index = make(map[ChannelID]int)
	}
	if _, dup := c.index[d.ID]; dup {
		return
	}
	c.index[d.ID] = len(c.Channels)
	c.Channels = append(c.Channels, d)
}

func nameOr(name, fallback string, number int) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return fallback + " " + strconv.Itoa(number)
}
