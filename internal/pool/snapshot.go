package pool

import "time"

// StatusPayload is the decoded pool status as reported by the cloud.
type StatusPayload struct {
	Temperature       *float64
	PoolSpaSelection  *int
	HeatCoolSelection *int
	ActiveFavourite   *int
	Channels          []DeviceStatus
	Valves            []DeviceStatus
	LightingZones     []DeviceStatus
	Heaters           []DeviceStatus
	SolarSystems      []DeviceStatus
}

// DeviceStatus is the reported state of one numbered device.
type DeviceStatus struct {
	Number            int
	Mode              int
	Color             *int
	SetTemperature    *float64
	SpaSetTemperature *float64
}

// ChannelState is the observed state of one channel inside a Snapshot.
type ChannelState struct {
	ID ChannelID `json:"id"`

	// ModeIndex is the position in the channel's sequence, or -1 when the
	// reported code is not in the sequence or the channel was not reported.
	ModeIndex int  `json:"mode_index"`
	ModeCode  int  `json:"mode_code"`
	Reported  bool `json:"reported"`

	Setpoint    *float64 `json:"setpoint,omitempty"`
	SpaSetpoint *float64 `json:"spa_setpoint,omitempty"`
	Effect      *int     `json:"effect,omitempty"`
}

// Snapshot is one immutable observation of the whole controller.
//
// Thread Safety:
//   - A Snapshot is never modified after construction and may be shared
//     between goroutines. The With* methods return copies.
type Snapshot struct {
	FetchedAt       time.Time
	Connected       bool
	Temperature     *float64
	ActiveFavourite int

	channels []ChannelState
	index    map[ChannelID]int
}

// NewSnapshot resolves a status payload against the configuration.
// Channels in cfg that the payload does not mention get ModeIndex -1.
func NewSnapshot(cfg *Configuration, p StatusPayload, fetchedAt time.Time) Snapshot {
	s := Snapshot{
		FetchedAt:       fetchedAt,
		Connected:       true,
		Temperature:     p.Temperature,
		ActiveFavourite: NoFavourite,
	}
	if p.ActiveFavourite != nil {
		s.ActiveFavourite = *p.ActiveFavourite
	}
	if cfg == nil {
		return s
	}

	byKind := map[ChannelKind]map[int]DeviceStatus{
		KindSwitch: indexStatus(p.Channels),
		KindValve:  indexStatus(p.Valves),
		KindLight:  indexStatus(p.LightingZones),
		KindHeater: indexStatus(p.Heaters),
		KindSolar:  indexStatus(p.SolarSystems),
	}
	byKind[KindMultiSpeed] = byKind[KindSwitch]

	s.channels = make([]ChannelState, 0, len(cfg.Channels))
	s.index = make(map[ChannelID]int, len(cfg.Channels))
	for _, d := range cfg.Channels {
		st := ChannelState{ID: d.ID, ModeIndex: -1}
		switch d.ID {
		case PoolSpaID:
			st.setMode(d.Modes, p.PoolSpaSelection)
		case HeatCoolID:
			st.setMode(d.Modes, p.HeatCoolSelection)
		default:
			if ds, ok := byKind[d.Kind][d.Number]; ok {
				mode := ds.Mode
				st.setMode(d.Modes, &mode)
				st.Setpoint = ds.SetTemperature
				st.SpaSetpoint = ds.SpaSetTemperature
				st.Effect = ds.Color
			}
		}
		s.index[d.ID] = len(s.channels)
		s.channels = append(s.channels, st)
	}
	return s
}

// EmptySnapshot is served before the first successful read: every channel
// unreported and the controller unavailable.
func EmptySnapshot(cfg *Configuration) Snapshot {
	s := NewSnapshot(cfg, StatusPayload{}, time.Time{})
	s.Connected = false
	return s
}

func (st *ChannelState) setMode(modes ModeSequence, code *int) {
	if code == nil {
		return
	}
	st.Reported = true
	st.ModeCode = *code
	st.ModeIndex = modes.IndexOf(*code)
}

func indexStatus(list []DeviceStatus) map[int]DeviceStatus {
	m := make(map[int]DeviceStatus, len(list))
	for _, ds := range list {
		m[ds.Number] = ds
	}
	return m
}

// IsZero reports whether the snapshot comes from no read at all.
func (s Snapshot) IsZero() bool {
	return s.FetchedAt.IsZero()
}

// Channel returns the state of one channel.
func (s Snapshot) Channel(id ChannelID) (ChannelState, bool) {
	i, ok := s.index[id]
	if !ok {
		return ChannelState{ID: id, ModeIndex: -1}, false
	}
	return s.channels[i], true
}

// Channels returns channel states in configuration order.
func (s Snapshot) Channels() []ChannelState {
	out := make([]ChannelState, len(s.channels))
	copy(out, s.channels)
	return out
}

// WithConnected returns a copy with the connectivity flag replaced.
func (s Snapshot) WithConnected(connected bool) Snapshot {
	s.Connected = connected
	return s
}

// Disconnected returns a copy stamped at fetchedAt with connectivity false.
// Channel states are kept as the last known values.
func (s Snapshot) Disconnected(fetchedAt time.Time) Snapshot {
	s.FetchedAt = fetchedAt
	s.Connected = false
	return s
}
