package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() ConfigPayload {
	return ConfigPayload{
		PoolSpaSelectionEnabled:  true,
		HeatCoolSelectionEnabled: false,
		Channels: []DeviceConfig{
			{Number: 1, Name: "Filter", Function: "Filter Pump"},
			{Number: 2, Function: "Variable Speed Pump"},
		},
		Valves:        []DeviceConfig{{Number: 1, Name: "Spillway"}},
		LightingZones: []DeviceConfig{{Number: 1, ColorEnabled: true, Colors: []Effect{{Number: 3, Name: "Blue"}, {Number: 7, Name: "Party"}}}},
		Heaters:       []DeviceConfig{{Number: 1}},
		SolarSystems:  []DeviceConfig{{Number: 1}},
		Favourites:    []Favourite{{Number: 2, Name: "Night"}, {Number: 1, Name: "All Auto"}},
	}
}

func TestNewConfiguration_Descriptors(t *testing.T) {
	cfg := NewConfiguration(samplePayload(), nil)

	ids := make([]ChannelID, 0, len(cfg.Channels))
	for _, d := range cfg.Channels {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []ChannelID{"channel-1", "channel-2", "valve-1", "light-1", "heater-1", "solar-1", PoolSpaID}, ids)

	filter, ok := cfg.Channel("channel-1")
	require.True(t, ok)
	assert.Equal(t, KindSwitch, filter.Kind)
	assert.Equal(t, "Filter", filter.Name)
	assert.False(t, filter.DirectSet)
	assert.Equal(t, ActionCycleChannel, filter.ModeAction)
	assert.Equal(t, TriModes(), filter.Modes)

	pump, ok := cfg.Channel("channel-2")
	require.True(t, ok)
	assert.Equal(t, KindMultiSpeed, pump.Kind)
	assert.Equal(t, "Channel 2", pump.Name)
	assert.Equal(t, 4, len(pump.Modes))

	light, _ := cfg.Channel("light-1")
	assert.True(t, light.SupportsEffects)
	assert.Equal(t, ActionSetLightMode, light.ModeAction)

	heater, _ := cfg.Channel("heater-1")
	assert.True(t, heater.SupportsSetpoint)
	assert.Equal(t, ActionSetHeaterSetTemp, heater.SetpointAction)
	assert.Equal(t, HeaterModes(), heater.Modes)

	_, ok = cfg.Channel(HeatCoolID)
	assert.False(t, ok, "heat/cool selection disabled")

	assert.Equal(t, 1, cfg.Favourites[0].Number, "favourites sorted by number")
}

func TestNewConfiguration_ModeOverride(t *testing.T) {
	cfg := NewConfiguration(samplePayload(), map[string][]int{
		"channel-1": {0, 2},
		"valve-1":   {0, 2},
	})

	filter, _ := cfg.Channel("channel-1")
	assert.Equal(t, ModeSequence{{0, "Off"}, {2, "On"}}, filter.Modes)

	valve, _ := cfg.Channel("valve-1")
	assert.Equal(t, 3, len(valve.Modes), "overrides only apply to general channels")
}

func TestConfiguration_Immutable(t *testing.T) {
	a := NewConfiguration(samplePayload(), nil)
	d, _ := a.Channel("channel-1")
	d.Modes[0].Label = "mutated"

	assert.Equal(t, "Off", TriModes()[0].Label)
}

func TestModeSequence_Resolve(t *testing.T) {
	seq := SpeedModes()

	assert.Equal(t, 2, seq.Resolve("medium speed"))
	assert.Equal(t, 3, seq.Resolve("5"))
	assert.Equal(t, -1, seq.Resolve("1"), "Auto not in speed sequence")
	assert.Equal(t, -1, seq.Resolve("bogus"))
	assert.Equal(t, "Low Speed", seq.Label(1))
	assert.Equal(t, "", seq.Label(9))
}

func TestChannelDescriptor_ModeCommand(t *testing.T) {
	cfg := NewConfiguration(samplePayload(), nil)

	filter, _ := cfg.Channel("channel-1")
	action, err := filter.ModeCommand(2, true)
	require.NoError(t, err)
	assert.Equal(t, Action{Code: ActionCycleChannel, DeviceNumber: 1, WaitForExecution: true}, action)

	valve, _ := cfg.Channel("valve-1")
	action, err = valve.ModeCommand(1, false)
	require.NoError(t, err)
	assert.Equal(t, Action{Code: ActionSetValveMode, DeviceNumber: 1, Value: "1"}, action)

	spa, _ := cfg.Channel(PoolSpaID)
	action, err = spa.ModeCommand(0, false)
	require.NoError(t, err)
	assert.Equal(t, ActionSetPoolSpa, action.Code)
	assert.Equal(t, 0, action.DeviceNumber)
	assert.Equal(t, "0", action.Value)

	_, err = filter.ModeCommand(3, false)
	assert.True(t, errors.Is(err, ErrUnknownMode))
}

func TestChannelDescriptor_Effect(t *testing.T) {
	cfg := NewConfiguration(samplePayload(), nil)
	light, _ := cfg.Channel("light-1")

	e, ok := light.Effect("party")
	require.True(t, ok)
	assert.Equal(t, 7, e.Number)

	e, ok = light.Effect("3")
	require.True(t, ok)
	assert.Equal(t, "Blue", e.Name)

	_, ok = light.Effect("Green")
	assert.False(t, ok)
}

func TestNewSnapshot(t *testing.T) {
	cfg := NewConfiguration(samplePayload(), nil)
	temp, setTemp, color, sel, fav := 27.5, 30.0, 7, 1, 2
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	snap := NewSnapshot(cfg, StatusPayload{
		Temperature:      &temp,
		PoolSpaSelection: &sel,
		ActiveFavourite:  &fav,
		Channels:         []DeviceStatus{{Number: 1, Mode: ModeOn}, {Number: 2, Mode: ModeAuto}},
		LightingZones:    []DeviceStatus{{Number: 1, Mode: ModeOn, Color: &color}},
		Heaters:          []DeviceStatus{{Number: 1, Mode: 1, SetTemperature: &setTemp}},
	}, at)

	assert.True(t, snap.Connected)
	assert.Equal(t, at, snap.FetchedAt)
	assert.Equal(t, 2, snap.ActiveFavourite)

	filter, ok := snap.Channel("channel-1")
	require.True(t, ok)
	assert.Equal(t, 2, filter.ModeIndex)
	assert.True(t, filter.Reported)

	pump, _ := snap.Channel("channel-2")
	assert.Equal(t, -1, pump.ModeIndex, "Auto is not a speed mode")
	assert.True(t, pump.Reported)

	valve, _ := snap.Channel("valve-1")
	assert.False(t, valve.Reported)
	assert.Equal(t, -1, valve.ModeIndex)

	light, _ := snap.Channel("light-1")
	require.NotNil(t, light.Effect)
	assert.Equal(t, 7, *light.Effect)

	heater, _ := snap.Channel("heater-1")
	require.NotNil(t, heater.Setpoint)
	assert.Equal(t, 30.0, *heater.Setpoint)

	spa, _ := snap.Channel(PoolSpaID)
	assert.Equal(t, 1, spa.ModeIndex)

	assert.Len(t, snap.Channels(), len(cfg.Channels))
}

func TestSnapshot_DerivedCopies(t *testing.T) {
	cfg := NewConfiguration(samplePayload(), nil)
	at := time.Now()
	snap := NewSnapshot(cfg, StatusPayload{Channels: []DeviceStatus{{Number: 1, Mode: ModeAuto}}}, at)

	down := snap.Disconnected(at.Add(time.Minute))
	assert.False(t, down.Connected)
	assert.True(t, snap.Connected, "original unchanged")
	st, _ := down.Channel("channel-1")
	assert.Equal(t, 1, st.ModeIndex, "last known modes kept")

	empty := EmptySnapshot(cfg)
	assert.True(t, empty.IsZero())
	assert.False(t, empty.Connected)
	assert.Equal(t, NoFavourite, empty.ActiveFavourite)
}

func TestSetpointValue(t *testing.T) {
	tests := []struct {
		value   float64
		scale   int
		want    string
		wantErr bool
	}{
		{28.4, ScaleCelsius, "28", false},
		{28.5, ScaleCelsius, "29", false},
		{10, ScaleCelsius, "10", false},
		{40.1, ScaleCelsius, "", true},
		{9.9, ScaleCelsius, "", true},
		{86, ScaleFahrenheit, "86", false},
		{40, ScaleFahrenheit, "", true},
	}
	for _, tt := range tests {
		got, err := SetpointValue(tt.value, tt.scale)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrSetpointOutOfRange)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestActionCode_String(t *testing.T) {
	assert.Equal(t, "cycle_channel", ActionCycleChannel.String())
	assert.Equal(t, "set_heat_cool", ActionSetHeatCool.String())
	assert.Equal(t, "action_99", ActionCode(99).String())
}

func TestActionCode_Valid(t *testing.T) {
	for code := ActionCycleChannel; code <= ActionSetHeatCool; code++ {
		assert.True(t, code.Valid(), code.String())
	}
	assert.False(t, ActionCode(0).Valid())
	assert.False(t, ActionCode(13).Valid())
}
