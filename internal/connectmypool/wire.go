package connectmypool

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// flexInt decodes a JSON number or a numeric string. The cloud has been seen
// sending both for the same field.
type flexInt struct {
	v   int
	set bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.v, f.set = int(n), true
	return nil
}

func (f flexInt) ptr() *int {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

// flexFloat decodes a JSON number or a numeric string.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.v, f.set = n, true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

// flexString decodes a JSON string or number as text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// failure is the error body: {"failure_code": 6, "failure_description": "..."}.
type failure struct {
	Code        *flexInt `json:"failure_code"`
	Description string   `json:"failure_description"`
}

type configResponse struct {
	PoolSpaSelectionEnabled  bool `json:"pool_spa_selection_enabled"`
	HeatCoolSelectionEnabled bool `json:"heat_cool_selection_enabled"`
	Channels                 []struct {
		Number   flexInt    `json:"channel_number"`
		Function flexString `json:"function"`
		Name     string     `json:"name"`
	} `json:"channels"`
	Valves []struct {
		Number   flexInt    `json:"valve_number"`
		Function flexString `json:"function"`
		Name     string     `json:"name"`
	} `json:"valves"`
	LightingZones []struct {
		Number       flexInt `json:"lighting_zone_number"`
		Name         string  `json:"name"`
		ColorEnabled bool    `json:"color_enabled"`
		Colors       []struct {
			Number flexInt `json:"color_number"`
			Name   string  `json:"color_name"`
		} `json:"colors_available"`
	} `json:"lighting_zones"`
	Heaters []struct {
		Number flexInt `json:"heater_number"`
		Name   string  `json:"name"`
	} `json:"heaters"`
	SolarSystems []struct {
		Number flexInt `json:"solar_number"`
		Name   string  `json:"name"`
	} `json:"solar_systems"`
	Favourites []struct {
		Number flexInt `json:"favourite_number"`
		Name   string  `json:"name"`
	} `json:"favourites"`
}

func (r configResponse) toPayload() pool.ConfigPayload {
	p := pool.ConfigPayload{
		PoolSpaSelectionEnabled:  r.PoolSpaSelectionEnabled,
		HeatCoolSelectionEnabled: r.HeatCoolSelectionEnabled,
	}
	for _, c := range r.Channels {
		p.Channels = append(p.Channels, pool.DeviceConfig{Number: c.Number.v, Name: c.Name, Function: string(c.Function)})
	}
	for _, v := range r.Valves {
		p.Valves = append(p.Valves, pool.DeviceConfig{Number: v.Number.v, Name: v.Name, Function: string(v.Function)})
	}
	for _, lz := range r.LightingZones {
		d := pool.DeviceConfig{Number: lz.Number.v, Name: lz.Name, ColorEnabled: lz.ColorEnabled}
		for _, col := range lz.Colors {
			d.Colors = append(d.Colors, pool.Effect{Number: col.Number.v, Name: col.Name})
		}
		p.LightingZones = append(p.LightingZones, d)
	}
	for _, h := range r.Heaters {
		p.Heaters = append(p.Heaters, pool.DeviceConfig{Number: h.Number.v, Name: h.Name})
	}
	for _, s := range r.SolarSystems {
		p.SolarSystems = append(p.SolarSystems, pool.DeviceConfig{Number: s.Number.v, Name: s.Name})
	}
	for _, f := range r.Favourites {
		p.Favourites = append(p.Favourites, pool.Favourite{Number: f.Number.v, Name: f.Name})
	}
	return p
}

type deviceStatus struct {
	ChannelNumber      flexInt   `json:"channel_number"`
	ValveNumber        flexInt   `json:"valve_number"`
	LightingZoneNumber flexInt   `json:"lighting_zone_number"`
	HeaterNumber       flexInt   `json:"heater_number"`
	SolarNumber        flexInt   `json:"solar_number"`
	Mode               flexInt   `json:"mode"`
	Color              flexInt   `json:"color"`
	SetTemperature     flexFloat `json:"set_temperature"`
	SpaSetTemperature  flexFloat `json:"spa_set_temperature"`
}

type statusResponse struct {
	Temperature       flexFloat      `json:"temperature"`
	PoolSpaSelection  flexInt        `json:"pool_spa_selection"`
	HeatCoolSelection flexInt        `json:"heat_cool_selection"`
	ActiveFavourite   flexInt        `json:"active_favourite"`
	Channels          []deviceStatus `json:"channels"`
	Valves            []deviceStatus `json:"valves"`
	LightingZones     []deviceStatus `json:"lighting_zones"`
	Heaters           []deviceStatus `json:"heaters"`
	SolarSystems      []deviceStatus `json:"solar_systems"`
}

func (r statusResponse) toPayload() pool.StatusPayload {
	convert := func(list []deviceStatus, number func(deviceStatus) flexInt) []pool.DeviceStatus {
		out := make([]pool.DeviceStatus, 0, len(list))
		for _, d := range list {
			if !d.Mode.set {
				continue
			}
			out = append(out, pool.DeviceStatus{
				Number:            number(d).v,
				Mode:              d.Mode.v,
				Color:             d.Color.ptr(),
				SetTemperature:    d.SetTemperature.ptr(),
				SpaSetTemperature: d.SpaSetTemperature.ptr(),
			})
		}
		return out
	}
	return pool.StatusPayload{
		Temperature:       r.Temperature.ptr(),
		PoolSpaSelection:  r.PoolSpaSelection.ptr(),
		HeatCoolSelection: r.HeatCoolSelection.ptr(),
		ActiveFavourite:   r.ActiveFavourite.ptr(),
		Channels:          convert(r.Channels, func(d deviceStatus) flexInt { return d.ChannelNumber }),
		Valves:            convert(r.Valves, func(d deviceStatus) flexInt { return d.ValveNumber }),
		LightingZones:     convert(r.LightingZones, func(d deviceStatus) flexInt { return d.LightingZoneNumber }),
		Heaters:           convert(r.Heaters, func(d deviceStatus) flexInt { return d.HeaterNumber }),
		SolarSystems:      convert(r.SolarSystems, func(d deviceStatus) flexInt { return d.SolarNumber }),
	}
}

type actionResponse struct {
	ActionNumber flexInt `json:"action_number"`
}
