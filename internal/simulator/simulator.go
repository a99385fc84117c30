package simulator

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// Pool is an in-process stand-in for a controller behind the cloud API.
//
// General channels advance one step through their sequence per cycle
// action, the way the real hardware does. Every other device takes the
// mode it is given. Status reads closer together than MinInterval are
// rejected as throttled.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	layout    pool.ConfigPayload
	sequences map[int][]int

	channels map[int]int
	valves   map[int]int
	lights   map[int]int
	colours  map[int]int
	heaters  map[int]int
	solar    map[int]int
	setTemps map[int]float64
	solarSet map[int]float64

	poolSpa     int
	heatCool    int
	favourite   int
	temperature float64

	connected   bool
	stuck       bool
	throttle    int
	latency     time.Duration
	minInterval time.Duration
	lastStatus  time.Time

	actions []pool.Action
}

// Options tunes the simulation.
type Options struct {
	// Latency is added to every call. Zero answers immediately.
	Latency time.Duration

	// MinInterval rejects status reads that arrive sooner than this after
	// the previous one. Zero disables the check.
	MinInterval time.Duration
}

// New creates a simulated controller with a typical residential layout:
// a filter pump, a three-speed booster, a spa valve, one colour light,
// a gas heater, a solar system and two favourites.
func New(opts Options) *Pool {
	layout := pool.ConfigPayload{
		PoolSpaSelectionEnabled:  true,
		HeatCoolSelectionEnabled: false,
		Channels: []pool.DeviceConfig{
			{Number: 1, Name: "Filter Pump", Function: "Filter"},
			{Number: 2, Name: "Booster", Function: "Variable Speed Pump"},
		},
		Valves: []pool.DeviceConfig{{Number: 1, Name: "Spa Jets"}},
		LightingZones: []pool.DeviceConfig{{
			Number: 1, Name: "Pool Light", ColorEnabled: true,
			Colors: []pool.Effect{{Number: 1, Name: "Red"}, {Number: 2, Name: "Blue"}, {Number: 3, Name: "Disco"}},
		}},
		Heaters:      []pool.DeviceConfig{{Number: 1, Name: "Gas Heater"}},
		SolarSystems: []pool.DeviceConfig{{Number: 1, Name: "Roof Solar"}},
		Favourites:   []pool.Favourite{{Number: 1, Name: "All Off"}, {Number: 2, Name: "Spa Night"}},
	}

	return &Pool{
		layout: layout,
		sequences: map[int][]int{
			1: {pool.ModeOff, pool.ModeAuto, pool.ModeOn},
			2: {pool.ModeOff, pool.ModeLowSpeed, pool.ModeMediumSpeed, pool.ModeHighSpeed},
		},
		channels:    map[int]int{1: pool.ModeOff, 2: pool.ModeOff},
		valves:      map[int]int{1: pool.ModeOff},
		lights:      map[int]int{1: pool.ModeOff},
		colours:     map[int]int{1: 1},
		heaters:     map[int]int{1: 0},
		solar:       map[int]int{1: pool.ModeOff},
		setTemps:    map[int]float64{1: 28},
		solarSet:    map[int]float64{1: 30},
		poolSpa:     1,
		favourite:   pool.NoFavourite,
		temperature: 26.5,
		connected:   true,
		latency:     opts.Latency,
		minInterval: opts.MinInterval,
	}
}

func (p *Pool) delay(ctx context.Context) error {
	if p.latency <= 0 {
		return nil
	}
	t := time.NewTimer(p.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchConfiguration returns the simulated layout.
func (p *Pool) FetchConfiguration(ctx context.Context) (pool.ConfigPayload, error) {
	if err := p.delay(ctx); err != nil {
		return pool.ConfigPayload{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.layout, nil
}

// FetchStatus reports every device, or an error while throttled or disconnected.
func (p *Pool) FetchStatus(ctx context.Context) (pool.StatusPayload, error) {
	if err := p.delay(ctx); err != nil {
		return pool.StatusPayload{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	tooSoon := p.minInterval > 0 && !p.lastStatus.IsZero() && now.Sub(p.lastStatus) < p.minInterval
	if p.throttle > 0 || tooSoon {
		if p.throttle > 0 {
			p.throttle--
		}
		return pool.StatusPayload{}, fmt.Errorf("status: %w", pool.ErrThrottled)
	}
	p.lastStatus = now
	if !p.connected {
		return pool.StatusPayload{}, fmt.Errorf("status: %w", pool.ErrPoolNotConnected)
	}

	temp := p.temperature
	poolSpa := p.poolSpa
	heatCool := p.heatCool
	favourite := p.favourite
	s := pool.StatusPayload{
		Temperature:       &temp,
		PoolSpaSelection:  &poolSpa,
		HeatCoolSelection: &heatCool,
		ActiveFavourite:   &favourite,
	}
	for _, n := range sortedKeys(p.channels) {
		s.Channels = append(s.Channels, pool.DeviceStatus{Number: n, Mode: p.channels[n]})
	}
	for _, n := range sortedKeys(p.valves) {
		s.Valves = append(s.Valves, pool.DeviceStatus{Number: n, Mode: p.valves[n]})
	}
	for _, n := range sortedKeys(p.lights) {
		colour := p.colours[n]
		s.LightingZones = append(s.LightingZones, pool.DeviceStatus{Number: n, Mode: p.lights[n], Color: &colour})
	}
	for _, n := range sortedKeys(p.heaters) {
		set := p.setTemps[n]
		s.Heaters = append(s.Heaters, pool.DeviceStatus{Number: n, Mode: p.heaters[n], SetTemperature: &set})
	}
	for _, n := range sortedKeys(p.solar) {
		set := p.solarSet[n]
		s.SolarSystems = append(s.SolarSystems, pool.DeviceStatus{Number: n, Mode: p.solar[n], SetTemperature: &set})
	}
	return s, nil
}

// Execute applies an action to the simulated devices.
func (p *Pool) Execute(ctx context.Context, action pool.Action) (pool.ActionReceipt, error) {
	if err := p.delay(ctx); err != nil {
		return pool.ActionReceipt{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return pool.ActionReceipt{}, fmt.Errorf("action: %w", pool.ErrPoolNotConnected)
	}
	if p.stuck {
		p.actions = append(p.actions, action)
		return pool.ActionReceipt{ActionNumber: len(p.actions)}, nil
	}

	n := action.DeviceNumber
	value, _ := strconv.Atoi(action.Value)
	switch action.Code {
	case pool.ActionCycleChannel:
		seq, ok := p.sequences[n]
		if !ok {
			return pool.ActionReceipt{}, fmt.Errorf("%w: no channel %d", pool.ErrUpstream, n)
		}
		i := slices.Index(seq, p.channels[n])
		p.channels[n] = seq[(i+1)%len(seq)]
	case pool.ActionSetValveMode:
		p.valves[n] = value
	case pool.ActionSetPoolSpa:
		p.poolSpa = value
	case pool.ActionSetHeaterMode:
		p.heaters[n] = value
	case pool.ActionSetHeaterSetTemp:
		p.setTemps[n] = float64(value)
	case pool.ActionSetLightMode:
		p.lights[n] = value
	case pool.ActionSetLightColor:
		p.colours[n] = value
	case pool.ActionSetActiveFavourite:
		p.favourite = n
	case pool.ActionSetSolarMode:
		p.solar[n] = value
	case pool.ActionSetSolarSetTemp:
		p.solarSet[n] = float64(value)
	case pool.ActionLightSync:
	case pool.ActionSetHeatCool:
		p.heatCool = value
	default:
		return pool.ActionReceipt{}, fmt.Errorf("%w: unknown action %d", pool.ErrUpstream, action.Code)
	}
	p.actions = append(p.actions, action)
	return pool.ActionReceipt{ActionNumber: len(p.actions)}, nil
}

// ActionStatus reports every recorded action as complete.
func (p *Pool) ActionStatus(ctx context.Context, actionNumber int) (map[string]any, error) {
	if err := p.delay(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if actionNumber < 1 || actionNumber > len(p.actions) {
		return nil, fmt.Errorf("%w: unknown action number %d", pool.ErrUpstream, actionNumber)
	}
	return map[string]any{"action_number": actionNumber, "status": "complete"}, nil
}

// SetConnected simulates the controller losing or regaining its link to the cloud.
func (p *Pool) SetConnected(connected bool) {
	p.mu.Lock()
	p.connected = connected
	p.mu.Unlock()
}

// SetStuck makes actions succeed without changing any device.
func (p *Pool) SetStuck(stuck bool) {
	p.mu.Lock()
	p.stuck = stuck
	p.mu.Unlock()
}

// Throttle rejects the next n status reads.
func (p *Pool) Throttle(n int) {
	p.mu.Lock()
	p.throttle = n
	p.mu.Unlock()
}

// ChannelMode returns the current mode code of general channel n.
func (p *Pool) ChannelMode(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[n]
}

// Actions returns every action accepted so far.
func (p *Pool) Actions() []pool.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.actions)
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
