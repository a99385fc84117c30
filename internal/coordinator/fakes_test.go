package coordinator

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// fakePool simulates a controller behind the cloud API: general channels
// advance one mode per cycle action, other devices take the mode they are
// given. It records concurrency so tests can check the transport slot.
type fakePool struct {
	mu sync.Mutex

	channels  map[int]int
	sequences map[int][]int
	valves    map[int]int
	lights    map[int]int
	heaters   map[int]int
	poolSpa   int
	connected bool
	stuck     bool

	// disconnectAfter takes the controller offline after this many actions.
	disconnectAfter int
	// stuckAfter stops the controller applying actions after this many.
	stuckAfter int
	// throttleStatus rejects this many upcoming status reads.
	throttleStatus int
	statusErr      error
	noValves       bool

	actions     []pool.Action
	history     []int
	statusCalls int
	rejections  int
	inFlight    int
	maxInFlight int

	holdExecute    chan struct{}
	executeEntered chan struct{}
}

func newFakePool() *fakePool {
	return &fakePool{
		channels:       map[int]int{1: pool.ModeOff, 2: pool.ModeOff},
		sequences:      map[int][]int{1: {0, 1, 2}, 2: {0, 3, 4, 5}},
		valves:         map[int]int{1: pool.ModeOff},
		lights:         map[int]int{1: pool.ModeOff},
		heaters:        map[int]int{1: 0},
		poolSpa:        1,
		connected:      true,
		executeEntered: make(chan struct{}, 1),
	}
}

func (f *fakePool) enter() {
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
}

func (f *fakePool) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakePool) FetchConfiguration(_ context.Context) (pool.ConfigPayload, error) {
	f.mu.Lock()
	f.enter()
	noValves := f.noValves
	f.mu.Unlock()
	defer f.leave()

	p := pool.ConfigPayload{
		PoolSpaSelectionEnabled: true,
		Channels: []pool.DeviceConfig{
			{Number: 1, Name: "Filter Pump", Function: "Filter"},
			{Number: 2, Name: "Booster", Function: "Variable Speed Pump"},
		},
		LightingZones: []pool.DeviceConfig{
			{Number: 1, Name: "Pool Light", ColorEnabled: true, Colors: []pool.Effect{{Number: 1, Name: "Red"}, {Number: 2, Name: "Blue"}}},
		},
		Heaters:    []pool.DeviceConfig{{Number: 1, Name: "Gas Heater"}},
		Favourites: []pool.Favourite{{Number: 2, Name: "Spa Night"}, {Number: 1, Name: "All Off"}},
	}
	if !noValves {
		p.Valves = []pool.DeviceConfig{{Number: 1, Name: "Spa Jets"}}
	}
	return p, nil
}

func (f *fakePool) FetchStatus(_ context.Context) (pool.StatusPayload, error) {
	f.mu.Lock()
	f.enter()
	f.statusCalls++
	defer func() {
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.throttleStatus > 0 {
		f.throttleStatus--
		f.rejections++
		return pool.StatusPayload{}, fmt.Errorf("status: %w", pool.ErrThrottled)
	}
	if f.statusErr != nil {
		return pool.StatusPayload{}, f.statusErr
	}
	if !f.connected {
		return pool.StatusPayload{}, fmt.Errorf("status: %w", pool.ErrPoolNotConnected)
	}

	temp := 27.5
	poolSpa := f.poolSpa
	none := pool.NoFavourite
	p := pool.StatusPayload{
		Temperature:      &temp,
		PoolSpaSelection: &poolSpa,
		ActiveFavourite:  &none,
	}
	for n, m := range f.channels {
		p.Channels = append(p.Channels, pool.DeviceStatus{Number: n, Mode: m})
	}
	for n, m := range f.valves {
		p.Valves = append(p.Valves, pool.DeviceStatus{Number: n, Mode: m})
	}
	for n, m := range f.lights {
		p.LightingZones = append(p.LightingZones, pool.DeviceStatus{Number: n, Mode: m})
	}
	for n, m := range f.heaters {
		set := 28.0
		p.Heaters = append(p.Heaters, pool.DeviceStatus{Number: n, Mode: m, SetTemperature: &set})
	}
	return p, nil
}

func (f *fakePool) Execute(ctx context.Context, action pool.Action) (pool.ActionReceipt, error) {
	f.mu.Lock()
	hold := f.holdExecute
	f.enter()
	f.mu.Unlock()
	defer f.leave()

	if hold != nil {
		select {
		case f.executeEntered <- struct{}{}:
		default:
		}
		select {
		case <-hold:
		case <-ctx.Done():
			return pool.ActionReceipt{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return pool.ActionReceipt{}, fmt.Errorf("action: %w", pool.ErrPoolNotConnected)
	}
	f.actions = append(f.actions, action)

	if !f.stuck {
		value, _ := strconv.Atoi(action.Value)
		switch action.Code {
		case pool.ActionCycleChannel:
			seq := f.sequences[action.DeviceNumber]
			i := slices.Index(seq, f.channels[action.DeviceNumber])
			f.channels[action.DeviceNumber] = seq[(i+1)%len(seq)]
			f.history = append(f.history, f.channels[action.DeviceNumber])
		case pool.ActionSetValveMode:
			f.valves[action.DeviceNumber] = value
		case pool.ActionSetLightMode:
			f.lights[action.DeviceNumber] = value
		case pool.ActionSetHeaterMode:
			f.heaters[action.DeviceNumber] = value
		case pool.ActionSetPoolSpa:
			f.poolSpa = value
		}
	}
	if f.stuckAfter > 0 && len(f.actions) >= f.stuckAfter {
		f.stuck = true
	}
	if f.disconnectAfter > 0 && len(f.actions) >= f.disconnectAfter {
		f.connected = false
	}
	return pool.ActionReceipt{ActionNumber: len(f.actions)}, nil
}

func (f *fakePool) ActionStatus(_ context.Context, n int) (map[string]any, error) {
	return map[string]any{"action_number": n, "status": "complete"}, nil
}

func (f *fakePool) set(fn func(f *fakePool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakePool) actionLog() []pool.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.actions)
}

func (f *fakePool) channelMode(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[n]
}

func (f *fakePool) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *fakePool) calls() (status, rejections int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.rejections
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, e AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *recordingAuditor) recorded() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.events)
}

type recordingTelemetry struct {
	mu     sync.Mutex
	writes int
}

func (r *recordingTelemetry) WriteSnapshot(_ *pool.Configuration, _ pool.Snapshot) {
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
}

func (r *recordingTelemetry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type recordingMetrics struct {
	noopMetrics
	mu       sync.Mutex
	commands map[string]int
	outcomes map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{commands: map[string]int{}, outcomes: map[string]int{}}
}

func (m *recordingMetrics) CommandIssued(channel, _ string) {
	m.mu.Lock()
	m.commands[channel]++
	m.mu.Unlock()
}

func (m *recordingMetrics) TransitionResolved(_ string, outcome string) {
	m.mu.Lock()
	m.outcomes[outcome]++
	m.mu.Unlock()
}

func (m *recordingMetrics) outcome(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[name]
}

// testTimeout bounds every wait in this package's tests.
const testTimeout = 3 * time.Second
