package observation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/poolbridge/internal/pool"
)

var policy = ThrottlePolicy{
	Base:   60 * time.Second,
	Active: 5 * time.Second,
	Window: 5 * time.Minute,
}

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeUpstream returns scripted status results in order, repeating the last.
type fakeUpstream struct {
	mu          sync.Mutex
	configErr   error
	statusCalls atomic.Int32
	configCalls atomic.Int32
	mode        int
	errs        []error
	block       chan struct{}
}

func (f *fakeUpstream) FetchConfiguration(context.Context) (pool.ConfigPayload, error) {
	f.configCalls.Add(1)
	if f.configErr != nil {
		return pool.ConfigPayload{}, f.configErr
	}
	return pool.ConfigPayload{Channels: []pool.DeviceConfig{{Number: 1, Name: "Filter"}}}, nil
}

func (f *fakeUpstream) FetchStatus(ctx context.Context) (pool.StatusPayload, error) {
	f.statusCalls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pool.StatusPayload{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return pool.StatusPayload{}, err
		}
	}
	return pool.StatusPayload{Channels: []pool.DeviceStatus{{Number: 1, Mode: f.mode}}}, nil
}

func (f *fakeUpstream) script(errs ...error) {
	f.mu.Lock()
	f.errs = errs
	f.mu.Unlock()
}

func (f *fakeUpstream) setMode(m int) {
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
}

func newTestCache(t *testing.T, up *fakeUpstream, clk *clock) *Cache {
	t.Helper()
	return New(up, Options{Policy: policy, FailureThreshold: 3, Now: clk.Now})
}

func modeOf(t *testing.T, s pool.Snapshot) int {
	t.Helper()
	st, ok := s.Channel("channel-1")
	require.True(t, ok)
	return st.ModeIndex
}

func TestCache_EmptyBeforeFirstRead(t *testing.T) {
	c := newTestCache(t, &fakeUpstream{}, newClock())

	snap, fresh := c.Current()
	assert.Equal(t, Stale, fresh)
	assert.False(t, snap.Connected)
	assert.True(t, snap.IsZero())
	assert.False(t, c.Ready())
}

func TestCache_Prime(t *testing.T) {
	up := &fakeUpstream{mode: pool.ModeAuto}
	c := newTestCache(t, up, newClock())

	require.NoError(t, c.Prime(context.Background()))
	assert.True(t, c.Ready())
	assert.EqualValues(t, 1, up.configCalls.Load())
	assert.EqualValues(t, 1, up.statusCalls.Load())

	snap, fresh := c.Current()
	assert.Equal(t, Fresh, fresh)
	assert.True(t, snap.Connected)
	assert.Equal(t, 1, modeOf(t, snap))
}

func TestCache_PrimeReportsErrors(t *testing.T) {
	up := &fakeUpstream{configErr: fmt.Errorf("boom: %w", pool.ErrUpstream)}
	c := newTestCache(t, up, newClock())
	assert.ErrorIs(t, c.Prime(context.Background()), pool.ErrUpstream)

	up2 := &fakeUpstream{}
	up2.script(pool.ErrThrottled)
	c2 := newTestCache(t, up2, newClock())
	assert.ErrorIs(t, c2.Prime(context.Background()), pool.ErrThrottled)

	up3 := &fakeUpstream{}
	up3.script(pool.ErrPoolNotConnected)
	c3 := newTestCache(t, up3, newClock())
	require.NoError(t, c3.Prime(context.Background()), "not connected is an observation")
	snap, _ := c3.Current()
	assert.False(t, snap.Connected)
}

func TestCache_ServesCachedWithinInterval(t *testing.T) {
	up := &fakeUpstream{}
	clk := newClock()
	c := newTestCache(t, up, clk)
	require.NoError(t, c.Prime(context.Background()))

	clk.Advance(59 * time.Second)
	_, fresh := c.Snapshot(context.Background(), false)
	assert.Equal(t, Fresh, fresh)
	assert.EqualValues(t, 1, up.statusCalls.Load(), "no live read before base interval")

	clk.Advance(time.Second)
	_, fresh = c.Snapshot(context.Background(), false)
	assert.Equal(t, Fresh, fresh)
	assert.EqualValues(t, 2, up.statusCalls.Load(), "live read once base interval elapsed")
}

func TestCache_ForceLive(t *testing.T) {
	up := &fakeUpstream{}
	c := newTestCache(t, up, newClock())
	require.NoError(t, c.Prime(context.Background()))

	up.setMode(pool.ModeOn)
	snap, fresh := c.Snapshot(context.Background(), true)
	assert.Equal(t, Fresh, fresh)
	assert.Equal(t, 2, modeOf(t, snap))
	assert.EqualValues(t, 2, up.statusCalls.Load())
}

func TestCache_ThrottleRejectionStreakServesLastGood(t *testing.T) {
	up := &fakeUpstream{mode: pool.ModeAuto}
	clk := newClock()
	c := newTestCache(t, up, clk)
	require.NoError(t, c.Prime(context.Background()))

	up.script(pool.ErrThrottled, pool.ErrThrottled, pool.ErrThrottled, pool.ErrThrottled)
	up.setMode(pool.ModeOn)

	for i := 0; i < 4; i++ {
		clk.Advance(61 * time.Second)
		snap, fresh := c.Snapshot(context.Background(), false)
		assert.Equal(t, Stale, fresh, "read %d", i)
		assert.True(t, snap.Connected, "rejection is not a connectivity problem")
		assert.Equal(t, 1, modeOf(t, snap), "last good snapshot served")
	}
	assert.EqualValues(t, 5, up.statusCalls.Load())
}

func TestCache_RejectionDefersNextAttempt(t *testing.T) {
	up := &fakeUpstream{}
	clk := newClock()
	c := newTestCache(t, up, clk)
	require.NoError(t, c.Prime(context.Background()))
	c.RecordCommandIssued()

	clk.Advance(5 * time.Second)
	up.script(pool.ErrThrottled)
	_, fresh := c.Snapshot(context.Background(), true)
	assert.Equal(t, Stale, fresh)
	assert.EqualValues(t, 2, up.statusCalls.Load())

	// Active window would allow a read in 5s, but the rejection holds for a full base interval.
	for _, step := range []time.Duration{5 * time.Second, 30 * time.Second, 24 * time.Second} {
		clk.Advance(step)
		_, fresh = c.Snapshot(context.Background(), true)
		assert.Equal(t, Stale, fresh)
	}
	assert.EqualValues(t, 2, up.statusCalls.Load(), "no upstream call during hold")

	clk.Advance(time.Second)
	_, fresh = c.Snapshot(context.Background(), true)
	assert.Equal(t, Fresh, fresh)
	assert.EqualValues(t, 3, up.statusCalls.Load())
}

func TestCache_TransportFailuresEscalate(t *testing.T) {
	up := &fakeUpstream{}
	clk := newClock()
	c := newTestCache(t, up, clk)
	require.NoError(t, c.Prime(context.Background()))

	fail := fmt.Errorf("dial: %w", pool.ErrUpstream)
	up.script(fail, fail, fail, nil)

	for i := 1; i <= 3; i++ {
		clk.Advance(61 * time.Second)
		snap, fresh := c.Snapshot(context.Background(), false)
		assert.Equal(t, Stale, fresh)
		assert.Equal(t, i, c.Throttle().Failures)
		assert.Equal(t, i < 3, snap.Connected, "failure %d", i)
	}

	// Cached reads within the interval are also reported unavailable.
	snap, _ := c.Current()
	assert.False(t, snap.Connected)

	clk.Advance(61 * time.Second)
	snap, fresh := c.Snapshot(context.Background(), false)
	assert.Equal(t, Fresh, fresh)
	assert.True(t, snap.Connected, "recovered")
	assert.Zero(t, c.Throttle().Failures)
}

func TestCache_FailureBackoff(t *testing.T) {
	up := &fakeUpstream{}
	clk := newClock()
	c := newTestCache(t, up, clk)
	require.NoError(t, c.Prime(context.Background()))

	up.script(pool.ErrUpstream)
	_, fresh := c.Snapshot(context.Background(), true)
	assert.Equal(t, Stale, fresh)

	clk.Advance(4 * time.Second)
	c.Snapshot(context.Background(), true)
	assert.EqualValues(t, 2, up.statusCalls.Load(), "held for one active interval")

	clk.Advance(time.Second)
	_, fresh = c.Snapshot(context.Background(), true)
	assert.Equal(t, Fresh, fresh)
	assert.EqualValues(t, 3, up.statusCalls.Load())
}

func TestCache_NotConnectedIsFreshObservation(t *testing.T) {
	up := &fakeUpstream{mode: pool.ModeOn}
	c := newTestCache(t, up, newClock())
	require.NoError(t, c.Prime(context.Background()))

	up.script(pool.ErrPoolNotConnected)
	snap, fresh := c.Snapshot(context.Background(), true)
	assert.Equal(t, Fresh, fresh)
	assert.False(t, snap.Connected)
	assert.Equal(t, 2, modeOf(t, snap), "last known mode kept")
	assert.Zero(t, c.Throttle().Failures)

	snap, _ = c.Snapshot(context.Background(), true)
	assert.True(t, snap.Connected, "restored by next observation")
}

func TestCache_ActiveWindow(t *testing.T) {
	up := &fakeUpstream{}
	clk := newClock()
	c := newTestCache(t, up, clk)
	require.NoError(t, c.Prime(context.Background()))

	c.RecordCommandIssued()
	clk.Advance(5 * time.Second)
	_, fresh := c.Snapshot(context.Background(), false)
	assert.Equal(t, Fresh, fresh)
	assert.EqualValues(t, 2, up.statusCalls.Load(), "active interval permits read after 5s")

	clk.Advance(5 * time.Minute)
	c.Snapshot(context.Background(), false)
	calls := up.statusCalls.Load()

	clk.Advance(10 * time.Second)
	c.Snapshot(context.Background(), false)
	assert.Equal(t, calls, up.statusCalls.Load(), "base interval restored after window")
}

func TestCache_CoalescesConcurrentReads(t *testing.T) {
	up := &fakeUpstream{block: make(chan struct{})}
	c := newTestCache(t, up, newClock())
	c.UpdateConfig(pool.NewConfiguration(pool.ConfigPayload{Channels: []pool.DeviceConfig{{Number: 1}}}, nil))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Snapshot(context.Background(), true)
		}()
	}
	require.Eventually(t, func() bool { return up.statusCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(up.block)
	wg.Wait()

	assert.LessOrEqual(t, up.statusCalls.Load(), int32(2))
}

func TestCache_SharedReadOutlivesCancelledCaller(t *testing.T) {
	up := &fakeUpstream{}
	c := newTestCache(t, up, newClock())
	require.NoError(t, c.Prime(context.Background()))
	up.block = make(chan struct{})
	up.setMode(pool.ModeAuto)

	type result struct {
		snap  pool.Snapshot
		fresh Freshness
	}
	first := make(chan result, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		snap, fresh := c.Snapshot(ctx, true)
		first <- result{snap, fresh}
	}()
	require.Eventually(t, func() bool { return up.statusCalls.Load() == 2 }, time.Second, time.Millisecond)

	second := make(chan result, 1)
	go func() {
		snap, fresh := c.Snapshot(context.Background(), true)
		second <- result{snap, fresh}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case r := <-first:
		assert.Equal(t, Stale, r.fresh, "the caller that gave up sees the cache")
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(up.block)
	select {
	case r := <-second:
		assert.Equal(t, Fresh, r.fresh, "the shared read was not cancelled")
		assert.Equal(t, 1, modeOf(t, r.snap))
	case <-time.After(time.Second):
		t.Fatal("shared read never finished")
	}
	assert.Equal(t, int32(2), up.statusCalls.Load())
	assert.Zero(t, c.Throttle().Failures)
}

func TestCache_UpdateConfigReindexesSnapshot(t *testing.T) {
	up := &fakeUpstream{mode: pool.ModeOn}
	c := newTestCache(t, up, newClock())
	require.NoError(t, c.Prime(context.Background()))

	snap, _ := c.Current()
	assert.Equal(t, 2, modeOf(t, snap))

	c.UpdateConfig(pool.NewConfiguration(
		pool.ConfigPayload{Channels: []pool.DeviceConfig{{Number: 1}}},
		map[string][]int{"channel-1": {pool.ModeOff, pool.ModeOn}},
	))
	snap, _ = c.Current()
	assert.Equal(t, 1, modeOf(t, snap))
}

func TestCache_CancelledReadIsNotFailure(t *testing.T) {
	up := &fakeUpstream{}
	c := newTestCache(t, up, newClock())
	require.NoError(t, c.Prime(context.Background()))

	up.script(context.Canceled)
	_, fresh := c.Snapshot(context.Background(), true)
	assert.Equal(t, Stale, fresh)
	assert.Zero(t, c.Throttle().Failures)
}

func TestCache_RefreshConfigError(t *testing.T) {
	up := &fakeUpstream{configErr: pool.ErrThrottled}
	clk := newClock()
	c := newTestCache(t, up, clk)

	err := c.RefreshConfig(context.Background())
	assert.True(t, errors.Is(err, pool.ErrThrottled))
	assert.Equal(t, clk.Now().Add(policy.Base), c.HoldUntil())
}
