package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/poolbridge/internal/pool"
)

func fresh(mode int) Observation {
	return Observation{Mode: mode, Connected: true, Fresh: true}
}

// runIdeal drives m against a device that applies every command exactly
// once and reports it on the next read. It returns the outcome and the
// modes seen on confirmation reads.
func runIdeal(t *testing.T, p Params, start int) (Outcome, []int) {
	t.Helper()
	m := NewMachine(p)
	mode := start
	var seen []int

	step := m.Start(fresh(mode))
	for iter := 0; iter < 100; iter++ {
		switch step.Kind {
		case StepResolve:
			return step.Outcome, seen
		case StepIssueCommand:
			if p.DirectSet {
				mode = p.Target
			} else {
				mode = (mode + 1) % p.ModeCount
			}
			step = m.CommandIssued()
		case StepObserve:
			seen = append(seen, mode)
			step = m.Observed(fresh(mode))
		}
	}
	t.Fatal("machine did not resolve")
	return Outcome{}, nil
}

func TestStepsNeeded(t *testing.T) {
	tests := []struct {
		cur, target, n, want int
	}{
		{0, 0, 3, 0},
		{0, 1, 3, 1},
		{0, 2, 3, 2},
		{2, 0, 3, 1},
		{1, 0, 3, 2},
		{3, 1, 4, 2},
		{0, 0, 1, 0},
		{0, 5, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StepsNeeded(tt.cur, tt.target, tt.n), "cur=%d target=%d n=%d", tt.cur, tt.target, tt.n)
	}
}

func TestMachine_IdealTransportUsesExactStepCount(t *testing.T) {
	for _, n := range []int{2, 3, 4} {
		for start := 0; start < n; start++ {
			for target := 0; target < n; target++ {
				o, _ := runIdeal(t, Params{ModeCount: n, Target: target}, start)
				assert.Equal(t, Reached, o.State)
				assert.Equal(t, target, o.Mode)
				assert.Equal(t, StepsNeeded(start, target, n), o.Commands, "n=%d %d→%d", n, start, target)
				assert.Zero(t, o.Retries)
			}
		}
	}
}

func TestMachine_OffToOnPassesThroughAuto(t *testing.T) {
	modes := pool.TriModes()
	off := modes.IndexOf(pool.ModeOff)
	auto := modes.IndexOf(pool.ModeAuto)
	on := modes.IndexOf(pool.ModeOn)

	o, seen := runIdeal(t, Params{ModeCount: len(modes), Target: on}, off)
	assert.Equal(t, Reached, o.State)
	assert.Equal(t, 2, o.Commands)
	assert.Equal(t, []int{auto, on}, seen)
}

func TestMachine_DirectSetIsOneCommand(t *testing.T) {
	o, _ := runIdeal(t, Params{ModeCount: 4, Target: 3, DirectSet: true}, 0)
	assert.Equal(t, Reached, o.State)
	assert.Equal(t, 1, o.Commands)
}

func TestMachine_AlreadyAtTarget(t *testing.T) {
	m := NewMachine(Params{ModeCount: 3, Target: 1})
	step := m.Start(fresh(1))
	require.Equal(t, StepResolve, step.Kind)
	assert.Equal(t, Reached, step.Outcome.State)
	assert.Zero(t, step.Outcome.Commands)
}

func TestMachine_StartFailures(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		step := NewMachine(Params{ModeCount: 3, Target: 2}).Start(Observation{Mode: 0})
		require.Equal(t, StepResolve, step.Kind)
		assert.Equal(t, Failed, step.Outcome.State)
		assert.ErrorIs(t, step.Outcome.Reason, pool.ErrPoolNotConnected)
	})
	t.Run("target out of range", func(t *testing.T) {
		step := NewMachine(Params{ModeCount: 3, Target: 3}).Start(fresh(0))
		assert.Equal(t, Failed, step.Outcome.State)
		assert.ErrorIs(t, step.Outcome.Reason, pool.ErrUnknownMode)
	})
}

func TestMachine_UnmappedStartCyclesUntilKnown(t *testing.T) {
	m := NewMachine(Params{ModeCount: 3, Target: 2})
	step := m.Start(fresh(-1))
	require.Equal(t, StepIssueCommand, step.Kind)
	assert.Equal(t, AwaitingCommandSlot, m.State())

	m.CommandIssued()
	step = m.Observed(fresh(1))
	assert.Equal(t, StepIssueCommand, step.Kind)
	assert.Equal(t, 1, m.ObservedMode())
	assert.Equal(t, 1, m.Remaining())

	m.CommandIssued()
	step = m.Observed(fresh(2))
	require.Equal(t, StepResolve, step.Kind)
	assert.Equal(t, Reached, step.Outcome.State)
	assert.Equal(t, 2, step.Outcome.Commands)
	assert.Equal(t, 1, step.Outcome.Retries)
}

// A pump whose hardware cycle is Off, Auto, Low, Medium, High while the
// channel only models Off, Low, Medium, High.
func TestMachine_UnmappedModeKeepsCycling(t *testing.T) {
	hardware := []int{0, -1, 1, 2, 3}
	m := NewMachine(Params{ModeCount: 4, Target: 3})
	pos := 0

	step := m.Start(fresh(hardware[pos]))
	var seen []int
	for iter := 0; iter < 20; iter++ {
		if step.Kind == StepResolve {
			break
		}
		switch step.Kind {
		case StepIssueCommand:
			pos = (pos + 1) % len(hardware)
			step = m.CommandIssued()
		case StepObserve:
			seen = append(seen, hardware[pos])
			step = m.Observed(fresh(hardware[pos]))
		}
	}
	require.Equal(t, StepResolve, step.Kind)
	assert.Equal(t, Reached, step.Outcome.State)
	assert.Equal(t, 3, step.Outcome.Mode)
	assert.Equal(t, 4, step.Outcome.Commands)
	assert.Equal(t, 1, step.Outcome.Retries)
	assert.Equal(t, []int{-1, 1, 2, 3}, seen)
}

func TestMachine_UnmappedForeverTimesOut(t *testing.T) {
	m := NewMachine(Params{ModeCount: 3, Target: 2})
	step := m.Start(fresh(0))

	for iter := 0; iter < 50; iter++ {
		if step.Kind == StepResolve {
			break
		}
		switch step.Kind {
		case StepIssueCommand:
			step = m.CommandIssued()
		case StepObserve:
			step = m.Observed(fresh(-1))
		}
	}
	require.Equal(t, StepResolve, step.Kind)
	assert.Equal(t, TimedOut, step.Outcome.State, "never Failed for an unmapped mode")
	assert.NoError(t, step.Outcome.Reason)
	assert.Equal(t, -1, step.Outcome.Mode)
	assert.Equal(t, 6, step.Outcome.Retries)
}

func TestMachine_StuckDeviceTimesOut(t *testing.T) {
	m := NewMachine(Params{ModeCount: 3, Target: 2})
	step := m.Start(fresh(0))

	for step.Kind != StepResolve {
		switch step.Kind {
		case StepIssueCommand:
			step = m.CommandIssued()
		case StepObserve:
			step = m.Observed(fresh(0))
		}
	}
	assert.Equal(t, TimedOut, step.Outcome.State)
	assert.Equal(t, 6, step.Outcome.Commands, "N+2 retries after the first command")
	assert.Equal(t, 6, step.Outcome.Retries)
	assert.Equal(t, 0, step.Outcome.Mode)
}

func TestMachine_DisconnectDuringConfirmation(t *testing.T) {
	m := NewMachine(Params{ModeCount: 3, Target: 2})
	m.Start(fresh(0))
	m.CommandIssued()

	step := m.Observed(Observation{Mode: 0, Connected: false, Fresh: true})
	require.Equal(t, StepResolve, step.Kind)
	assert.Equal(t, Failed, step.Outcome.State)
	assert.ErrorIs(t, step.Outcome.Reason, pool.ErrPoolNotConnected)
}

func TestMachine_StaleReadsCountTowardsConfirmation(t *testing.T) {
	m := NewMachine(Params{ModeCount: 3, Target: 1, ConfirmPolls: 3})
	m.Start(fresh(0))
	m.CommandIssued()

	stale := Observation{Mode: 0, Connected: false}
	assert.Equal(t, StepObserve, m.Observed(stale).Kind, "stale read never fails on connectivity")
	assert.Equal(t, StepObserve, m.Observed(stale).Kind)

	step := m.Observed(stale)
	assert.Equal(t, StepIssueCommand, step.Kind)
	assert.Equal(t, Retrying, m.State())

	m.CommandIssued()
	step = m.Observed(fresh(1))
	assert.Equal(t, Reached, step.Outcome.State)
	assert.Equal(t, 2, step.Outcome.Commands)
	assert.Equal(t, 1, step.Outcome.Retries)
}

func TestMachine_FailedCommandIsConfirmedBeforeRetry(t *testing.T) {
	t.Run("command did take effect", func(t *testing.T) {
		m := NewMachine(Params{ModeCount: 3, Target: 2})
		m.Start(fresh(0))

		step := m.CommandFailed(pool.ErrUpstream)
		require.Equal(t, StepObserve, step.Kind)

		step = m.Observed(fresh(1))
		assert.Equal(t, StepIssueCommand, step.Kind)
		assert.Equal(t, AwaitingCommandSlot, m.State())
		assert.Equal(t, 1, m.Remaining())
	})

	t.Run("command was lost", func(t *testing.T) {
		m := NewMachine(Params{ModeCount: 3, Target: 2})
		m.Start(fresh(0))
		m.CommandFailed(pool.ErrThrottled)

		step := m.Observed(fresh(0))
		assert.Equal(t, StepIssueCommand, step.Kind)
		assert.Equal(t, Retrying, m.State())
	})
}

func TestMachine_TerminalCommandFailures(t *testing.T) {
	for _, err := range []error{pool.ErrUnauthorized, pool.ErrPoolNotConnected, pool.ErrUnknownChannel} {
		m := NewMachine(Params{ModeCount: 3, Target: 2})
		m.Start(fresh(0))
		step := m.CommandFailed(err)
		require.Equal(t, StepResolve, step.Kind, "%v", err)
		assert.Equal(t, Failed, step.Outcome.State)
		assert.True(t, errors.Is(step.Outcome.Reason, err))
	}
}

func TestMachine_UnexpectedModeRecounts(t *testing.T) {
	m := NewMachine(Params{ModeCount: 4, Target: 2})
	m.Start(fresh(0))
	m.CommandIssued()

	// Someone else advanced it as well.
	step := m.Observed(fresh(3))
	assert.Equal(t, StepIssueCommand, step.Kind)
	assert.Equal(t, 3, m.Remaining())
	assert.Equal(t, 3, m.ObservedMode())

	m2 := NewMachine(Params{ModeCount: 4, Target: 2})
	m2.Start(fresh(0))
	m2.CommandIssued()
	step = m2.Observed(fresh(2))
	assert.Equal(t, Reached, step.Outcome.State, "landing on the target counts")
}

func TestMachine_Cancel(t *testing.T) {
	m := NewMachine(Params{ModeCount: 3, Target: 2})
	m.Start(fresh(0))
	m.CommandIssued()
	m.Observed(fresh(1))

	o := m.Cancel()
	assert.Equal(t, Cancelled, o.State)
	assert.Equal(t, 1, o.Mode)
	assert.True(t, m.State().Terminal())
}

func TestDefaultConfirmPolls(t *testing.T) {
	assert.Equal(t, 6, DefaultConfirmPolls(5*time.Minute, 5*time.Second))
	assert.Equal(t, 1, DefaultConfirmPolls(30*time.Second, 5*time.Second))
	assert.Equal(t, 1, DefaultConfirmPolls(time.Minute, 0))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_confirmation", AwaitingConfirmation.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "state(42)", State(42).String())
}
