package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// State is a reconciliation state.
type State int

// Reconciliation states. Reached, Failed, Cancelled and TimedOut are terminal.
const (
	Idle State = iota
	AwaitingCommandSlot
	CommandIssued
	AwaitingConfirmation
	Reached
	Retrying
	Failed
	Cancelled
	TimedOut
)

var stateNames = [...]string{
	Idle:                 "idle",
	AwaitingCommandSlot:  "awaiting_command_slot",
	CommandIssued:        "command_issued",
	AwaitingConfirmation: "awaiting_confirmation",
	Reached:              "reached",
	Retrying:             "retrying",
	Failed:               "failed",
	Cancelled:            "cancelled",
	TimedOut:             "timed_out",
}

// String returns the snake_case state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s resolves a request.
func (s State) Terminal() bool {
	switch s {
	case Reached, Failed, Cancelled, TimedOut:
		return true
	}
	return false
}

// Outcome is how a request resolved.
type Outcome struct {
	State State `json:"state"`

	// Mode is the final mode for Reached, otherwise the last observed mode
	// (-1 if never observed).
	Mode int `json:"mode"`

	// Reason explains Failed.
	Reason error `json:"-"`

	Commands int `json:"commands"`
	Retries  int `json:"retries"`
}

// Observation is what the machine learns from one read.
type Observation struct {
	// Mode is the observed index into the mode sequence, -1 if unknown.
	Mode int

	// Connected is the device's own connectivity report.
	Connected bool

	// Fresh is false when the read was throttled, failed or timed out;
	// Mode and Connected are then the cached values and carry no new information.
	Fresh bool
}

// StepKind is what the driver must do next.
type StepKind int

// Step kinds.
const (
	StepIssueCommand StepKind = iota
	StepObserve
	StepResolve
)

// Step is one instruction from the machine.
type Step struct {
	Kind    StepKind
	Outcome Outcome
}

// Params fixes one request.
type Params struct {
	ModeCount int
	Target    int
	DirectSet bool

	// MaxAttempts is the retry budget. 0 means ModeCount + 2.
	MaxAttempts int

	// ConfirmPolls is how many reads may pass without the expected change
	// before a command counts as lost. 0 means 1.
	ConfirmPolls int
}

// Validate checks the target against the mode count.
func (p Params) Validate() error {
	if p.ModeCount < 1 {
		return fmt.Errorf("%w: empty mode sequence", pool.ErrUnknownMode)
	}
	if p.Target < 0 || p.Target >= p.ModeCount {
		return fmt.Errorf("%w: target %d of %d", pool.ErrUnknownMode, p.Target, p.ModeCount)
	}
	return nil
}

// StepsNeeded is the forward cyclic distance from current to target.
// The result is always in [0, n).
func StepsNeeded(current, target, n int) int {
	if n <= 0 {
		return 0
	}
	return ((target-current)%n + n) % n
}

// DefaultConfirmPolls derives the confirmation budget from the active window:
// one tenth of the reads the window allows, at least one.
func DefaultConfirmPolls(window, active time.Duration) int {
	if active <= 0 {
		return 1
	}
	n := int(window / (active * 10))
	if n < 1 {
		return 1
	}
	return n
}

// Machine drives one request from observed mode to target. It does no I/O:
// each method consumes an event and returns the next Step.
//
// Sequence per command: IssueCommand → (CommandIssued | CommandFailed) →
// one or more Observe → Observed. A command is never requested while one is
// awaiting confirmation.
type Machine struct {
	p Params

	state     State
	observed  int
	expected  int
	remaining int
	polls     int
	retries   int
	commands  int
	uncertain bool
}

// NewMachine creates a machine for p. Call Start next.
func NewMachine(p Params) *Machine {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = p.ModeCount + 2
	}
	if p.ConfirmPolls <= 0 {
		p.ConfirmPolls = 1
	}
	return &Machine{p: p, state: Idle, observed: -1, expected: -1}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Remaining returns the steps still needed from the last observed mode.
func (m *Machine) Remaining() int { return m.remaining }

// ObservedMode returns the last observed mode index.
func (m *Machine) ObservedMode() int { return m.observed }

// Start begins from the current (possibly cached) observation.
func (m *Machine) Start(obs Observation) Step {
	if err := m.p.Validate(); err != nil {
		return m.fail(err)
	}
	if !obs.Connected {
		return m.fail(pool.ErrPoolNotConnected)
	}
	if !m.known(obs.Mode) {
		// Outside the modelled sequence: cycle until a known mode comes round.
		m.retries++
		m.state = AwaitingCommandSlot
		return Step{Kind: StepIssueCommand}
	}
	return m.recount(obs.Mode)
}

// CommandIssued records a command the upstream accepted.
func (m *Machine) CommandIssued() Step {
	m.commands++
	m.state = CommandIssued
	m.polls = 0
	m.uncertain = false
	m.expected = m.nextExpected()
	return Step{Kind: StepObserve}
}

// CommandFailed records a command the upstream refused or that was lost in
// transit. Authorisation and connectivity failures are terminal; any other
// failure counts as a retry and is followed by an observation, since a lost
// response may still have moved the channel.
func (m *Machine) CommandFailed(err error) Step {
	if errors.Is(err, pool.ErrPoolNotConnected) {
		return m.fail(pool.ErrPoolNotConnected)
	}
	if IsTerminalFailure(err) {
		return m.fail(err)
	}
	m.commands++
	m.retries++
	if m.retries > m.p.MaxAttempts {
		return m.resolve(TimedOut, nil)
	}
	m.state = AwaitingConfirmation
	m.polls = 0
	m.uncertain = true
	m.expected = m.nextExpected()
	return Step{Kind: StepObserve}
}

// Observed consumes one confirmation read.
func (m *Machine) Observed(obs Observation) Step {
	m.state = AwaitingConfirmation
	if !obs.Fresh {
		return m.noProgress()
	}
	if !obs.Connected {
		return m.fail(pool.ErrPoolNotConnected)
	}
	if !m.known(obs.Mode) {
		if m.observed < 0 {
			if m.uncertain {
				m.uncertain = false
				return m.reissue()
			}
			return m.noProgress()
		}
		// Moved, but to a mode outside the sequence.
		m.observed = -1
		m.uncertain = false
		return m.retry()
	}
	if m.observed < 0 {
		return m.recount(obs.Mode)
	}

	switch obs.Mode {
	case m.observed:
		if m.uncertain {
			// The failed command did not take effect; its retry is already counted.
			m.uncertain = false
			return m.reissue()
		}
		return m.noProgress()

	case m.expected:
		return m.recount(obs.Mode)

	default:
		// Moved somewhere unexpected: recount from what is there now.
		m.observed = obs.Mode
		m.remaining = m.stepsFrom(obs.Mode)
		if m.remaining == 0 {
			return m.resolve(Reached, nil)
		}
		return m.retry()
	}
}

// Cancel resolves the request as Cancelled.
func (m *Machine) Cancel() Outcome {
	return m.resolve(Cancelled, nil).Outcome
}

func (m *Machine) noProgress() Step {
	m.polls++
	if m.polls < m.p.ConfirmPolls {
		return Step{Kind: StepObserve}
	}
	return m.retry()
}

func (m *Machine) retry() Step {
	m.retries++
	if m.retries > m.p.MaxAttempts {
		return m.resolve(TimedOut, nil)
	}
	return m.reissue()
}

// recount adopts mode as the observed position and asks for the next
// command, or resolves Reached when no steps remain.
func (m *Machine) recount(mode int) Step {
	m.observed = mode
	m.remaining = m.stepsFrom(mode)
	if m.remaining == 0 {
		return m.resolve(Reached, nil)
	}
	m.state = AwaitingCommandSlot
	return Step{Kind: StepIssueCommand}
}

func (m *Machine) known(mode int) bool {
	return mode >= 0 && mode < m.p.ModeCount
}

func (m *Machine) reissue() Step {
	m.state = Retrying
	return Step{Kind: StepIssueCommand}
}

func (m *Machine) stepsFrom(mode int) int {
	if m.p.DirectSet {
		if mode == m.p.Target {
			return 0
		}
		return 1
	}
	return StepsNeeded(mode, m.p.Target, m.p.ModeCount)
}

func (m *Machine) nextExpected() int {
	if m.p.DirectSet {
		return m.p.Target
	}
	if m.observed < 0 {
		return -1
	}
	return (m.observed + 1) % m.p.ModeCount
}

func (m *Machine) fail(reason error) Step {
	return m.resolve(Failed, reason)
}

func (m *Machine) resolve(s State, reason error) Step {
	m.state = s
	return Step{Kind: StepResolve, Outcome: Outcome{
		State:    s,
		Mode:     m.observed,
		Reason:   reason,
		Commands: m.commands,
		Retries:  m.retries,
	}}
}
