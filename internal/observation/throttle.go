package observation

import "time"

// ThrottlePolicy holds the configured spacing between live reads.
type ThrottlePolicy struct {
	// Base is the normal minimum interval between live reads.
	Base time.Duration

	// Active is the relaxed interval used inside the active window.
	Active time.Duration

	// Window is how long the relaxed interval applies after a command.
	Window time.Duration
}

// ThrottleState is the event history the policy is evaluated against.
// It holds timestamps only; every derived interval is recomputed on demand.
type ThrottleState struct {
	LastFetch     time.Time
	LastCommand   time.Time
	LastRejection time.Time
	LastFailure   time.Time
	Failures      int
}

// InActiveWindow reports whether now falls within Window of the last command.
func (p ThrottlePolicy) InActiveWindow(s ThrottleState, now time.Time) bool {
	if s.LastCommand.IsZero() {
		return false
	}
	return now.Sub(s.LastCommand) < p.Window
}

// Interval is the minimum age a snapshot must reach before a live read is due.
func (p ThrottlePolicy) Interval(s ThrottleState, now time.Time) time.Duration {
	if p.InActiveWindow(s, now) {
		return p.Active
	}
	return p.Base
}

// Backoff is the wait after the nth consecutive transport failure:
// Active doubled per failure, never longer than Base.
func (p ThrottlePolicy) Backoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := p.Active
	for i := 1; i < failures && d < p.Base; i++ {
		d *= 2
	}
	if d > p.Base {
		d = p.Base
	}
	return d
}

// HoldUntil is the earliest time any live read may be attempted after a
// throttle rejection (one full Base interval) or transport failure (Backoff).
// Forced reads honour it too.
func (p ThrottlePolicy) HoldUntil(s ThrottleState) time.Time {
	var hold time.Time
	if !s.LastRejection.IsZero() {
		hold = s.LastRejection.Add(p.Base)
	}
	if s.Failures > 0 && !s.LastFailure.IsZero() {
		if t := s.LastFailure.Add(p.Backoff(s.Failures)); t.After(hold) {
			hold = t
		}
	}
	return hold
}

// NextLiveAt is the earliest time a live read respects both the current
// interval and any hold. A zero LastFetch makes the interval term zero.
func (p ThrottlePolicy) NextLiveAt(s ThrottleState, now time.Time) time.Time {
	var next time.Time
	if !s.LastFetch.IsZero() {
		next = s.LastFetch.Add(p.Interval(s, now))
	}
	if hold := p.HoldUntil(s); hold.After(next) {
		next = hold
	}
	return next
}
