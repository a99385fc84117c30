package coordinator

import "errors"

// Domain errors for the coordinator package.
var (
	// ErrNotReady is returned before the first configuration and status reads complete.
	ErrNotReady = errors.New("coordinator: initial read not complete")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("coordinator: stopped")

	// ErrNoTransition is returned when cancelling a channel with nothing in progress.
	ErrNoTransition = errors.New("coordinator: no transition in progress")

	// ErrTransitionNotFound is returned for an unknown or expired transition id.
	ErrTransitionNotFound = errors.New("coordinator: transition not found")

	// ErrUpstreamUnavailable is returned by HealthCheck past the failure threshold.
	ErrUpstreamUnavailable = errors.New("coordinator: upstream unavailable")
)
