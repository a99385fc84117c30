package pool

import "errors"

// Domain errors for the pool package.
//
// Upstream failures are classified onto these sentinels by the cloud client,
// so callers can branch with errors.Is without knowing the wire format:
//
//	if errors.Is(err, pool.ErrThrottled) {
//	    // serve cached data
//	}
var (
	// ErrThrottled is returned when the cloud rejects a call for arriving too soon.
	ErrThrottled = errors.New("pool: throttled by upstream")

	// ErrPoolNotConnected is returned when the cloud reports the controller offline.
	ErrPoolNotConnected = errors.New("pool: controller not connected")

	// ErrUnauthorized is returned for an invalid or disabled pool API code.
	ErrUnauthorized = errors.New("pool: api code rejected")

	// ErrUpstream is returned for any other upstream or transport failure.
	ErrUpstream = errors.New("pool: upstream failure")

	// ErrUnknownChannel is returned when a channel id is not in the configuration.
	ErrUnknownChannel = errors.New("pool: unknown channel")

	// ErrUnknownMode is returned when a mode is not in the channel's sequence.
	ErrUnknownMode = errors.New("pool: unknown mode")

	// ErrUnknownEffect is returned when a lighting effect is not offered by the zone.
	ErrUnknownEffect = errors.New("pool: unknown lighting effect")

	// ErrUnknownFavourite is returned when a favourite number is not configured.
	ErrUnknownFavourite = errors.New("pool: unknown favourite")

	// ErrUnsupported is returned when a channel lacks the requested capability.
	ErrUnsupported = errors.New("pool: operation not supported by channel")

	// ErrSetpointOutOfRange is returned for temperatures outside the controller's range.
	ErrSetpointOutOfRange = errors.New("pool: setpoint out of range")
)
