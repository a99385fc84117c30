package bridge

import (
	"errors"

	"github.com/nerrad567/poolbridge/internal/coordinator"
	"github.com/nerrad567/poolbridge/internal/pool"
)

// Domain errors for the MQTT bridge.
var (
	// ErrInvalidCommand is returned for a command name the bridge does not know.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrInvalidParameters is returned when a command's arguments are missing or malformed.
	ErrInvalidParameters = errors.New("bridge: invalid parameters")
)

// errorCode maps an error onto the code carried in acknowledgements.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, pool.ErrSetpointOutOfRange):
		return ErrCodeInvalidParameters
	case errors.Is(err, pool.ErrUnknownChannel):
		return ErrCodeUnknownChannel
	case errors.Is(err, pool.ErrUnknownMode), errors.Is(err, pool.ErrUnknownEffect):
		return ErrCodeUnknownMode
	case errors.Is(err, pool.ErrUnsupported):
		return ErrCodeUnsupported
	case errors.Is(err, coordinator.ErrNotReady), errors.Is(err, coordinator.ErrStopped):
		return ErrCodeNotReady
	case errors.Is(err, coordinator.ErrNoTransition):
		return ErrCodeNoTransition
	case errors.Is(err, pool.ErrPoolNotConnected):
		return ErrCodePoolNotConnected
	case errors.Is(err, pool.ErrUnauthorized):
		return ErrCodeUnauthorized
	case errors.Is(err, pool.ErrThrottled):
		return ErrCodeThrottled
	case errors.Is(err, pool.ErrUpstream):
		return ErrCodeUpstream
	default:
		return ErrCodeBridgeError
	}
}

func ackError(err error) *AckError {
	if err == nil {
		return nil
	}
	return &AckError{Code: errorCode(err), Message: err.Error()}
}
