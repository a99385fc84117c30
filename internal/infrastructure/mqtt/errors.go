package mqtt

import "errors"

// Sentinel errors for broker operations. Callers branch with errors.Is.
var (
	// ErrNotConnected means the broker connection is down. The bridge treats
	// it as transient: state is republished once the connection returns.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the cause of a failed initial connection.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
