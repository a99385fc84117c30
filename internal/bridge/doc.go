// Package bridge exposes the pool coordinator over MQTT.
//
// Home-automation systems talk to the pool through a topic tree instead of
// the HTTP API. The bridge owns no pool state of its own: every command is
// handed to the coordinator and every state message is a rendering of the
// coordinator's view.
//
// # Topics
//
// With the default prefix "poolbridge":
//
//	poolbridge/state/{channel}    retained channel view, published on change
//	poolbridge/state/pool         retained controller view
//	poolbridge/command/{channel}  set_mode, set_setpoint, set_effect, sync, cancel
//	poolbridge/ack/{channel}      command acknowledgements
//	poolbridge/action             raw cloud action
//	poolbridge/action/result      raw action outcome
//	poolbridge/health             retained bridge health
//
// # Acknowledgements
//
// A set_mode command is acknowledged twice: "accepted" once the transition
// is queued, then "completed", "failed", "cancelled" or "timeout" when it
// resolves. Every other command is acknowledged once, after the cloud
// answers.
//
// Example command:
//
//	{"id": "c-17", "command": "set_mode", "mode": "High Speed"}
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package bridge
