// Package observation caches the controller's configuration and status
// under the cloud API's read throttle.
//
// The throttle is modelled as a pure function of timestamps: ThrottlePolicy
// evaluates a ThrottleState (last fetch, last command, last rejection, last
// failure and failure count) to decide when a live read is due:
//
//	normal           Base interval (60s floor)
//	after a command  Active interval (5s floor) for Window (default 5m)
//	after rejection  nothing before one full Base interval
//	after failures   Active doubled per failure, capped at Base
//
// Cache.Snapshot never returns an error. Rejections and failures are
// absorbed into Freshness and, past the failure threshold, into a forced
// "unavailable" connectivity flag on the served snapshot.
package observation
