// Package api implements the HTTP REST API and WebSocket server for the
// pool bridge.
//
// This package provides:
//   - REST endpoints for the cached pool and channel views
//   - Mode transitions with optional blocking until they resolve
//   - Setpoint, lighting, favourite and raw action passthrough
//   - A WebSocket hub that relays coordinator status updates
//   - Bearer JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server sits in front of the coordinator. Reads are served from the
// observation cache and never reach the cloud; commands go through the
// coordinator's reconcilers and shared transport slot like any other.
//
// # Security
//
// When security.jwt.secret is set, every route except /api/v1/health,
// /api/v1/ws and /metrics needs an HS256 bearer token (see IssueToken).
// WebSocket connections use single-use tickets so tokens never appear in
// URLs. With no secret the API is open, which suits a trusted LAN.
//
// # Errors
//
// Failures are JSON objects {status, code, message}. Pool errors map onto
// codes clients can branch on: not_found, validation_error, unsupported,
// conflict, not_ready, throttled, pool_not_connected and upstream_error.
package api
