// Package connectmypool is the HTTP client for the ConnectMyPool cloud API.
//
// Four JSON POST endpoints are used: /api/poolconfig, /api/poolstatus,
// /api/poolaction and /api/poolactionstatus. Responses are decoded into the
// pool package's payload types; failure bodies are mapped onto pool sentinels:
//
//	failure_code 3, 4, 5  → pool.ErrUnauthorized
//	failure_code 6        → pool.ErrThrottled
//	failure_code 7        → pool.ErrPoolNotConnected
//	anything else         → pool.ErrUpstream
//
// The client is deliberately thin: throttling, caching and serialisation of
// calls belong to the observation and coordinator packages.
package connectmypool
