// Package logging provides structured logging for poolbridge.
//
// It wraps log/slog so every record carries the service name and build
// version, and so components can be handed a *Logger that satisfies their
// own narrow logging interfaces.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("coordinator").Info("poll loop started", "interval", "60s")
//
// Never log the pool API code or the JWT secret.
package logging
