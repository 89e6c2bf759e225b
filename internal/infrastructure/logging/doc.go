// Package logging provides structured logging for the Mechabus gateway.
//
// This package wraps Go's standard log/slog package so every component
// emits the same JSON (or text) records with the service and version
// attached.
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
//	logger.Info("starting gateway", "port", 8080)
//	logger.Error("uplink failed", "error", err)
//
// # Security
//
// Never log passwords, peer credentials or bearer tokens.
package logging
