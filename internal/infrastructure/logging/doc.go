// Package logging provides structured logging for the Storcube bridge.
//
// It wraps Go's log/slog package:
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Values of token, password and authorization attributes are redacted
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
//	logger.Info("link connected", "device_id", cfg.Bridge.DeviceID)
//	logger.Error("token fetch failed", "error", err)
package logging
