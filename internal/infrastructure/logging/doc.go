// Package logging provides structured logging for the switch skill.
//
// It wraps log/slog with JSON or text output, level filtering, and the
// default fields service and version on every entry.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	cacheLog := logger.Component("device_cache")
//	cacheLog.Warn("directory unreachable, serving stale snapshot", "error", err)
//
// Device topics may appear in logs; they never appear in spoken responses.
package logging
