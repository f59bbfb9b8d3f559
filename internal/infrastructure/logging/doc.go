// Package logging wraps log/slog with the gatesync conventions: JSON or
// text handlers, level filtering, and service/version fields stamped on
// every entry.
//
// Configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components derive their own loggers with With:
//
//	logger := logging.New(cfg.Logging, version)
//	pollLog := logger.With("component", "poller")
//	pollLog.Info("tick", "door", key, "duration_ms", ms)
//
// Never log credentials or tokens; the account password and broker
// credentials must not appear in any log line.
package logging
