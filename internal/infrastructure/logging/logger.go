package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/halwright/gatesync/internal/infrastructure/config"
)

// serviceName tags every log entry so aggregated logs from several local
// daemons stay attributable.
const serviceName = "gatesync"

// Logger is the application logger. It embeds *slog.Logger, so the full
// slog API (Debug/Info/Warn/Error with key-value pairs) is available.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of config.yaml.
//
// Format selects the handler: "text" for development, anything else gets
// JSON. Output selects the destination: "stderr" or stdout. Every entry
// carries service and version attributes.
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Build version stamped onto each entry
//
// Returns:
//   - *Logger: Ready logger
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newWithWriter(out, cfg, version)
}

// newWithWriter is the testable core of New: same handler construction,
// caller-supplied destination.
func newWithWriter(out io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// With returns a child logger carrying additional default attributes,
// typically a component tag:
//
//	mqttLog := log.With("component", "mqtt")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a JSON/info/stdout logger for use before configuration
// has loaded. Replace it with New(cfg.Logging, version) as soon as the
// config is available.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// parseLevel maps a config level string onto slog. Unrecognised values fall
// back to info rather than failing startup over a typo.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
