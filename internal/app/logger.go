package app

import (
	"io"
	"log/slog"
)

// logLevels maps the CLI's validated level names onto slog levels. An
// unknown name (tests build app.Config by hand) falls through to the map's
// zero value, which is slog.LevelInfo.
var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// newLogger builds the engine's isolated logger writing to outW. It never
// touches the global default, so concurrent App instances (the tests run
// several) cannot bleed output into each other.
func newLogger(level, format string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevels[level]}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(outW, opts))
	}
	return slog.New(slog.NewTextHandler(outW, opts))
}
