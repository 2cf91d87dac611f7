// Package logging configures the structured JSON logger used throughout the
// pipeline. The teacher reaches for log/slog inside internal/store rather
// than inventing a second logging stack for non-controller code; this
// package promotes that same choice to the whole tree, since the CLI
// binary this spec describes owns no controller-runtime manager to supply
// a logr logger.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger at the given level ("debug", "info",
// "warn", "error"; unrecognized values fall back to "info").
func New(level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForStage returns a logger tagged with the provider and pipeline stage so
// every record emitted during that stage carries both fields automatically.
func ForStage(base *slog.Logger, provider, stage string) *slog.Logger {
	return base.With("provider", provider, "stage", stage)
}
