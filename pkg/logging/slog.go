package logging

import (
	"log/slog"
	"os"
)

// New builds the process-wide JSON logger. The level is taken from
// LOG_LEVEL when set (debug, info, warn, error).
func New(service string) *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		_ = level.UnmarshalText([]byte(v))
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With("service", service)
}
