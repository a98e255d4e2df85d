package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default slog logger. The level comes from LOG_LEVEL;
// without it only errors are printed so the room console stays readable.
func Init() {
	InitWithWriter(os.Stderr)
}

// InitWithWriter is Init with an explicit destination. The room console
// redirects logs to a file while the terminal is owned by the UI.
func InitWithWriter(w io.Writer) {
	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: levelFromEnv(),
		}),
	)
	slog.SetDefault(logger)
}

func levelFromEnv() slog.Level {
	level := slog.LevelError // default: production only shows errors

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}
	return level
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
