// Package logging wires the process-wide structured logger for peerlend
// services.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON slog logger as the process default and returns it.
// Every line carries the service name, plus the environment when one is
// configured. Development environments log at debug level.
func Setup(service, env string) *slog.Logger {
	env = strings.TrimSpace(env)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFor(env),
	})
	logger := slog.New(handler).With(slog.String("service", strings.TrimSpace(service)))
	if env != "" {
		logger = logger.With(slog.String("env", env))
	}
	slog.SetDefault(logger)

	// Route the unstructured standard logger through the same handler so
	// dependencies that still call log.Printf land in the same stream.
	bridge := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return logger
}

func levelFor(env string) slog.Level {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
