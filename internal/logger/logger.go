// Package logger builds the process-wide slog logger for an environment.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	logFileName = "race-admission.log"
)

// Setup returns a logger for env. Local logs go to stdout; dev and prod
// append to a file under logDir. The returned closer releases the file.
func Setup(env, logDir string) (*slog.Logger, io.Closer, error) {
	switch env {
	case EnvLocal:
		return slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		), io.NopCloser(nil), nil
	case EnvDev, EnvProd:
	default:
		return nil, nil, fmt.Errorf("invalid environment: %q", env)
	}

	logFile, err := os.OpenFile(filepath.Join(logDir, logFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	if env == EnvDev {
		return slog.New(
			slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}),
		), logFile, nil
	}
	return slog.New(
		slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}),
	), logFile, nil
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
