package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the pipeline logger: human-readable text on stderr at
// the configured level, and JSON to the log file at debug so a finished
// batch can be diagnosed after the fact. Returns the logger and a cleanup
// function that closes the file.
func SetupLogger(logFile string, stderrLevel slog.Level) (*slog.Logger, func() error) {
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return slog.New(stderrTextHandler(os.Stderr, stderrLevel)), func() error { return nil }
	}

	logger := slog.New(slogmulti.Fanout(
		stderrTextHandler(os.Stderr, stderrLevel),
		fileJSONHandler(file),
	))
	return logger, file.Close
}

// SetupLoggerWithWriters creates a logger with custom writers (for testing).
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		stderrTextHandler(stderr, level),
		fileJSONHandler(file),
	))
}

func stderrTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

func fileJSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
}
