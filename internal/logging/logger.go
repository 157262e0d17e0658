// v1
// internal/logging/logger.go
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

// Init configures slog to log to both stdout and $LOG_DIR/<service>.log.
// It returns the *slog.Logger, the shared writer (for HTTP access logs) and the opened
// file so callers can Close() on shutdown.
func Init(service string) (*slog.Logger, io.Writer, io.Closer) {
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "./logs"
	}
	_ = os.MkdirAll(logDir, 0o755)

	filePath := filepath.Join(logDir, service+".log")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// stdout only if the file cannot be opened
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
		logger.Error("failed to open log file; falling back to stdout only", "error", err)
		return logger, os.Stdout, io.NopCloser(nil)
	}

	mw := io.MultiWriter(f, os.Stdout)
	logger := New(mw, os.Getenv("LOG_LEVEL"))

	// make legacy stdlib log align to our multi-writer too
	log.SetOutput(mw)
	return logger, mw, f
}

// New builds a text logger on w. level is one of debug, info, warn, error; anything
// else means info.
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
