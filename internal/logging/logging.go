// Package logging configures the application wide slog loggers.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger

// Init initializes the logging system with a structured JSON logger on stdout
// and sets it as the slog default.
func Init(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	structuredLogger = slog.New(handler)
	slog.SetDefault(structuredLogger)
}

// SetStructured replaces the global structured logger and the slog default,
// e.g. with a file logger.
func SetStructured(l *slog.Logger) {
	structuredLogger = l
	slog.SetDefault(l)
}

// Structured returns the globally configured structured (JSON) logger.
// Returns the slog default if Init() has not been called.
func Structured() *slog.Logger {
	if structuredLogger == nil {
		return slog.Default()
	}
	return structuredLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
func ForService(serviceName string) *slog.Logger {
	return Structured().With("service", serviceName)
}

// NewFileLogger creates a slog.Logger writing JSON logs to the given file with
// lumberjack rotation. It returns the logger and a function closing the
// underlying writer.
func NewFileLogger(filePath, serviceName string, level slog.Level, maxSizeBytes int64) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	maxSizeMB := int(maxSizeBytes / (1024 * 1024))
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: level})
	logger := slog.New(fileHandler).With("service", serviceName)

	return logger, logWriter.Close, nil
}
