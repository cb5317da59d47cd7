package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Setup builds the process logger: JSON on stdout and, when logFile is set,
// JSON appended to that file as well. The returned func closes the file.
func Setup(level slog.Level, logFile string) (*slog.Logger, func() error) {
	stdout := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if logFile == "" {
		return slog.New(NewContextHandler(stdout)), func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("failed to open log file, using stdout only", "error", err, "file", logFile)
		return slog.New(NewContextHandler(stdout)), func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(NewContextHandler(slogmulti.Fanout(stdout, fileHandler))), file.Close
}

// NewWithWriters is Setup over arbitrary writers.
func NewWithWriters(stdout, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(NewContextHandler(slogmulti.Fanout(
		slog.NewJSONHandler(stdout, opts),
		slog.NewJSONHandler(file, opts),
	)))
}
