package logctx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxArchivedLogs = 1
	megabyte        = 1024 * 1024
)

// SinkConfig describes where log records go.
type SinkConfig struct {
	Level   slog.Level
	File    string // empty disables the file sink
	MaxSize string // rotation threshold, e.g. "10M", "1G", "500KB"
	Stdout  io.Writer
}

// NewLogger builds the process logger: JSON records to stdout and to a
// size rotated file. An unopenable log file is reported as an error so the
// caller can abort before doing any work.
func NewLogger(cfg SinkConfig) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer

	if cfg.Stdout != nil {
		writers = append(writers, cfg.Stdout)
	}

	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		size, err := ParseSize(cfg.MaxSize)
		if err != nil {
			return nil, nil, err
		}

		if err := checkWritable(cfg.File); err != nil {
			return nil, nil, err
		}

		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    sizeInMegabytes(size),
			MaxBackups: maxArchivedLogs,
		}

		writers = append(writers, rotating)
		closer = rotating
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: cfg.Level})

	return slog.New(NewContextHandler(handler)), closer, nil
}

// ParseSize parses a log size such as "10M" or "1G". Bare M and G suffixes
// are binary units; anything humanize understands ("500KB", "2GiB") works too.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty log size")
	}

	switch upper := strings.ToUpper(s); {
	case strings.HasSuffix(upper, "M"), strings.HasSuffix(upper, "G"), strings.HasSuffix(upper, "K"):
		s += "iB"
	}

	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid log size %q: %w", s, err)
	}

	if size == 0 {
		return 0, fmt.Errorf("log size must be greater than zero")
	}

	return size, nil
}

// ParseLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// lumberjack rotates in whole megabytes.
func sizeInMegabytes(size uint64) int {
	mb := (size + megabyte - 1) / megabyte
	if mb < 1 {
		mb = 1
	}

	return int(mb)
}

func checkWritable(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	return f.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
