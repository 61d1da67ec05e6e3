package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	runID string
	dir   string
	level log.Level
}

// WithRunID configures the run_id field used in emitted log records.
func WithRunID(runID string) Option {
	return func(opts *newOptions) {
		opts.runID = strings.TrimSpace(runID)
	}
}

// WithDir writes the log file into dir instead of ~/.vroom/logs.
func WithDir(dir string) Option {
	return func(opts *newOptions) {
		opts.dir = strings.TrimSpace(dir)
	}
}

// WithLevel sets the minimum record level.
func WithLevel(level log.Level) Option {
	return func(opts *newOptions) {
		opts.level = level
	}
}

// RuntimeLogger writes structured JSON logs to disk.
type RuntimeLogger struct {
	Logger     *log.Logger
	file       *os.File
	path       string
	baseLogger *log.Logger
	runID      string
}

// New initializes logging under ~/.vroom/logs without writing to stdout.
func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	resolved := resolveOptions(options)

	logDir := resolved.dir
	if logDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		logDir = filepath.Join(homeDir, ".vroom", "logs")
	}
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	fileName := fmt.Sprintf("vroom-nvim-%s.log", timestamp)
	if resolved.runID != "" {
		fileName = fmt.Sprintf("vroom-nvim-%s-%s.log", timestamp, resolved.runID)
	}
	filePath := filepath.Join(logDir, fileName)
	// #nosec G304 -- filePath is constructed from trusted local paths.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.NewWithOptions(file, log.Options{
		Level:           resolved.level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		file:       file,
		path:       filePath,
		baseLogger: logger,
		runID:      resolved.runID,
	}
	runtimeLogger.rebuildLogger()
	runtimeLogger.Logger.With("log_file", filePath).Info("logger initialized")

	_ = ctx
	return runtimeLogger, nil
}

// Discard returns a logger that drops every record.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// WithRunID updates the run_id field for subsequent log records.
func (r *RuntimeLogger) WithRunID(runID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.runID = strings.TrimSpace(runID)
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	r.Logger = r.baseLogger.With("run_id", r.runID)
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{level: log.InfoLevel}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}
