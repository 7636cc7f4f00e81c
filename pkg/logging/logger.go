/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger.go
Description: Logging setup for the greybox fuzzer. Builds a logrus logger from a small
config (level, format, optional timestamped log file next to stdout) and offers helpers
for the events a fuzzing session reports: crashes, timeouts, new coverage and statistics.
*/

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatText   LogFormat = "text"
	LogFormatCustom LogFormat = "custom"
)

const filePrefix = "akaylee-greybox_"

// LoggerConfig holds the configuration for the logger
type LoggerConfig struct {
	Level     LogLevel  `json:"level"`
	Format    LogFormat `json:"format"`
	OutputDir string    `json:"output_dir"` // empty disables the log file
	MaxFiles  int       `json:"max_files"`
	Timestamp bool      `json:"timestamp"`
	Caller    bool      `json:"caller"`
	Colors    bool      `json:"colors"`
	// Console receives log lines besides the file. Defaults to stdout.
	Console io.Writer `json:"-"`
}

// DefaultLoggerConfig returns console-only text logging at info level
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     LogLevelInfo,
		Format:    LogFormatText,
		MaxFiles:  10,
		Timestamp: true,
		Colors:    true,
	}
}

// Validate checks the LoggerConfig for invalid values
func (c *LoggerConfig) Validate() error {
	switch c.Format {
	case LogFormatJSON, LogFormatText, LogFormatCustom:
	default:
		return fmt.Errorf("unsupported log format: %s", c.Format)
	}
	if _, err := logrus.ParseLevel(string(c.Level)); err != nil {
		return fmt.Errorf("unsupported log level: %s", c.Level)
	}
	if c.OutputDir != "" && c.MaxFiles <= 0 {
		return fmt.Errorf("max_files must be positive")
	}
	return nil
}

// Logger wraps a logrus logger with the session's log file
type Logger struct {
	config     *LoggerConfig
	logger     *logrus.Logger
	fileHandle *os.File
	filePath   string
	startTime  time.Time
}

// NewLogger creates a new logger instance
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger config: %w", err)
	}

	l := &Logger{
		config:    config,
		logger:    logrus.New(),
		startTime: time.Now(),
	}

	level, _ := logrus.ParseLevel(string(config.Level))
	l.logger.SetLevel(level)
	l.logger.SetReportCaller(config.Caller)
	l.setFormatter()

	console := config.Console
	if console == nil {
		console = os.Stdout
	}
	l.logger.SetOutput(console)

	if err := l.setupFileOutput(console); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return l, nil
}

// Wrap adapts an already configured logrus logger. The result has no log file.
func Wrap(logger *logrus.Logger) *Logger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Logger{
		config:    DefaultLoggerConfig(),
		logger:    logger,
		startTime: time.Now(),
	}
}

// setFormatter configures the log formatter
func (l *Logger) setFormatter() {
	prettyCaller := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	switch l.config.Format {
	case LogFormatJSON:
		l.logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyCaller,
		})
	case LogFormatCustom:
		l.logger.SetFormatter(&CustomFormatter{
			Timestamp: l.config.Timestamp,
			Caller:    l.config.Caller,
			Colors:    l.config.Colors,
		})
	default:
		l.logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    l.config.Timestamp,
			TimestampFormat:  time.RFC3339,
			ForceColors:      l.config.Colors,
			DisableColors:    !l.config.Colors,
			CallerPrettyfier: prettyCaller,
		})
	}
}

// setupFileOutput tees log output into a timestamped file
func (l *Logger) setupFileOutput(console io.Writer) error {
	if l.config.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	name := filePrefix + time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(l.config.OutputDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.fileHandle = file
	l.filePath = path
	l.logger.SetOutput(io.MultiWriter(console, file))

	l.logger.WithFields(logrus.Fields{
		"log_file": path,
		"level":    l.config.Level,
		"format":   l.config.Format,
	}).Debug("Logging to file")
	return nil
}

// cleanup removes the oldest log files beyond MaxFiles
func (l *Logger) cleanup() error {
	if l.config.OutputDir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(l.config.OutputDir, filePrefix+"*.log"))
	if err != nil {
		return err
	}
	if len(files) <= l.config.MaxFiles {
		return nil
	}
	// Names embed the creation time, so lexical order is age order
	sort.Strings(files)
	for _, f := range files[:len(files)-l.config.MaxFiles] {
		os.Remove(f)
	}
	return nil
}

// LogCrash reports a crashing input
func (l *Logger) LogCrash(input int32, iteration int, sig syscall.Signal, fields logrus.Fields) {
	f := logrus.Fields{
		"input":     input,
		"iteration": iteration,
		"signal":    sig.String(),
	}
	for k, v := range fields {
		f[k] = v
	}
	l.logger.WithFields(f).Error("Crash found")
}

// LogTimeout reports a hanging input
func (l *Logger) LogTimeout(input int32, iteration int, timeout time.Duration, fields logrus.Fields) {
	f := logrus.Fields{
		"input":     input,
		"iteration": iteration,
		"timeout":   timeout,
	}
	for k, v := range fields {
		f[k] = v
	}
	l.logger.WithFields(f).Warn("Timeout found")
}

// LogNewCoverage reports an input that reached new edges
func (l *Logger) LogNewCoverage(input int32, iteration, newEdges, totalEdges int) {
	l.logger.WithFields(logrus.Fields{
		"input":       input,
		"iteration":   iteration,
		"new_edges":   newEdges,
		"total_edges": totalEdges,
	}).Info("New coverage found")
}

// LogStats reports periodic statistics
func (l *Logger) LogStats(executions, crashes, timeouts int64, execPerSec float64, fields logrus.Fields) {
	f := logrus.Fields{
		"executions":    executions,
		"crashes":       crashes,
		"timeouts":      timeouts,
		"execs_per_sec": execPerSec,
		"uptime":        time.Since(l.startTime),
	}
	for k, v := range fields {
		f[k] = v
	}
	l.logger.WithFields(f).Info("Statistics update")
}

// FilePath returns the active log file, or "" when logging to console only
func (l *Logger) FilePath() string {
	return l.filePath
}

// Close closes the log file and prunes old ones
func (l *Logger) Close() error {
	if l.fileHandle != nil {
		l.logger.SetOutput(os.Stdout)
		l.fileHandle.Close()
		l.fileHandle = nil
	}
	if err := l.cleanup(); err != nil {
		return fmt.Errorf("failed to cleanup log files: %w", err)
	}
	return nil
}

// GetLogger returns the underlying logrus logger
func (l *Logger) GetLogger() *logrus.Logger {
	return l.logger
}
