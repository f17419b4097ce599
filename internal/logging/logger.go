package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the logging format
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config represents the logging configuration
type Config struct {
	Level         LogLevel  `json:"level"`
	Format        LogFormat `json:"format"`
	OutputFile    string    `json:"output_file"`
	EnableConsole bool      `json:"enable_console"`
}

// Logger wraps slog.Logger with additional context
type Logger struct {
	*slog.Logger
	config Config
	file   *os.File
}

// New creates a new structured logger
func New(config Config) (*Logger, error) {
	var writers []io.Writer
	var file *os.File

	if config.EnableConsole {
		writers = append(writers, os.Stderr)
	}

	if config.OutputFile != "" {
		dir := filepath.Dir(config.OutputFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}

		var err error
		file, err = os.OpenFile(config.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = io.MultiWriter(writers...)
	}

	return &Logger{
		Logger: slog.New(newHandler(output, config)),
		config: config,
		file:   file,
	}, nil
}

func newHandler(output io.Writer, config Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(config.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Format time as RFC3339
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	if config.Format == FormatJSON {
		return slog.NewJSONHandler(output, opts)
	}
	return slog.NewTextHandler(output, opts)
}

func parseLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a logger that discards everything. Used by tests and as the
// fallback when a component is built without a logger.
func Nop() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})),
	}
}

// Close closes any open file handles
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// WithComponent creates a logger with a component context
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithBroker creates a logger with broker endpoint context
func (l *Logger) WithBroker(addr string) *Logger {
	return l.with("broker", addr)
}

// WithConsumer creates a logger with consumer group context
func (l *Logger) WithConsumer(group, instanceID string) *Logger {
	return l.with("group", group, "instance", instanceID)
}

// WithPartition creates a logger with partition context
func (l *Logger) WithPartition(topic, partitionID string) *Logger {
	return l.with("topic", topic, "partition", partitionID)
}

// WithError creates a logger with error context
func (l *Logger) WithError(err error) *Logger {
	return l.with("error", err.Error())
}

// ErrorContext logs an error message with structured context
func (l *Logger) ErrorContext(msg string, err error, args ...any) {
	allArgs := append([]any{"error", err}, args...)
	l.Error(msg, allArgs...)
}

// StartupInfo logs startup information
func (l *Logger) StartupInfo(component string, details map[string]any) {
	args := []any{"event", "startup", "component", component}
	for k, v := range details {
		args = append(args, k, v)
	}
	l.Info("Component starting", args...)
}

// ShutdownInfo logs shutdown information
func (l *Logger) ShutdownInfo(component string, details map[string]any) {
	args := []any{"event", "shutdown", "component", component}
	for k, v := range details {
		args = append(args, k, v)
	}
	l.Info("Component stopping", args...)
}

// Performance logs the duration of an operation
func (l *Logger) Performance(operation string, duration time.Duration, details map[string]any) {
	args := []any{
		"event", "performance",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	}
	for k, v := range details {
		args = append(args, k, v)
	}
	l.Debug("Performance metrics", args...)
}

// PartitionOperation logs partition ownership and offset events
func (l *Logger) PartitionOperation(operation, topic, partitionID string, details map[string]any) {
	args := []any{
		"event", "partition_operation",
		"operation", operation,
		"topic", topic,
		"partition", partitionID,
	}
	for k, v := range details {
		args = append(args, k, v)
	}
	l.Debug("Partition operation", args...)
}

// Rebalance logs the outcome of a consumer group rebalance
func (l *Logger) Rebalance(group, topic string, attempt int, owned []string, details map[string]any) {
	args := []any{
		"event", "rebalance",
		"group", group,
		"topic", topic,
		"attempt", attempt,
		"owned", owned,
	}
	for k, v := range details {
		args = append(args, k, v)
	}
	l.Info("Rebalance finished", args...)
}

// BrokerRequest logs a request sent to a broker
func (l *Logger) BrokerRequest(command, addr string, details map[string]any) {
	args := []any{
		"event", "broker_request",
		"command", command,
		"broker", addr,
	}
	for k, v := range details {
		args = append(args, k, v)
	}
	l.Debug("Broker request", args...)
}
