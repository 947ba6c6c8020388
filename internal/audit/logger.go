package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const flushThreshold = 100

// Logger defines the interface for audit logging
type Logger interface {
	// Log buffers an audit event
	Log(ctx context.Context, event *Event) error

	// Decision request lifecycle
	LogRequestProcessed(ctx context.Context, requestID, userID, status string, duration time.Duration) error
	LogPipelineFallback(ctx context.Context, requestID, reason string) error

	// Step lifecycle
	LogStepApprovalRequired(ctx context.Context, requestID, stepID, stepName string) error
	LogStepApproved(ctx context.Context, requestID, stepID, stepName, approver string) error
	LogStepExecuted(ctx context.Context, requestID, stepID, stepName string, success bool, duration time.Duration) error
	LogDownstreamFailOpen(ctx context.Context, requestID, endpoint string, cause error) error

	// App returns the structured application logger
	App() *zap.Logger

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the audit trail file; empty writes to stdout
	AuditLogPath string

	// AppLogPath is the application log file; empty writes to stdout
	AppLogPath string

	// Format is "json" or "console"
	Format string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		Format:     "json",
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
		LogLevel:   "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

var _ Logger = (*auditLogger)(nil)

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var appEncoder zapcore.Encoder
	switch config.Format {
	case "", "json":
		appEncoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		appEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format %s", config.Format)
	}

	appCore := zapcore.NewCore(appEncoder, config.sink(config.AppLogPath), level)
	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// The audit trail is always JSON at INFO level, append-only
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		config.sink(config.AuditLogPath),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(auditCore),
		config:      config,
		buffer:      make([]*Event, 0, flushThreshold),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// sink returns a rotating file writer for path, or stdout when path is empty.
func (c *Config) sink(path string) zapcore.WriteSyncer {
	if path == "" {
		return zapcore.Lock(os.Stdout)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	})
}

// Log buffers an audit event and flushes once the buffer is full
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= flushThreshold {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// ─── Decision requests ──────────────────────────────────────────────────────

func (l *auditLogger) LogRequestProcessed(ctx context.Context, requestID, userID, status string, duration time.Duration) error {
	result := ResultSuccess
	switch status {
	case "error":
		result = ResultFailure
	case "processed_with_fallback":
		result = ResultDegraded
	}

	event := NewEvent(EventRequestProcessed).
		WithCorrelationID(requestID).
		WithUser(userID).
		WithResult(result).
		WithDuration(duration).
		WithMetadata("status", status).
		WithDescription(fmt.Sprintf("Request %s %s", requestID, status))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogPipelineFallback(ctx context.Context, requestID, reason string) error {
	event := NewEvent(EventPipelineFallback).
		WithCorrelationID(requestID).
		WithResult(ResultDegraded).
		WithMetadata("reason", reason).
		WithDescription("Augmented pipeline failed, served core decision")

	return l.Log(ctx, event)
}

// ─── Steps ──────────────────────────────────────────────────────────────────

func (l *auditLogger) LogStepApprovalRequired(ctx context.Context, requestID, stepID, stepName string) error {
	event := NewEvent(EventStepApprovalRequired).
		WithCorrelationID(requestID).
		WithResource(stepID, "step").
		WithAction(stepName).
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Step %q awaits approval", stepName))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogStepApproved(ctx context.Context, requestID, stepID, stepName, approver string) error {
	event := NewEvent(EventStepApproved).
		WithCorrelationID(requestID).
		WithResource(stepID, "step").
		WithAction(stepName).
		WithUser(approver).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Step %q approved by %s", stepName, approver))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogStepExecuted(ctx context.Context, requestID, stepID, stepName string, success bool, duration time.Duration) error {
	eventType, result := EventStepExecuted, ResultSuccess
	if !success {
		eventType, result = EventStepFailed, ResultFailure
	}

	event := NewEvent(eventType).
		WithCorrelationID(requestID).
		WithResource(stepID, "step").
		WithAction(stepName).
		WithResult(result).
		WithDuration(duration)

	return l.Log(ctx, event)
}

func (l *auditLogger) LogDownstreamFailOpen(ctx context.Context, requestID, endpoint string, cause error) error {
	event := NewEvent(EventDownstreamFailOpen).
		WithCorrelationID(requestID).
		WithResource(endpoint, "endpoint").
		WithResult(ResultDegraded).
		WithDescription("Downstream call failed, substituted success result")
	if cause != nil {
		event.Error = cause.Error()
		event.ErrorCode = "downstream_unavailable"
	}

	return l.Log(ctx, event)
}

// App returns the structured application logger
func (l *auditLogger) App() *zap.Logger {
	return l.appLogger
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	// Syncing a terminal stdout returns EINVAL on Linux.
	if err := l.auditLogger.Sync(); err != nil && l.config.AuditLogPath != "" {
		return err
	}
	if err := l.appLogger.Sync(); err != nil && l.config.AppLogPath != "" {
		return err
	}
	return nil
}

// Close stops the flush loop and flushes what is left. It is safe to call twice.
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}

// ─── No-op logger ───────────────────────────────────────────────────────────

type nopLogger struct{ app *zap.Logger }

// NewNopLogger returns a Logger that discards everything. Used by tests and
// by components constructed without logging.
func NewNopLogger() Logger { return nopLogger{app: zap.NewNop()} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogRequestProcessed(context.Context, string, string, string, time.Duration) error {
	return nil
}
func (nopLogger) LogPipelineFallback(context.Context, string, string) error { return nil }
func (nopLogger) LogStepApprovalRequired(context.Context, string, string, string) error {
	return nil
}
func (nopLogger) LogStepApproved(context.Context, string, string, string, string) error {
	return nil
}
func (nopLogger) LogStepExecuted(context.Context, string, string, string, bool, time.Duration) error {
	return nil
}
func (nopLogger) LogDownstreamFailOpen(context.Context, string, string, error) error { return nil }
func (n nopLogger) App() *zap.Logger                                                 { return n.app }
func (nopLogger) Sync() error                                                        { return nil }
func (nopLogger) Close() error                                                       { return nil }

// ─── Correlation ids ────────────────────────────────────────────────────────

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
