// Package logging provides structured logging with correlation-ID support
// for every Chronicle component (submitter, transaction processors,
// projector).
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through a request or
// transaction's lifetime.
type ContextKey string

const (
	// CorrelationIDKey is the context key for the client-generated
	// correlation id that ties a submission to its commit event.
	CorrelationIDKey ContextKey = "correlation_id"
	// TxIDKey is the context key for the ledger transaction id.
	TxIDKey ContextKey = "tx_id"
	// ServiceKey is the context key for the emitting component's name.
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with Chronicle's field conventions.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance for the named component.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables, defaulting to "info" and "json".
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext creates a logger entry carrying the correlation id and tx id
// present on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if v := ctx.Value(CorrelationIDKey); v != nil {
		entry = entry.WithField("correlation_id", v)
	}
	if v := ctx.Value(TxIDKey); v != nil {
		entry = entry.WithField("tx_id", v)
	}
	return entry
}

// WithFields creates a logger entry with the given custom fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a logger entry carrying err.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// NewCorrelationID generates a fresh client-side correlation id (UUID v4).
func NewCorrelationID() string {
	return uuid.New().String()
}

// WithCorrelationID attaches a correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID retrieves the correlation id from ctx, if present.
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTxID attaches a ledger transaction id to ctx.
func WithTxID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, TxIDKey, txID)
}

// LogCommit logs a transaction commit at the offset it was assigned.
func (l *Logger) LogCommit(ctx context.Context, txID string, offset uint64) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"tx_id":  txID,
		"offset": offset,
	}).Info("transaction committed")
}

// LogRejection logs a transaction rejection with its cause.
func (l *Logger) LogRejection(ctx context.Context, txID string, err error) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"tx_id": txID,
	}).WithError(err).Warn("transaction rejected")
}

// Global default logger, mirroring the teacher's package-level convenience
// accessors.
var defaultLogger *Logger

// InitDefault initializes the package-level default logger.
func InitDefault(service, level, format string) {
	defaultLogger = New(service, level, format)
}

// Default returns the default logger, lazily initializing a fallback.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("chronicle", "info", "json")
	}
	return defaultLogger
}
