// Package logger wraps log/slog with correlation IDs carried in the context
// and redaction of key material.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	withdrawalIDKey contextKey = "withdrawal_id"
)

const redactedValue = "[REDACTED]"

// redactKeys are attribute keys whose values must never reach a log sink.
var redactKeys = []string{
	"mnemonic",
	"seed",
	"private_key",
	"data_key",
	"secret",
}

const serviceName = "custody-core"

// Init installs the process-wide logger on stdout. LOG_FORMAT is json
// (default) or text; LOG_LEVEL is any slog level name and defaults to INFO.
func Init() error {
	h, err := NewHandler(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h).With("service", serviceName))
	return nil
}

// NewHandler builds a redacting handler that writes to w.
func NewHandler(w io.Writer, format, level string) (slog.Handler, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl, ReplaceAttr: RedactAttr}

	switch strings.ToLower(format) {
	case "", "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q (must be json or text)", format)
	}
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context.
// Returns empty string if not present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithWithdrawalID adds the withdrawal correlation ID to the context.
func WithWithdrawalID(ctx context.Context, withdrawalID string) context.Context {
	return context.WithValue(ctx, withdrawalIDKey, withdrawalID)
}

// GetWithdrawalID retrieves the withdrawal ID from context.
// Returns empty string if not present.
func GetWithdrawalID(ctx context.Context) string {
	if id, ok := ctx.Value(withdrawalIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns a logger enriched with the request and withdrawal IDs
// from context. If neither is present, returns the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if requestID := GetRequestID(ctx); requestID != "" {
		l = l.With("request_id", requestID)
	}
	if withdrawalID := GetWithdrawalID(ctx); withdrawalID != "" {
		l = l.With("withdrawal_id", withdrawalID)
	}
	return l
}

// RedactAttr replaces the value of secret-bearing attributes. It is installed
// as the handler's ReplaceAttr.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, k := range redactKeys {
		if key == k {
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}

// Info logs at INFO level with context enrichment.
func Info(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

// Error logs at ERROR level with context enrichment.
func Error(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Error(msg, args...)
}

// Warn logs at WARN level with context enrichment.
func Warn(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}

// Debug logs at DEBUG level with context enrichment.
func Debug(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debug(msg, args...)
}
