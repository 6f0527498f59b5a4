// Package logging provides slog helpers used throughout the application.
package logging

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
)

type contextKey struct{}

// WithLogger returns a copy of ctx carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default() if none is set.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// LogOperation logs a structured operation event at info level.
func LogOperation(logger *slog.Logger, operation string, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, operation, attrs...)
}

// LogError logs an error with a message and optional attributes.
func LogError(logger *slog.Logger, msg string, err error, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	attrs = append(attrs, slog.String("error", err.Error()))
	logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// SafeCloseWithLogging closes c and logs any close failure instead of
// discarding it. Intended for use in defer statements.
func SafeCloseWithLogging(c io.Closer, logger *slog.Logger, resourceName string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		LogError(logger, "failed to close resource", err,
			slog.String("resource", resourceName))
	}
}

// SafeRollbackWithLogging rolls back tx and logs unexpected failures.
// sql.ErrTxDone is ignored since it means the transaction was committed.
func SafeRollbackWithLogging(tx *sql.Tx, logger *slog.Logger, operation string) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		LogError(logger, "failed to roll back transaction", err,
			slog.String("operation", operation))
	}
}
