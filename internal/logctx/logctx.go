package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey     contextKey = "logger"
	downloadIDKey contextKey = "download_id"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithDownloadID tags the context with the download the work belongs to.
// TraceHandler adds it to every record logged with the context.
func WithDownloadID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, downloadIDKey, id)
}

// DownloadIDFromContext returns the tagged download identifier, or 0.
func DownloadIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(downloadIDKey).(int64); ok {
		return id
	}

	return 0
}
