// Package logger configures the application slog loggers.
//
// Two loggers are used by the service:
//   - the app logger, created once at startup with InitLogger
//   - per-request loggers, installed in the request context by the
//     RequestLogging middleware and retrieved with ContextRequestLogger
//
// Handlers can attach extra attributes to the final request log line with
// ContextWithLogAttrs.
package logger

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
)

// InitLogger creates the application logger.
//
// In dev/test environments a human-readable tint handler is used, otherwise
// logs are emitted as JSON for ingestion by the log pipeline.
func InitLogger(level slog.Level, environment string) *slog.Logger {
	var handler slog.Handler

	if environment == "dev" || environment == "test" {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ParseLogLevel converts a LOG_LEVEL string into a slog.Level.
// Unrecognized values fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type ctxKey int

const (
	requestLoggerKey ctxKey = iota
	logAttrsKey
)

// logAttrs collects attributes added by handlers during a request so the
// middleware can include them in the final request log line.
type logAttrs struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

// ContextRequestLogger returns the request-scoped logger from the context.
// Falls back to slog.Default() when no request logger is installed
// (e.g. in tests that call handlers directly).
func ContextRequestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// ContextWithLogAttrs appends attributes to the final request log line.
// It is a no-op if the RequestLogging middleware is not installed.
func ContextWithLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	la, ok := ctx.Value(logAttrsKey).(*logAttrs)
	if !ok {
		return
	}
	la.mu.Lock()
	defer la.mu.Unlock()
	la.attrs = append(la.attrs, attrs...)
}

// RequestLogging installs a request-scoped logger (tagged with the chi
// request id) in the context and emits one log line per completed request.
func RequestLogging(appLogger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := middleware.GetReqID(r.Context())

			reqLogger := appLogger.With(slog.String("request_id", requestID))

			la := &logAttrs{}
			ctx := context.WithValue(r.Context(), requestLoggerKey, reqLogger)
			ctx = context.WithValue(ctx, logAttrsKey, la)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			la.mu.Lock()
			extra := la.attrs
			la.mu.Unlock()

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
			}
			for _, a := range extra {
				args = append(args, a)
			}

			reqLogger.Info("request completed", args...)
		})
	}
}
