package logger

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
	depositIDKey contextKey = "deposit_id"
	botIDKey     contextKey = "bot_id"
)

// Logger wraps slog.Logger with domain-aware context helpers.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger instance. Development gets a human-readable text
// handler at debug level; everything else gets JSON at info level.
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "development" {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with every context value this package knows
// about attached as an attribute. Call this once per request/job iteration
// rather than threading individual With* calls through.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		logger = logger.With(slog.String("request_id", requestID))
	}
	if userID, ok := ctx.Value(userIDKey).(int64); ok {
		logger = logger.With(slog.Int64("user_id", userID))
	}
	if depositID, ok := ctx.Value(depositIDKey).(string); ok {
		logger = logger.With(slog.String("deposit_id", depositID))
	}
	if botID, ok := ctx.Value(botIDKey).(string); ok {
		logger = logger.With(slog.String("bot_id", botID))
	}

	return &Logger{Logger: logger}
}

// WithRequestID attaches a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithUserID attaches a user ID to the context.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// WithDepositID attaches a pending-deposit payment ID to the context; used
// throughout finalize so every log line in a deposit's lifecycle can be
// correlated without passing the ID through every function signature.
func WithDepositID(ctx context.Context, paymentID string) context.Context {
	return context.WithValue(ctx, depositIDKey, paymentID)
}

// WithBotID attaches a bot identity to the context; used by BotFleet so
// transport-level logs are attributable to a specific bot_id even across
// failover.
func WithBotID(ctx context.Context, botID string) context.Context {
	return context.WithValue(ctx, botIDKey, botID)
}

// GetRequestID retrieves the request ID from context, if any.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves the user ID from context, if any.
func GetUserID(ctx context.Context) int64 {
	if userID, ok := ctx.Value(userIDKey).(int64); ok {
		return userID
	}
	return 0
}
