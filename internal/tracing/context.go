package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SubmissionIDKey is the context key for the turn submission ID
	SubmissionIDKey ContextKey = "submission_id"
	// SessionKeyKey is the context key for session key
	SessionKeyKey ContextKey = "session_key"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewSubmissionID generates a new turn submission ID
func NewSubmissionID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSubmissionID adds a submission ID to the context
func WithSubmissionID(ctx context.Context, subID string) context.Context {
	return context.WithValue(ctx, SubmissionIDKey, subID)
}

// WithSessionKey adds a session key to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetSubmissionID retrieves the submission ID from the context
func GetSubmissionID(ctx context.Context) string {
	if subID, ok := ctx.Value(SubmissionIDKey).(string); ok {
		return subID
	}
	return ""
}

// GetSessionKey retrieves the session key from the context
func GetSessionKey(ctx context.Context) string {
	if sessionKey, ok := ctx.Value(SessionKeyKey).(string); ok {
		return sessionKey
	}
	return ""
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext returns a logger enriched with whatever tracing fields
// are present on the context.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	if subID := GetSubmissionID(ctx); subID != "" {
		lc = lc.Str("submission_id", subID)
	}
	if sessionKey := GetSessionKey(ctx); sessionKey != "" {
		lc = lc.Str("session_key", sessionKey)
	}
	return lc.Logger()
}
