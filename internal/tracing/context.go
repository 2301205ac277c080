package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	TraceIDKey      ContextKey = "trace_id"
	SessionIDKey    ContextKey = "session_id"
	ConnectionIDKey ContextKey = "connection_id"
	// RequestIDKey holds the JSON-RPC id of the message being handled.
	RequestIDKey ContextKey = "request_id"
	MethodKey    ContextKey = "method"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID      string
	SessionID    string
	ConnectionID string
	RequestID    string
	Method       string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connectionID)
}

// WithRequest records the method and JSON-RPC id being handled. id is empty
// for notifications.
func WithRequest(ctx context.Context, method, id string) context.Context {
	ctx = context.WithValue(ctx, MethodKey, method)
	if id != "" {
		ctx = context.WithValue(ctx, RequestIDKey, id)
	}
	return ctx
}

func GetTraceID(ctx context.Context) string      { return value(ctx, TraceIDKey) }
func GetSessionID(ctx context.Context) string    { return value(ctx, SessionIDKey) }
func GetConnectionID(ctx context.Context) string { return value(ctx, ConnectionIDKey) }
func GetRequestID(ctx context.Context) string    { return value(ctx, RequestIDKey) }
func GetMethod(ctx context.Context) string       { return value(ctx, MethodKey) }

func value(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:      GetTraceID(ctx),
		SessionID:    GetSessionID(ctx),
		ConnectionID: GetConnectionID(ctx),
		RequestID:    GetRequestID(ctx),
		Method:       GetMethod(ctx),
	}
}

// NewContext copies the non-empty fields of tc into ctx.
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	if tc.ConnectionID != "" {
		ctx = WithConnectionID(ctx, tc.ConnectionID)
	}
	if tc.RequestID != "" || tc.Method != "" {
		ctx = WithRequest(ctx, tc.Method, tc.RequestID)
	}
	return ctx
}

// EnsureTraceID returns ctx with a fresh trace id if it has none.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext adds the tracing fields present in ctx to logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session", tc.SessionID)
	}
	if tc.ConnectionID != "" {
		lc = lc.Str("clientId", tc.ConnectionID)
	}
	if tc.Method != "" {
		lc = lc.Str("method", tc.Method)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}
	return lc.Logger()
}
