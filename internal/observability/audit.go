package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event types.
const (
	AuditLifecycle = "lifecycle"
	AuditFault     = "fault"
	AuditConfig    = "config"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Type         string         `json:"event_type"`
	Timestamp    time.Time      `json:"timestamp"`
	Session      string         `json:"session,omitempty"`
	ConnectionID string         `json:"clientId,omitempty"`
	Action       string         `json:"action"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	TraceID      string         `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewAuditLogger writes events to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// OpenAuditLogger appends events to the file at path.
func OpenAuditLogger(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	a := NewAuditLogger(file)
	a.closer = file
	return a, nil
}

// Record writes event. When ctx carries a recording span the event is also
// attached to it.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ctx != nil {
		span := trace.SpanFromContext(ctx)
		if sc := span.SpanContext(); sc.IsValid() {
			if event.TraceID == "" {
				event.TraceID = sc.TraceID().String()
			}
			span.AddEvent("audit."+event.Action, trace.WithAttributes(
				attribute.String("audit.type", event.Type),
				attribute.String("audit.status", event.Status),
			))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("at", event.Timestamp).
		Str("event_type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.Session != "" {
		entry = entry.Str("session", event.Session)
	}
	if event.ConnectionID != "" {
		entry = entry.Str("clientId", event.ConnectionID)
	}
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the underlying file, if any.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}
