// Package faults classifies failures into structured records and keeps a single
// bad message or broken connection from taking the process down.
package faults

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/harun/memstream/pkg/framing"
)

// Kind is the category of a fault.
type Kind string

const (
	// ParseError marks a line that is not valid JSON.
	ParseError Kind = "ParseError"
	// ValidationError marks valid JSON that is not a JSON-RPC 2.0 message.
	ValidationError Kind = "ValidationError"
	// TransportError marks an I/O failure on one connection.
	TransportError Kind = "TransportError"
	// InternalError marks anything else, including recovered panics.
	InternalError Kind = "InternalError"
)

// Operation labels used as record context.
const (
	OpProcessInput = "processInput"
	OpSend         = "send"
	OpAccept       = "accept"
	OpListen       = "listen"
	OpHeartbeat    = "heartbeat"
	OpDispatch     = "dispatch"
	OpHTTP         = "http"
)

// maxDetail bounds the offending input kept on parse failures.
const maxDetail = 100

// Record is a classified failure.
type Record struct {
	Kind         Kind
	Message      string
	Context      string
	ConnectionID string
	// Detail holds diagnostics such as the truncated offending line or a stack.
	Detail string
	Cause  error
}

// New creates a record of the given kind.
func New(kind Kind, context, message string, cause error) *Record {
	return &Record{
		Kind:    kind,
		Message: message,
		Context: context,
		Cause:   cause,
	}
}

// Error implements the error interface.
func (r *Record) Error() string {
	var msg string
	if r.Context != "" {
		msg = fmt.Sprintf("%s during %s: %s", r.Kind, r.Context, r.Message)
	} else {
		msg = fmt.Sprintf("%s: %s", r.Kind, r.Message)
	}
	if r.ConnectionID != "" {
		msg += " (connection " + r.ConnectionID + ")"
	}
	return msg
}

// Unwrap returns the original cause.
func (r *Record) Unwrap() error {
	return r.Cause
}

// WithConnection tags the record with a connection id and returns it.
func (r *Record) WithConnection(id string) *Record {
	r.ConnectionID = id
	return r
}

// WithDetail attaches diagnostic text, truncated for untrusted input.
func (r *Record) WithDetail(detail string) *Record {
	r.Detail = Truncate(detail, maxDetail)
	return r
}

// Is reports whether err is a record of the given kind.
func Is(err error, kind Kind) bool {
	var rec *Record
	if errors.As(err, &rec) {
		return rec.Kind == kind
	}
	return false
}

// Classify turns any error into a record. Records pass through unchanged apart
// from filling in a missing context label.
func Classify(err error, context string) *Record {
	if err == nil {
		return nil
	}

	var rec *Record
	if errors.As(err, &rec) {
		if rec.Context == "" {
			rec.Context = context
		}
		return rec
	}

	return New(kindOf(err), context, err.Error(), err)
}

func kindOf(err error) Kind {
	var syntaxErr *json.SyntaxError
	var netErr net.Error

	switch {
	case errors.Is(err, framing.ErrLineTooLong), errors.As(err, &syntaxErr):
		return ParseError
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &netErr):
		return TransportError
	default:
		return InternalError
	}
}

// Truncate shortens s to at most n runes, marking the cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
