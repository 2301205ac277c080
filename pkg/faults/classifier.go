package faults

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/harun/memstream/internal/observability"
	"github.com/rs/zerolog"
)

// Observer receives every reported record.
type Observer func(rec *Record)

// Classifier is the single reporting point for faults. It logs each record
// with the severity its kind calls for and forwards it to the observer.
type Classifier struct {
	logger   zerolog.Logger
	mu       sync.RWMutex
	observer Observer
}

// NewClassifier creates a classifier that logs to logger.
func NewClassifier(logger zerolog.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// SetObserver registers the function called for every record.
func (c *Classifier) SetObserver(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observer = fn
}

// Report logs rec and hands it to the observer. Parse and validation faults
// come from untrusted streams and are logged at debug level; everything else
// is logged as an error.
func (c *Classifier) Report(rec *Record) {
	if rec == nil {
		return
	}

	var event *zerolog.Event
	switch rec.Kind {
	case ParseError, ValidationError:
		event = c.logger.Debug()
	default:
		event = c.logger.Error()
	}

	event = event.
		Str("kind", string(rec.Kind)).
		Str("operation", rec.Context)
	if rec.ConnectionID != "" {
		event = event.Str("clientId", rec.ConnectionID)
	}
	if rec.Detail != "" {
		event = event.Str("detail", rec.Detail)
	}
	if rec.Cause != nil {
		event = event.AnErr("cause", rec.Cause)
	}
	event.Msg(rec.Message)

	observability.RecordFault(string(rec.Kind), rec.Context)

	c.mu.RLock()
	observer := c.observer
	c.mu.RUnlock()

	if observer != nil {
		c.notify(observer, rec)
	}
}

// ReportError classifies err and reports it.
func (c *Classifier) ReportError(err error, context string) *Record {
	rec := Classify(err, context)
	c.Report(rec)
	return rec
}

// notify calls the observer without letting its panic escape.
func (c *Classifier) notify(observer Observer, rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("kind", string(rec.Kind)).
				Msg("Error observer panicked")
		}
	}()
	observer(rec)
}

// Recover must be deferred directly. It turns a panic into an InternalError
// record and reports it instead of letting the process die.
func (c *Classifier) Recover(context string) {
	if r := recover(); r != nil {
		c.Report(FromPanic(r, context, debug.Stack()))
	}
}

// Go runs fn in a new goroutine guarded by Recover.
func (c *Classifier) Go(context string, fn func()) {
	go func() {
		defer c.Recover(context)
		fn()
	}()
}

// Guard runs fn on the calling goroutine and reports a panic as a record.
func (c *Classifier) Guard(context string, fn func()) (rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			rec = FromPanic(r, context, debug.Stack())
			c.Report(rec)
		}
	}()
	fn()
	return nil
}

// PanicHandler reports a panic raised while serving r and answers 500. Its
// signature matches httprouter.Router.PanicHandler.
func (c *Classifier) PanicHandler(w http.ResponseWriter, r *http.Request, v any) {
	c.Report(FromPanic(v, OpHTTP, nil).WithDetail(r.Method + " " + r.URL.Path))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Internal Server Error"})
}

// Middleware guards next with PanicHandler. http.ErrAbortHandler is passed
// through so net/http can abort the response.
func (c *Classifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				c.PanicHandler(w, r, v)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// FromPanic builds an InternalError record from a recovered value.
func FromPanic(v any, context string, stack []byte) *Record {
	cause, ok := v.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", v)
	}
	rec := New(InternalError, context, "recovered from panic: "+cause.Error(), cause)
	rec.Detail = string(stack)
	return rec
}
