package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/memstream/internal/observability"
	"github.com/harun/memstream/pkg/faults"
	"github.com/harun/memstream/pkg/framing"
	"github.com/julienschmidt/httprouter"
)

// ContentTypeStream is the media type of the outbound line stream.
const ContentTypeStream = "application/json-stream"

// HeaderConnectionID binds a POST body to an existing connection.
const HeaderConnectionID = "X-Connection-Id"

const readChunkSize = 32 * 1024

// JSONWriter writes a status code and a JSON body. Handlers depend on this
// instead of a concrete response type.
type JSONWriter interface {
	WriteStatus(code int)
	WriteJSON(v any) error
}

type responseJSONWriter struct {
	w      http.ResponseWriter
	status int
}

// NewJSONWriter adapts an http.ResponseWriter.
func NewJSONWriter(w http.ResponseWriter) JSONWriter {
	return &responseJSONWriter{w: w, status: http.StatusOK}
}

func (j *responseJSONWriter) WriteStatus(code int) {
	j.status = code
}

func (j *responseJSONWriter) WriteJSON(v any) error {
	j.w.Header().Set("Content-Type", "application/json")
	j.w.WriteHeader(j.status)
	return json.NewEncoder(j.w).Encode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	jw := NewJSONWriter(w)
	jw.WriteStatus(status)
	_ = jw.WriteJSON(v)
}

func (t *Transport) routes() http.Handler {
	return t.classifier.Middleware(t.newRouter())
}

func (t *Transport) newRouter() *httprouter.Router {
	router := httprouter.New()

	router.GET("/", t.handleStream)
	router.POST("/", t.handleInput)
	router.GET("/healthz", t.handleHealth)
	if t.cfg.WebSocket {
		router.GET("/ws", t.handleWebSocket)
	}
	if t.cfg.Metrics {
		observability.EnsureRegistered()
		router.Handler(http.MethodGet, "/metrics", observability.MetricsHandler())
	}

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found"})
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
	})
	router.PanicHandler = t.classifier.PanicHandler

	return router
}

// handleStream opens the long-lived outbound stream. The response stays open
// until the client goes away or the transport closes.
func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if t.State() == StateClosed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Transport closed"})
		return
	}

	w.Header().Set("Content-Type", ContentTypeStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", t.sessionID)
	w.WriteHeader(http.StatusOK)

	sink := newStreamSink(w, t.cfg.WriteTimeout)
	conn, err := t.Attach(sink, CarrierStream, r.RemoteAddr)
	if err != nil {
		return
	}
	defer t.Detach(conn.ID)

	select {
	case <-sink.Done():
	case <-r.Context().Done():
	}
}

// handleInput frames a POST body. With a connection id the body continues that
// connection's stream, otherwise it is framed on its own and any trailing
// undelimited data is dropped.
func (t *Transport) handleInput(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if t.State() == StateClosed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Transport closed"})
		return
	}

	if t.limiter != nil {
		if ok, retry := t.limiter.allow(clientHost(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too Many Requests"})
			return
		}
	}

	conn, ok := t.inputConnection(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown connection"})
		return
	}

	if r.ContentLength > t.cfg.MaxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request body too large"})
		return
	}

	body := http.MaxBytesReader(w, r.Body, t.cfg.MaxBodyBytes)
	defer body.Close()

	chunk := make([]byte, readChunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			t.ProcessInput(r.Context(), conn, chunk[:n])
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request body too large"})
			return
		}
		t.classifier.Report(faults.Classify(err, faults.OpProcessInput).WithConnection(conn.ID))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (t *Transport) inputConnection(r *http.Request) (*Connection, bool) {
	id := r.Header.Get(HeaderConnectionID)
	if id == "" {
		id = r.URL.Query().Get("clientId")
	}
	if id != "" {
		return t.registry.Get(id)
	}

	// Ephemeral connection: its buffer lives for this request only.
	ephemeralID, err := t.registry.idGenerator()
	if err != nil {
		ephemeralID = t.sessionID
	}
	return &Connection{
		ID:         "post-" + ephemeralID,
		Carrier:    CarrierPost,
		RemoteAddr: r.RemoteAddr,
		buffer:     framing.New(t.cfg.MaxLineBytes),
	}, true
}

func (t *Transport) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"session":     t.sessionID,
		"state":       t.State().String(),
		"connections": t.registry.Count(),
	})
}
