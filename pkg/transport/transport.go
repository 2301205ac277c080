package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harun/memstream/internal/observability"
	"github.com/harun/memstream/internal/tracing"
	"github.com/harun/memstream/pkg/faults"
	"github.com/harun/memstream/pkg/framing"
	"github.com/harun/memstream/pkg/jsonrpc"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrTransportClosed is returned by operations on a closed transport.
var ErrTransportClosed = errors.New("transport is closed")

const tracerName = "memstream.transport"

// State is the lifecycle state of a Transport.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateListening
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageHandler receives every decoded message. ctx carries the id of the
// connection the message arrived on; see ConnectionIDFromContext.
type MessageHandler func(ctx context.Context, msg jsonrpc.Message)

// ErrorHandler receives every classified fault.
type ErrorHandler func(rec *faults.Record)

// CloseHandler is called once when the transport closes.
type CloseHandler func()

// Config holds transport configuration
type Config struct {
	Host string
	Port int
	// MaxLineBytes bounds undelimited data per connection; 0 disables the limit.
	MaxLineBytes int
	// MaxBodyBytes bounds a single POST body or WebSocket frame.
	MaxBodyBytes int64
	// WriteTimeout bounds each write to a sink; 0 disables deadlines.
	WriteTimeout time.Duration
	// Heartbeat is a cron spec for keepalive lines; empty disables it.
	Heartbeat string
	WebSocket bool
	Metrics   bool
	// MaxPostsPerMinute bounds POST input per client host; 0 disables it.
	MaxPostsPerMinute int
	Logger            zerolog.Logger
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         3000,
		MaxLineBytes: 1 << 20,
		MaxBodyBytes: 4 << 20,
		WriteTimeout: 10 * time.Second,
		Heartbeat:    "@every 30s",
		WebSocket:    true,
		Metrics:      true,
		Logger:       zerolog.Nop(),
	}
}

// Transport accepts client connections, frames and decodes their input, and
// broadcasts outbound messages to every attached client.
type Transport struct {
	cfg        Config
	sessionID  string
	logger     zerolog.Logger
	classifier *faults.Classifier
	decoder    *jsonrpc.Decoder
	registry   *ClientRegistry
	handler    http.Handler
	heartbeat  *heartbeat
	limiter    *rateLimiter

	lifecycleMu sync.Mutex
	state       atomic.Int32
	listener    net.Listener
	server      *http.Server

	handlersMu sync.RWMutex
	onMessage  MessageHandler
	onError    ErrorHandler
	onClose    CloseHandler
}

// New creates a transport in the Created state.
func New(cfg Config) (*Transport, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	decoder, err := jsonrpc.NewDecoder()
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	logger := cfg.Logger.With().Str("component", "transport").Str("session", sessionID).Logger()

	t := &Transport{
		cfg:        cfg,
		sessionID:  sessionID,
		logger:     logger,
		classifier: faults.NewClassifier(logger),
		decoder:    decoder,
		registry:   NewClientRegistry(cfg.MaxLineBytes, logger),
	}
	t.classifier.SetObserver(t.forwardError)

	hb, err := newHeartbeat(cfg.Heartbeat, t.beat)
	if err != nil {
		return nil, err
	}
	t.heartbeat = hb
	if cfg.MaxPostsPerMinute > 0 {
		t.limiter = newRateLimiter(cfg.MaxPostsPerMinute, time.Minute)
	}
	t.handler = t.routes()

	return t, nil
}

// SessionID returns the identifier of this transport instance.
func (t *Transport) SessionID() string {
	return t.sessionID
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Registry exposes the client registry.
func (t *Transport) Registry() *ClientRegistry {
	return t.registry
}

// Classifier exposes the transport's fault classifier so collaborators can
// run work under the same guards.
func (t *Transport) Classifier() *faults.Classifier {
	return t.classifier
}

// Handler returns the HTTP handler serving the transport's endpoints.
func (t *Transport) Handler() http.Handler {
	return t.handler
}

// OnMessage registers the decoded-message callback.
func (t *Transport) OnMessage(fn MessageHandler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.onMessage = fn
}

// OnError registers the fault callback.
func (t *Transport) OnError(fn ErrorHandler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.onError = fn
}

// OnClose registers the close callback.
func (t *Transport) OnClose(fn CloseHandler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.onClose = fn
}

// Start moves the transport to Started and starts the heartbeat. Calling it
// again is a no-op.
func (t *Transport) Start(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	return t.startLocked()
}

func (t *Transport) startLocked() error {
	switch t.State() {
	case StateStarted, StateListening:
		return nil
	case StateClosed:
		return ErrTransportClosed
	}

	t.heartbeat.start()
	if t.limiter != nil {
		go t.limiter.run(5 * time.Minute)
	}
	t.state.Store(int32(StateStarted))
	t.logger.Info().Msg("Transport started")
	return nil
}

// Listen starts the transport and binds its TCP listener. A bind failure is
// returned to the caller; serving then continues in the background.
func (t *Transport) Listen(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if err := t.startLocked(); err != nil {
		return err
	}
	if t.State() == StateListening {
		return nil
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		rec := faults.New(faults.TransportError, faults.OpListen,
			fmt.Sprintf("failed to listen on %s", addr), err)
		t.classifier.Report(rec)
		return rec
	}

	t.listener = ln
	t.server = &http.Server{
		Handler:           t.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := t.server

	t.classifier.Go(faults.OpListen, func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.classifier.ReportError(err, faults.OpListen)
		}
	})

	t.state.Store(int32(StateListening))
	t.logger.Info().Str("addr", ln.Addr().String()).Msg("Transport listening")
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (t *Transport) Addr() net.Addr {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Close ends every client sink, stops accepting connections and calls the
// close callback. Later calls return nil without doing anything.
func (t *Transport) Close(ctx context.Context) error {
	t.lifecycleMu.Lock()
	if t.State() == StateClosed {
		t.lifecycleMu.Unlock()
		return nil
	}
	t.state.Store(int32(StateClosed))
	server := t.server
	t.lifecycleMu.Unlock()

	t.logger.Info().Msg("Closing transport")

	t.heartbeat.stop(ctx)
	if t.limiter != nil {
		t.limiter.close()
	}
	closed := t.registry.CloseAll()

	var err error
	if server != nil {
		if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shutdown server: %w", shutdownErr)
		}
	}

	t.handlersMu.RLock()
	onClose := t.onClose
	t.handlersMu.RUnlock()
	if onClose != nil {
		t.classifier.Guard(faults.OpDispatch, onClose)
	}

	t.logger.Info().Int("closedConnections", closed).Msg("Transport closed")
	return err
}

// Attach registers sink as a new connection and acknowledges it.
func (t *Transport) Attach(sink Sink, carrier, remoteAddr string) (*Connection, error) {
	if t.State() == StateClosed {
		return nil, ErrTransportClosed
	}

	conn, err := t.registry.Register(sink, carrier, remoteAddr)
	if err != nil {
		t.classifier.ReportError(err, faults.OpAccept)
		return nil, err
	}

	// Close may have emptied the registry between the state check and Register.
	if t.State() == StateClosed {
		t.registry.Remove(conn.ID)
		return nil, ErrTransportClosed
	}
	return conn, nil
}

// Detach removes a connection. It is a no-op for unknown ids.
func (t *Transport) Detach(id string) {
	t.registry.Remove(id)
}

// ProcessInput feeds chunk into conn's frame buffer and delivers every
// complete line. Faults are reported and swallowed; nothing propagates to the
// caller.
func (t *Transport) ProcessInput(ctx context.Context, conn *Connection, chunk []byte) {
	defer t.classifier.Recover(faults.OpProcessInput)

	conn.inMu.Lock()
	defer conn.inMu.Unlock()

	ctx, span := tracing.StartSpan(ctx, tracerName, "transport.processInput",
		attribute.String("client_id", conn.ID),
		attribute.Int("bytes", len(chunk)),
	)
	defer span.End()
	ctx = tracing.WithSessionID(withConnectionID(ctx, conn.ID), t.sessionID)

	observability.RecordInboundBytes(len(chunk))

	if err := conn.buffer.Append(chunk); err != nil {
		rec := faults.Classify(err, faults.OpProcessInput).WithConnection(conn.ID)
		if errors.Is(err, framing.ErrLineTooLong) {
			rec.Message = fmt.Sprintf("line exceeds %d bytes and was dropped", t.cfg.MaxLineBytes)
		}
		t.classifier.Report(rec)
	}

	for {
		line, ok := conn.buffer.NextLine()
		if !ok {
			return
		}
		t.dispatchLine(ctx, conn, line)
	}
}

func (t *Transport) dispatchLine(ctx context.Context, conn *Connection, line string) {
	// Keepalive lines carry no message.
	if strings.TrimSpace(line) == "" {
		return
	}

	msg, rec := t.decoder.Decode(line)
	if rec != nil {
		t.classifier.Report(rec.WithConnection(conn.ID))
		return
	}

	role := string(msg.Role())
	observability.RecordMessageDecoded(role)

	t.handlersMu.RLock()
	onMessage := t.onMessage
	t.handlersMu.RUnlock()
	if onMessage == nil {
		t.logger.Warn().Str("role", role).Msg("No message handler registered, dropping message")
		return
	}

	start := time.Now()
	t.deliver(ctx, conn.ID, onMessage, msg)
	observability.RecordDispatch(role, time.Since(start))
}

// deliver runs the message callback, turning a panic into an InternalError
// for the originating connection.
func (t *Transport) deliver(ctx context.Context, connID string, fn MessageHandler, msg jsonrpc.Message) {
	defer func() {
		if r := recover(); r != nil {
			t.classifier.Report(faults.FromPanic(r, faults.OpDispatch, debug.Stack()).WithConnection(connID))
		}
	}()
	fn(ctx, msg)
}

// Send encodes msg and broadcasts it to every attached client. Having no
// clients is not an error. Per-client failures are reported through the
// error callback and listed in the result.
func (t *Transport) Send(ctx context.Context, msg jsonrpc.Message) (BroadcastResult, error) {
	if t.State() == StateClosed {
		return BroadcastResult{}, ErrTransportClosed
	}

	_, span := tracing.StartSpan(ctx, tracerName, "transport.send",
		attribute.String("role", string(msg.Role())),
	)
	defer span.End()

	payload, err := jsonrpc.Encode(msg)
	if err != nil {
		rec := faults.New(faults.InternalError, faults.OpSend, "failed to encode message", err)
		t.classifier.Report(rec)
		return BroadcastResult{}, rec
	}

	start := time.Now()
	result := t.registry.Broadcast(payload)
	for _, rec := range result.Failures {
		t.classifier.Report(rec)
	}
	observability.RecordBroadcast(result.Targeted, len(result.Failures), time.Since(start))

	if result.Targeted == 0 {
		t.logger.Debug().Str("role", string(msg.Role())).Msg("No clients attached, message dropped")
	}
	return result, nil
}

func (t *Transport) forwardError(rec *faults.Record) {
	t.handlersMu.RLock()
	onError := t.onError
	t.handlersMu.RUnlock()

	if onError != nil {
		onError(rec)
	}
}
