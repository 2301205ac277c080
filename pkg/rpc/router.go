// Package rpc routes decoded JSON-RPC requests to registered method handlers.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/harun/memstream/internal/observability"
	"github.com/harun/memstream/pkg/jsonrpc"
	"github.com/rs/zerolog"
)

// ErrInvalidParams makes the router answer with CodeInvalidParams.
var ErrInvalidParams = errors.New("invalid params")

// HandlerFunc handles one method call. Returning a *jsonrpc.Error sends that
// error unchanged; any other error becomes an internal error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHook observes notifications for one method.
type NotificationHook func(ctx context.Context, params json.RawMessage)

// ScopeFunc returns the replay scope of a call, usually the connection id.
type ScopeFunc func(ctx context.Context) string

// Option configures a Router.
type Option func(*Router)

// WithReplayCache answers a repeated request (same scope, method and id)
// from cache for ttl instead of running the handler again.
func WithReplayCache(ttl time.Duration) Option {
	return func(r *Router) {
		r.replayTTL = ttl
	}
}

// WithScope sets how calls are grouped for the replay cache.
func WithScope(fn ScopeFunc) Option {
	return func(r *Router) {
		r.scope = fn
	}
}

// Router handles RPC method registration and request routing
type Router struct {
	mu      sync.RWMutex
	methods map[string]HandlerFunc
	hooks   map[string]NotificationHook

	replay    *ristretto.Cache
	replayTTL time.Duration
	scope     ScopeFunc

	logger zerolog.Logger
}

// NewRouter creates a new RPC router
func NewRouter(logger zerolog.Logger, opts ...Option) (*Router, error) {
	r := &Router{
		methods: make(map[string]HandlerFunc),
		hooks:   make(map[string]NotificationHook),
		scope:   func(context.Context) string { return "" },
		logger:  logger.With().Str("component", "rpc").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.replayTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     1 << 24,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create replay cache: %w", err)
		}
		r.replay = cache
	}

	return r, nil
}

// RegisterMethod registers an RPC method handler
func (r *Router) RegisterMethod(name string, handler HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("method name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = handler
	return nil
}

// UnregisterMethod removes an RPC method handler
func (r *Router) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.methods, name)
}

// OnNotification registers a hook for notifications named method.
func (r *Router) OnNotification(method string, hook NotificationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hook == nil {
		delete(r.hooks, method)
		return
	}
	r.hooks[method] = hook
}

// HasMethod checks if a method is registered
func (r *Router) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// Methods returns all registered method names, sorted.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

// Dispatch handles any decoded message. Requests get a response; notifications
// run their hook and responses are ignored, both returning nil.
func (r *Router) Dispatch(ctx context.Context, msg jsonrpc.Message) *jsonrpc.Response {
	switch m := msg.(type) {
	case *jsonrpc.Request:
		return r.Handle(ctx, m)
	case *jsonrpc.Notification:
		r.notify(ctx, m)
	case *jsonrpc.Response:
		r.logger.Debug().Str("id", idString(m.ID)).Msg("Ignoring inbound response")
	}
	return nil
}

// Handle routes a request to its handler and builds the response.
func (r *Router) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if req == nil {
		return jsonrpc.NewErrorResponse(nil, jsonrpc.CodeInvalidRequest, "invalid request")
	}

	cacheKey := r.replayKey(ctx, req)
	if cacheKey != "" {
		if cached, ok := r.replay.Get(cacheKey); ok {
			r.logger.Debug().Str("method", req.Method).Str("id", req.ID.String()).Msg("Replaying cached response")
			observability.RecordRPCReplay()
			return cached.(*jsonrpc.Response)
		}
	}

	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	id := req.ID
	if !exists {
		observability.RecordRPCCall(req.Method, "not_found", 0)
		return jsonrpc.NewErrorResponse(&id, jsonrpc.CodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method))
	}

	start := time.Now()
	result, err := r.call(ctx, handler, req)
	response := r.buildResponse(id, req.Method, result, err)

	outcome := "ok"
	if response.Error != nil {
		outcome = "error"
	}
	observability.RecordRPCCall(req.Method, outcome, time.Since(start))

	if cacheKey != "" {
		r.replay.SetWithTTL(cacheKey, response, 1, r.replayTTL)
		// Sets are buffered; a retry on the next line must already hit.
		r.replay.Wait()
	}
	return response
}

// Close releases the replay cache.
func (r *Router) Close() {
	if r.replay != nil {
		r.replay.Close()
	}
}

func (r *Router) call(ctx context.Context, handler HandlerFunc, req *jsonrpc.Request) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error().
				Interface("panic", v).
				Str("method", req.Method).
				Str("stack", string(debug.Stack())).
				Msg("Method handler panicked")
			err = fmt.Errorf("method %s panicked", req.Method)
		}
	}()
	return handler(ctx, req.Params)
}

func (r *Router) buildResponse(id jsonrpc.ID, method string, result any, err error) *jsonrpc.Response {
	if err != nil {
		var rpcErr *jsonrpc.Error
		switch {
		case errors.As(err, &rpcErr):
			return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: &id, Error: rpcErr}
		case errors.Is(err, ErrInvalidParams):
			return jsonrpc.NewErrorResponse(&id, jsonrpc.CodeInvalidParams, err.Error())
		default:
			r.logger.Warn().Err(err).Str("method", method).Msg("Method handler failed")
			return jsonrpc.NewErrorResponse(&id, jsonrpc.CodeInternalError, err.Error())
		}
	}

	response, encErr := jsonrpc.NewResult(id, result)
	if encErr != nil {
		r.logger.Error().Err(encErr).Str("method", method).Msg("Failed to encode result")
		return jsonrpc.NewErrorResponse(&id, jsonrpc.CodeInternalError, "failed to encode result")
	}
	return response
}

func (r *Router) notify(ctx context.Context, note *jsonrpc.Notification) {
	r.mu.RLock()
	hook, exists := r.hooks[note.Method]
	r.mu.RUnlock()

	if !exists {
		r.logger.Debug().Str("method", note.Method).Msg("No hook for notification")
		return
	}

	defer func() {
		if v := recover(); v != nil {
			r.logger.Error().Interface("panic", v).Str("method", note.Method).Msg("Notification hook panicked")
		}
	}()
	hook(ctx, note.Params)
}

func (r *Router) replayKey(ctx context.Context, req *jsonrpc.Request) string {
	if r.replay == nil {
		return ""
	}
	return r.scope(ctx) + "\x00" + req.Method + "\x00" + req.ID.String()
}

// DecodeParams unmarshals params into v, mapping failures to ErrInvalidParams.
func DecodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: params required", ErrInvalidParams)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func idString(id *jsonrpc.ID) string {
	if id == nil {
		return "null"
	}
	return id.String()
}
