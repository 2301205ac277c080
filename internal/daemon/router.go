package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/memstream/internal/tracing"
	"github.com/harun/memstream/pkg/jsonrpc"
	"github.com/harun/memstream/pkg/rpc"
	"github.com/rs/zerolog"
)

// Built-in method names.
const (
	MethodPing        = "ping"
	MethodMethods     = "rpc.methods"
	MethodServerInfo  = "server.info"
	MethodConnections = "server.connections"
	MethodSetLogLevel = "log.setLevel"
)

// Router connects decoded transport messages to the method router and sends
// responses back through the transport.
type Router struct {
	daemon *Daemon
}

// NewRouter creates a new message router
func NewRouter(d *Daemon) *Router {
	return &Router{
		daemon: d,
	}
}

// HandleMessage dispatches one decoded message and broadcasts its response,
// if it has one.
func (r *Router) HandleMessage(ctx context.Context, msg jsonrpc.Message) {
	switch m := msg.(type) {
	case *jsonrpc.Request:
		ctx = tracing.WithRequest(ctx, m.Method, m.ID.String())
	case *jsonrpc.Notification:
		ctx = tracing.WithRequest(ctx, m.Method, "")
	}
	ctx = tracing.EnsureTraceID(ctx)

	log := tracing.LoggerFromContext(ctx, r.daemon.logger.Zerolog())
	log.Debug().Str("role", string(msg.Role())).Msg("Routing message")

	response := r.daemon.rpc.Dispatch(ctx, msg)
	if response == nil {
		return
	}

	if _, err := r.daemon.transport.Send(ctx, response); err != nil {
		log.Warn().Err(err).Msg("Failed to send response")
	}
}

// ServerInfo is the result of server.info.
type ServerInfo struct {
	Session     string `json:"session"`
	State       string `json:"state"`
	Addr        string `json:"addr,omitempty"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
	Version     string `json:"version,omitempty"`
}

// Version is reported by server.info; the CLI overrides it at startup.
var Version = "dev"

func (r *Router) registerBuiltins() error {
	builtins := map[string]rpc.HandlerFunc{
		MethodPing:        r.ping,
		MethodMethods:     r.methods,
		MethodServerInfo:  r.serverInfo,
		MethodConnections: r.connections,
		MethodSetLogLevel: r.setLogLevel,
	}
	for name, handler := range builtins {
		if err := r.daemon.rpc.RegisterMethod(name, handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
	}
	return nil
}

func (r *Router) ping(context.Context, json.RawMessage) (any, error) {
	return struct{}{}, nil
}

func (r *Router) methods(context.Context, json.RawMessage) (any, error) {
	return r.daemon.rpc.Methods(), nil
}

func (r *Router) serverInfo(context.Context, json.RawMessage) (any, error) {
	status := r.daemon.Status()
	return ServerInfo{
		Session:     status.SessionID,
		State:       status.State,
		Addr:        status.Addr,
		Connections: status.Connections,
		Uptime:      status.Uptime.Round(time.Second).String(),
		Version:     Version,
	}, nil
}

func (r *Router) connections(context.Context, json.RawMessage) (any, error) {
	return r.daemon.transport.Registry().Snapshot(), nil
}

func (r *Router) setLogLevel(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Level string `json:"level"`
	}
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Level == "" {
		return nil, fmt.Errorf("%w: level required", rpc.ErrInvalidParams)
	}
	if err := r.daemon.logger.SetLevel(p.Level); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrInvalidParams, err)
	}
	return map[string]string{"level": zerolog.GlobalLevel().String()}, nil
}
