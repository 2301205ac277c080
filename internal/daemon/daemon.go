// Package daemon runs the memstream service: the transport, the method
// router behind it, and the process lifecycle around both.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/memstream/internal/config"
	"github.com/harun/memstream/internal/logger"
	"github.com/harun/memstream/internal/observability"
	"github.com/harun/memstream/internal/tracing"
	"github.com/harun/memstream/pkg/faults"
	"github.com/harun/memstream/pkg/rpc"
	"github.com/harun/memstream/pkg/transport"
)

// Status is a point-in-time view of the daemon.
type Status struct {
	Running     bool          `json:"running"`
	StartTime   time.Time     `json:"startTime,omitempty"`
	Uptime      time.Duration `json:"uptime"`
	Addr        string        `json:"addr,omitempty"`
	SessionID   string        `json:"session"`
	State       string        `json:"state"`
	Connections int           `json:"connections"`
}

// Daemon represents the memstream daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	transport *transport.Transport
	rpc       *rpc.Router
	audit     *observability.AuditLogger
	watcher   *config.Watcher

	eventLoop *EventLoop
	router    *Router
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	audit, err := observability.OpenAuditLogger(cfg.AuditFile())
	if err != nil {
		zl := log.Zerolog()
		zl.Warn().Err(err).Msg("Failed to open audit log, using stderr")
		audit = observability.NewAuditLogger(os.Stderr)
	}
	d.audit = audit

	router, err := rpc.NewRouter(log.Zerolog(),
		rpc.WithReplayCache(cfg.RPC.ReplayTTLDuration()),
		rpc.WithScope(transport.ConnectionIDFromContext),
	)
	if err != nil {
		cancel()
		_ = audit.Close()
		return nil, err
	}
	d.rpc = router

	tr, err := transport.New(transport.Config{
		Host:         cfg.Transport.Host,
		Port:         cfg.Transport.Port,
		MaxLineBytes: cfg.Transport.MaxLineBytes,
		MaxBodyBytes: cfg.Transport.MaxBodyBytes,
		WriteTimeout: cfg.Transport.WriteTimeoutDuration(),
		Heartbeat:    cfg.Transport.Heartbeat,
		WebSocket:    cfg.Transport.WebSocket,
		Metrics:      cfg.Metrics.Enabled,

		MaxPostsPerMinute: cfg.Transport.MaxPostsPerMin,
		Logger:            log.Zerolog(),
	})
	if err != nil {
		cancel()
		router.Close()
		_ = audit.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	d.transport = tr

	d.router = NewRouter(d)
	if err := d.router.registerBuiltins(); err != nil {
		cancel()
		router.Close()
		_ = audit.Close()
		return nil, err
	}

	tr.OnMessage(d.router.HandleMessage)
	tr.OnError(d.recordFault)
	tr.OnClose(func() {
		d.audit.Record(context.Background(), observability.AuditEvent{
			Type:    observability.AuditLifecycle,
			Session: tr.SessionID(),
			Action:  "transport_closed",
			Status:  "success",
		})
	})

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// Start starts listening and blocks only until the listener is bound.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Starting memstream daemon")

	if d.config.Tracing.Enabled {
		if err := tracing.Init(d.config.Tracing.ServiceName); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.lifecycle.Start(); err != nil {
		d.abortStart()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.transport.Listen(ctx); err != nil {
		_ = d.lifecycle.Stop()
		d.abortStart()
		return fmt.Errorf("failed to start transport: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	d.audit.Record(ctx, observability.AuditEvent{
		Type:     observability.AuditLifecycle,
		Session:  d.transport.SessionID(),
		Action:   "daemon_started",
		Status:   "success",
		Metadata: map[string]any{"addr": d.addr()},
	})

	log.Info().Str("addr", d.addr()).Msg("Daemon started")
	return nil
}

func (d *Daemon) abortStart() {
	d.shutdownTracing()

	d.mu.Lock()
	d.running = false
	d.startTime = time.Time{}
	d.mu.Unlock()
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	watcher := d.watcher
	d.mu.Unlock()

	log := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping memstream daemon")

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if err := d.transport.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to close transport")
	}
	d.rpc.Close()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.shutdownTracing()

	d.audit.Record(ctx, observability.AuditEvent{
		Type:    observability.AuditLifecycle,
		Session: d.transport.SessionID(),
		Action:  "daemon_stopped",
		Status:  "success",
	})
	if err := d.audit.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit logger")
	}

	log.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil {
		zl := d.logger.Zerolog()
		zl.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// WatchConfig reloads the log level whenever the loader's file changes.
// The watcher is stopped by Stop.
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	w, err := config.NewWatcher(loader, d.applyConfig, d.logger.Zerolog())
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}

	d.mu.Lock()
	d.watcher = w
	d.mu.Unlock()
	return nil
}

// applyConfig applies the settings that can change at runtime. Transport
// settings only take effect after a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
		zl := d.logger.Zerolog()
		zl.Warn().Err(err).Msg("Failed to apply log level")
	}
	if cfg.Transport != d.config.Transport {
		zl := d.logger.Zerolog()
		zl.Warn().Msg("Transport settings changed; restart to apply")
	}

	d.audit.Record(context.Background(), observability.AuditEvent{
		Type:     observability.AuditConfig,
		Session:  d.transport.SessionID(),
		Action:   "config_reloaded",
		Status:   "success",
		Metadata: map[string]any{"log_level": cfg.Logging.Level},
	})
}

// recordFault audits connection and internal failures. Bad client input is
// only counted and logged.
func (d *Daemon) recordFault(rec *faults.Record) {
	if rec.Kind == faults.ParseError || rec.Kind == faults.ValidationError {
		return
	}
	d.audit.Record(context.Background(), observability.AuditEvent{
		Type:         observability.AuditFault,
		Session:      d.transport.SessionID(),
		ConnectionID: rec.ConnectionID,
		Action:       rec.Context,
		Status:       string(rec.Kind),
		Metadata:     map[string]any{"message": rec.Message},
	})
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:     d.running,
		SessionID:   d.transport.SessionID(),
		State:       d.transport.State().String(),
		Connections: d.transport.Registry().Count(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.addr()
	}

	return status
}

func (d *Daemon) addr() string {
	if a := d.transport.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Wait blocks until SIGINT, SIGTERM or ctx is done, then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	zl := d.logger.Zerolog()
	zl.Info().Msg("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.Stop(shutdownCtx)
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetTransport returns the transport
func (d *Daemon) GetTransport() *transport.Transport {
	return d.transport
}

// GetRPC returns the method router
func (d *Daemon) GetRPC() *rpc.Router {
	return d.rpc
}
