package daemon

import (
	"context"
	"time"
)

// EventLoop runs periodic maintenance while the daemon is up.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: 30 * time.Second,
	}
}

// Run ticks until ctx is done.
func (e *EventLoop) Run(ctx context.Context) {
	log := e.daemon.logger.Zerolog()
	log.Debug().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks drops connections whose sinks have closed and logs the rest.
func (e *EventLoop) processTasks() int {
	registry := e.daemon.transport.Registry()
	pruned := registry.Prune()

	zl := e.daemon.logger.Zerolog()
	zl.Debug().
		Int("connections", registry.Count()).
		Int("pruned", pruned).
		Msg("Connection stats")
	return pruned
}
