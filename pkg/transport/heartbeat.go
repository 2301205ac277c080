package transport

import (
	"context"
	"fmt"

	"github.com/harun/memstream/pkg/faults"
	"github.com/robfig/cron/v3"
)

// keepAlive is pushed on every heartbeat. Receivers frame it as an empty line
// and drop it, while proxies see traffic on the long-lived stream.
var keepAlive = []byte{'\n'}

type heartbeat struct {
	cron *cron.Cron
}

// newHeartbeat schedules fn on a cron spec such as "@every 30s". An empty
// spec disables the heartbeat.
func newHeartbeat(spec string, fn func()) (*heartbeat, error) {
	if spec == "" {
		return &heartbeat{}, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, fn); err != nil {
		return nil, fmt.Errorf("invalid heartbeat schedule %q: %w", spec, err)
	}
	return &heartbeat{cron: c}, nil
}

func (h *heartbeat) start() {
	if h.cron != nil {
		h.cron.Start()
	}
}

// stop halts scheduling and waits for a running beat to finish or ctx to end.
func (h *heartbeat) stop(ctx context.Context) {
	if h.cron == nil {
		return
	}
	select {
	case <-h.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (t *Transport) beat() {
	t.classifier.Guard(faults.OpHeartbeat, func() {
		result := t.registry.Broadcast(keepAlive)
		for _, rec := range result.Failures {
			rec.Context = faults.OpHeartbeat
			t.classifier.Report(rec)
		}
		t.logger.Debug().
			Int("targeted", result.Targeted).
			Int("pruned", result.Pruned).
			Msg("Heartbeat sent")
	})
}
