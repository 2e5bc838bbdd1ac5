package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/0rooe/chat/contract"
)

// HeartbeatWorker sweeps the presence registry and evicts users whose
// last activity is older than the offline threshold. Eviction drops
// every connection the user had, so a stale client that reconnects
// must register again.
type HeartbeatWorker struct {
	log       *slog.Logger
	registry  contract.IPresenceRegistry
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
}

func NewHeartbeatWorker(log *slog.Logger, registry contract.IPresenceRegistry,
	interval, threshold time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:       log,
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
	}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat sweep worker", "interval", w.interval, "threshold", w.threshold)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := w.now().Add(-w.threshold)
			evicted := w.registry.EvictIdle(cutoff)
			if len(evicted) > 0 {
				w.log.Info("Evicted idle users", "count", len(evicted), "user_ids", evicted)
			}
		}
	}
}
