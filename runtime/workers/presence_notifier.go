package workers

import (
	"context"
	"log/slog"

	"github.com/0rooe/chat/bus"
	"github.com/0rooe/chat/contract"
	"github.com/0rooe/chat/domain/event"
)

// PresenceNotifierWorker drains presence flips off the registry and
// publishes them on the bus so other nodes and interested consumers
// see who came online or dropped off.
type PresenceNotifierWorker struct {
	log     *slog.Logger
	bus     contract.IEventBus
	signals <-chan event.PresenceChanged
}

func NewPresenceNotifierWorker(log *slog.Logger, eventBus contract.IEventBus,
	signals <-chan event.PresenceChanged) *PresenceNotifierWorker {
	return &PresenceNotifierWorker{log: log, bus: eventBus, signals: signals}
}

func (w *PresenceNotifierWorker) Run(ctx context.Context) error {
	w.log.Info("Starting presence notifier worker")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case flip := <-w.signals:
			if err := w.bus.Publish(ctx, bus.SubjectPresence, flip); err != nil {
				// Presence is a soft signal, the next flip supersedes
				// this one anyway.
				w.log.Warn("Presence publish failed",
					"user_id", flip.UserID, "online", flip.Online, "error", err)
			}
		}
	}
}
