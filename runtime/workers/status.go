package workers

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/0rooe/chat/bus"
	"github.com/0rooe/chat/contract"
	"github.com/0rooe/chat/domain/event"
	cherrors "github.com/0rooe/chat/errors"
)

const statusDurable = "status-updater"

// StatusWorker applies delivery receipts from the bus to stored
// messages. Delivery is at-least-once, so a receipt may arrive twice
// or out of order: not-found and invalid-transition results are final
// for a given receipt and must be acked, never redelivered. Anything
// else is assumed transient and handed back to the bus for retry.
type StatusWorker struct {
	log   *slog.Logger
	bus   contract.IEventBus
	store contract.IMessageStore
}

func NewStatusWorker(log *slog.Logger, eventBus contract.IEventBus, store contract.IMessageStore) *StatusWorker {
	return &StatusWorker{log: log, bus: eventBus, store: store}
}

func (w *StatusWorker) Run(ctx context.Context) error {
	w.log.Info("Starting status worker", "durable", statusDurable)
	return w.bus.Consume(ctx, statusDurable,
		[]string{bus.SubjectDelivery, bus.SubjectBatch}, w.handle)
}

func (w *StatusWorker) handle(_ context.Context, evt event.DeliveryEvent) error {
	switch e := evt.(type) {
	case event.StatusChanged:
		err := w.store.SetStatus(e.MessageID, e.Status)
		if err == nil {
			return nil
		}
		if stderrors.Is(err, cherrors.ErrInvalidState) || stderrors.Is(err, cherrors.ErrNotFound) {
			w.log.Debug("Receipt discarded", "message_id", e.MessageID, "status", e.Status, "reason", err)
			return nil
		}
		return err
	case event.BatchStatusChanged:
		// Per-message misses are already skipped inside the batch;
		// only storage trouble reaches us here.
		changed, err := w.store.SetStatusBatch(e.MessageIDs, e.Status)
		if err != nil {
			return err
		}
		if changed < len(e.MessageIDs) {
			w.log.Debug("Batch receipt partially applied",
				"status", e.Status, "changed", changed, "total", len(e.MessageIDs))
		}
		return nil
	default:
		w.log.Debug("Unexpected event on delivery subject", "event", evt)
		return nil
	}
}
