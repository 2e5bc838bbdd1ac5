package workers

import (
	"context"
	"log/slog"

	"github.com/0rooe/chat/bus"
	"github.com/0rooe/chat/contract"
	"github.com/0rooe/chat/domain/event"
)

const searchDurable = "search-indexer"

// SearchProjectionWorker feeds the full-text index from created and
// recall events. Indexing failures bounce back to the bus; a stuck
// segment write retries instead of silently losing the document.
type SearchProjectionWorker struct {
	log   *slog.Logger
	bus   contract.IEventBus
	index contract.ISearchIndex
}

func NewSearchProjectionWorker(log *slog.Logger, eventBus contract.IEventBus,
	index contract.ISearchIndex) *SearchProjectionWorker {
	return &SearchProjectionWorker{log: log, bus: eventBus, index: index}
}

func (w *SearchProjectionWorker) Run(ctx context.Context) error {
	w.log.Info("Starting search projection worker", "durable", searchDurable)
	return w.bus.Consume(ctx, searchDurable,
		[]string{bus.SubjectCreated, bus.SubjectRecall}, w.handle)
}

func (w *SearchProjectionWorker) handle(_ context.Context, evt event.DeliveryEvent) error {
	switch e := evt.(type) {
	case event.MessageCreated:
		return w.index.Index(e.Message)
	case event.MessageRecalled:
		return w.index.Delete(e.Message.ID)
	default:
		w.log.Debug("Unexpected event on search subjects", "event", evt)
		return nil
	}
}
