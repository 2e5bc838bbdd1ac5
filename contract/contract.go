//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"github.com/0rooe/chat/domain/event"
	"github.com/0rooe/chat/domain/message"
	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker
// interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IPresenceRegistry is the single source of truth for liveness. All
// methods are safe under arbitrary concurrent callers and never block
// on I/O.
type IPresenceRegistry interface {
	Register(userID int64, connectionID string)
	Unregister(connectionID string)
	Touch(userID int64)
	ConnectionsFor(userID int64) []string
	IsOnline(userID int64) bool
	OnlineUsers() []int64
	EvictIdle(cutoff time.Time) []int64
}

// IMessageStore owns message records and their status lifecycle.
type IMessageStore interface {
	Create(draft message.Draft) (message.Message, error)
	Get(id uuid.UUID) (message.Message, error)
	SetStatus(id uuid.UUID, status message.Status) error
	SetStatusBatch(ids []uuid.UUID, status message.Status) (int, error)
	Recall(id uuid.UUID, requesterID int64) (message.Message, error)
	Delete(id uuid.UUID) error

	PrivateHistory(userA, userB int64, limit int, cursor *string) ([]message.Message, *string, error)
	GroupHistory(groupID int64, limit int, cursor *string) ([]message.Message, *string, error)
	Query(params message.QueryParams) ([]message.Message, int, error)
	UnreadFor(userID int64) ([]message.Message, error)
	MarkRead(receiverID, senderID int64) (int, error)
	MarkAllRead(receiverID int64) (int, error)
	RecentChats(userID int64, limit int) ([]message.ChatSummary, error)
}

// EventHandler processes one bus event. A non-nil error triggers
// redelivery; handlers must therefore be idempotent.
type EventHandler func(ctx context.Context, evt event.DeliveryEvent) error

// IEventBus is an asynchronous, durable, at-least-once queue. Publish
// returns once the event is durably enqueued, not once delivered.
// Order is preserved per publisher and subject only.
type IEventBus interface {
	Publish(ctx context.Context, subject string, evt event.DeliveryEvent) error
	// Consume blocks until ctx is done, delivering every matching event
	// to h at least once under the given durable consumer name.
	Consume(ctx context.Context, durable string, subjects []string, h EventHandler) error
}

// IPusher hands a payload to the outbound transport. A failed push is a
// transient delivery failure local to one target; it never fails the
// overall send.
type IPusher interface {
	PushDirect(ctx context.Context, connectionID string, msg message.Message) error
	PushGroup(ctx context.Context, groupID int64, msg message.Message) error
}

// ISearchIndex is the full-text index over plaintext message content.
type ISearchIndex interface {
	Index(msg message.Message) error
	Delete(id uuid.UUID) error
	Search(ctx context.Context, query string, limit int) ([]uuid.UUID, error)
}
