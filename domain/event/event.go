package event

import (
	"time"

	"github.com/0rooe/chat/domain/message"
	"github.com/google/uuid"
)

// DeliveryEvent is the discriminated union carried by the event bus.
// Events are transient: they only reference message records, they are
// never the source of truth themselves.
type DeliveryEvent interface {
	deliveryEvent()
}

// MessageCreated is published once a message record has been persisted,
// before any push has been attempted.
type MessageCreated struct {
	Message message.Message
}

// StatusChanged is a delivery, read or failure confirmation for one
// message. Consumers apply it idempotently: re-applying the same status
// is a no-op.
type StatusChanged struct {
	MessageID uuid.UUID
	Status    message.Status
}

// BatchStatusChanged applies one status to many messages in a single
// store write. Unknown ids are skipped silently.
type BatchStatusChanged struct {
	MessageIDs []uuid.UUID
	Status     message.Status
}

// MessageRecalled notifies collaborators that a sender retracted a
// message within the recall window. The embedded record already carries
// the tombstone content.
type MessageRecalled struct {
	Message message.Message
}

// PresenceChanged is emitted by the registry when a user flips between
// online and offline.
type PresenceChanged struct {
	UserID int64
	Online bool
	At     time.Time
}

func (MessageCreated) deliveryEvent()     {}
func (StatusChanged) deliveryEvent()      {}
func (BatchStatusChanged) deliveryEvent() {}
func (MessageRecalled) deliveryEvent()    {}
func (PresenceChanged) deliveryEvent()    {}
