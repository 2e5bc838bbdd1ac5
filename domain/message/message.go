package message

import (
	"time"

	"github.com/google/uuid"
)

type ContentType string

const (
	ContentText  ContentType = "TEXT"
	ContentImage ContentType = "IMAGE"
	ContentFile  ContentType = "FILE"
	ContentAudio ContentType = "AUDIO"
	ContentVideo ContentType = "VIDEO"
)

type Kind string

const (
	KindPrivate Kind = "PRIVATE"
	KindGroup   Kind = "GROUP"
)

// Tombstone replaces the content of a recalled message. The original
// bytes are gone for good once the recall succeeds.
const Tombstone = "[message recalled]"

// Message is the persisted record of one chat message. It is created by
// the router with status Sending and afterwards only mutated through
// status transitions or a recall.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	SenderID    int64       `json:"senderId"`
	ReceiverID  int64       `json:"receiverId"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType"`
	Kind        Kind        `json:"messageType"`
	Status      Status      `json:"status"`
	Encrypted   bool        `json:"encrypted"`
	CreatedAt   time.Time   `json:"createTime"`
	UpdatedAt   time.Time   `json:"updateTime"`
	Attachments []string    `json:"attachments,omitempty"`
}

// Route is the delivery decision for a message: either a direct push to
// the two parties' live connections, or a broadcast on the group channel.
// The router switches exhaustively over the two variants.
type Route interface {
	route()
}

type DirectRoute struct {
	SenderID   int64
	ReceiverID int64
}

type GroupRoute struct {
	GroupID int64
}

func (DirectRoute) route() {}
func (GroupRoute) route()  {}

// Route maps the message kind to its delivery variant. Group messages
// address a single logical channel keyed by the group id; member
// fan-out is the transport's concern.
func (m Message) Route() Route {
	if m.Kind == KindGroup {
		return GroupRoute{GroupID: m.ReceiverID}
	}
	return DirectRoute{SenderID: m.SenderID, ReceiverID: m.ReceiverID}
}

// Draft is an inbound send intent, before the store has assigned an id
// and a creation time.
type Draft struct {
	SenderID    int64       `json:"senderId" validate:"required"`
	ReceiverID  int64       `json:"receiverId" validate:"required"`
	Content     string      `json:"content" validate:"required"`
	ContentType ContentType `json:"contentType" validate:"required,oneof=TEXT IMAGE FILE AUDIO VIDEO"`
	Kind        Kind        `json:"messageType" validate:"required,oneof=PRIVATE GROUP"`
	Encrypted   bool        `json:"encrypted"`
	Attachments []string    `json:"attachments,omitempty"`
}
