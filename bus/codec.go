// Package bus carries delivery events between producers and consumers.
// Two implementations share one wire format: a JetStream-backed durable
// queue for deployments, and an in-process variant for tests and
// single-binary setups.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/0rooe/chat/domain/event"
	"github.com/0rooe/chat/domain/message"
	"github.com/google/uuid"
)

func timeFromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Subject topology. Private and group created-events use distinct
// routing keys; status traffic has one subject for single updates and
// one for batches.
const (
	SubjectCreatedPrivate = "chat.message.created.private"
	SubjectCreatedGroup   = "chat.message.created.group"
	SubjectCreated        = "chat.message.created.*"
	SubjectDelivery       = "chat.message.delivery"
	SubjectBatch          = "chat.message.batch"
	SubjectRecall         = "chat.message.recall"
	SubjectPresence       = "chat.presence"
)

// StreamSubjects is everything the durable stream retains.
var StreamSubjects = []string{"chat.message.>", "chat.presence"}

const (
	typeCreated  = "message.created"
	typeStatus   = "message.status"
	typeBatch    = "message.status.batch"
	typeRecalled = "message.recalled"
	typePresence = "presence.changed"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type statusPayload struct {
	MessageID uuid.UUID      `json:"messageId"`
	Status    message.Status `json:"status"`
}

type batchPayload struct {
	MessageIDs []uuid.UUID    `json:"messageIds"`
	Status     message.Status `json:"status"`
}

type presencePayload struct {
	UserID int64 `json:"userId"`
	Online bool  `json:"online"`
	At     int64 `json:"at"`
}

// Marshal encodes one event into its typed envelope.
func Marshal(evt event.DeliveryEvent) ([]byte, error) {
	var env envelope
	var payload any
	switch e := evt.(type) {
	case event.MessageCreated:
		env.Type = typeCreated
		payload = e.Message
	case event.StatusChanged:
		env.Type = typeStatus
		payload = statusPayload{MessageID: e.MessageID, Status: e.Status}
	case event.BatchStatusChanged:
		env.Type = typeBatch
		payload = batchPayload{MessageIDs: e.MessageIDs, Status: e.Status}
	case event.MessageRecalled:
		env.Type = typeRecalled
		payload = e.Message
	case event.PresenceChanged:
		env.Type = typePresence
		payload = presencePayload{UserID: e.UserID, Online: e.Online, At: e.At.UnixNano()}
	default:
		return nil, fmt.Errorf("unknown delivery event %T", evt)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env.Data = data
	return json.Marshal(env)
}

// Unmarshal decodes an envelope back into its event variant.
func Unmarshal(data []byte) (event.DeliveryEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case typeCreated:
		var msg message.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, err
		}
		return event.MessageCreated{Message: msg}, nil
	case typeStatus:
		var p statusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return event.StatusChanged{MessageID: p.MessageID, Status: p.Status}, nil
	case typeBatch:
		var p batchPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return event.BatchStatusChanged{MessageIDs: p.MessageIDs, Status: p.Status}, nil
	case typeRecalled:
		var msg message.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, err
		}
		return event.MessageRecalled{Message: msg}, nil
	case typePresence:
		var p presencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return event.PresenceChanged{UserID: p.UserID, Online: p.Online, At: timeFromNanos(p.At)}, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}

// CreatedSubject picks the routing key for a created-event.
func CreatedSubject(kind message.Kind) string {
	if kind == message.KindGroup {
		return SubjectCreatedGroup
	}
	return SubjectCreatedPrivate
}
