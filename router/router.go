// Package router decides where a message goes and drives its status
// from SENDING to SENT. Everything slower than a store write and a bus
// publish happens off the send path.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/0rooe/chat/bus"
	"github.com/0rooe/chat/contract"
	"github.com/0rooe/chat/domain/event"
	"github.com/0rooe/chat/domain/message"
	cherrors "github.com/0rooe/chat/errors"
)

type Router struct {
	log      *slog.Logger
	store    contract.IMessageStore
	bus      contract.IEventBus
	presence contract.IPresenceRegistry
	pusher   contract.IPusher
	validate *validator.Validate
}

func New(log *slog.Logger, store contract.IMessageStore, eventBus contract.IEventBus,
	registry contract.IPresenceRegistry, pusher contract.IPusher) *Router {
	return &Router{
		log:      log,
		store:    store,
		bus:      eventBus,
		presence: registry,
		pusher:   pusher,
		validate: validator.New(),
	}
}

// Send validates the draft, persists it with status SENDING, publishes
// the created-event and attempts immediate delivery. The record is
// marked SENT once it is durably queued; push failures on individual
// connections are logged and isolated, they never fail the send. A
// receiver with zero live connections still gets SENT: absent
// connections mean deferred delivery, not failure.
func (r *Router) Send(ctx context.Context, draft message.Draft) (message.Message, error) {
	if err := r.validate.Struct(draft); err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", cherrors.ErrValidation, err)
	}
	r.presence.Touch(draft.SenderID)

	msg, err := r.store.Create(draft)
	if err != nil {
		return message.Message{}, err
	}

	if err := r.bus.Publish(ctx, bus.CreatedSubject(msg.Kind), event.MessageCreated{Message: msg}); err != nil {
		// Without a durably queued created-event the send has not
		// happened; surface it so the caller can retry.
		return message.Message{}, err
	}

	r.fanOut(ctx, msg)

	if err := r.store.SetStatus(msg.ID, message.StatusSent); err != nil {
		if errors.Is(err, cherrors.ErrInvalidState) {
			// A receipt consumed off the bus already advanced the status
			// past SENT. The send itself succeeded; return the stored
			// record rather than pushing the caller into a retry.
			if stored, getErr := r.store.Get(msg.ID); getErr == nil {
				return stored, nil
			}
			return message.Message{}, err
		}
		return message.Message{}, err
	}
	msg.Status = message.StatusSent
	return msg, nil
}

// SendEncrypted is Send with the encrypted flag forced on. Content is
// already ciphertext by the time it reaches the router; the encryption
// primitive lives with the caller.
func (r *Router) SendEncrypted(ctx context.Context, draft message.Draft) (message.Message, error) {
	draft.Encrypted = true
	return r.Send(ctx, draft)
}

// fanOut pushes the payload to every live target of the message.
func (r *Router) fanOut(ctx context.Context, msg message.Message) {
	switch route := msg.Route().(type) {
	case message.GroupRoute:
		if err := r.pusher.PushGroup(ctx, route.GroupID, msg); err != nil {
			r.log.Warn("Group broadcast failed", "group_id", route.GroupID, "message_id", msg.ID, "error", err)
		}
	case message.DirectRoute:
		r.pushAll(ctx, route.ReceiverID, msg)
		// Multi-device echo: the sender's other connections get a copy
		// too, unless sender and receiver are the same id.
		if route.SenderID != route.ReceiverID {
			r.pushAll(ctx, route.SenderID, msg)
		}
	}
}

func (r *Router) pushAll(ctx context.Context, userID int64, msg message.Message) {
	for _, connectionID := range r.presence.ConnectionsFor(userID) {
		if err := r.pusher.PushDirect(ctx, connectionID, msg); err != nil {
			r.log.Warn("Push abandoned for one connection",
				"user_id", userID, "connection_id", connectionID, "message_id", msg.ID, "error", err)
		}
	}
}

// Heartbeat refreshes liveness without touching the store.
func (r *Router) Heartbeat(userID int64) {
	r.presence.Touch(userID)
}

// Connect wires a fresh live connection into the registry.
func (r *Router) Connect(userID int64, connectionID string) {
	r.presence.Register(userID, connectionID)
}

// Disconnect drops a live connection.
func (r *Router) Disconnect(connectionID string) {
	r.presence.Unregister(connectionID)
}
