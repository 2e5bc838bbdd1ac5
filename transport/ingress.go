package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/0rooe/chat/domain/message"
	cherrors "github.com/0rooe/chat/errors"
)

// Inbound subjects. Clients publish here; replies carry the stored
// message (send) or an error payload.
const (
	SubjectSend          = "chat.send"
	SubjectSendEncrypted = "chat.send.encrypted"
	SubjectHeartbeat     = "chat.heartbeat"
	SubjectConnect       = "chat.connect"
	SubjectDisconnect    = "chat.disconnect"
)

// Router is the slice of routing the ingress needs.
type Router interface {
	Send(ctx context.Context, draft message.Draft) (message.Message, error)
	SendEncrypted(ctx context.Context, draft message.Draft) (message.Message, error)
	Heartbeat(userID int64)
	Connect(userID int64, connectionID string)
	Disconnect(connectionID string)
}

type encryptedSend struct {
	SenderID         int64               `json:"senderId"`
	ReceiverID       int64               `json:"receiverId"`
	EncryptedContent string              `json:"encryptedContent"`
	ContentType      message.ContentType `json:"contentType"`
	MessageType      message.Kind        `json:"messageType"`
}

type livenessSignal struct {
	UserID       int64  `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

type errorReply struct {
	Error string `json:"error"`
}

// Ingress subscribes the routing core to its inbound NATS subjects.
type Ingress struct {
	log    *slog.Logger
	nc     *nats.Conn
	router Router

	// ctx is the subscription lifetime, set by Run; handler calls derive
	// from it so shutdown reaches in-flight work.
	ctx  context.Context
	subs []*nats.Subscription
}

func NewIngress(log *slog.Logger, nc *nats.Conn, router Router) *Ingress {
	return &Ingress{log: log, nc: nc, router: router}
}

// Run subscribes all inbound subjects and blocks until ctx is
// cancelled, then drains the subscriptions.
func (i *Ingress) Run(ctx context.Context) error {
	i.ctx = ctx
	handlers := map[string]nats.MsgHandler{
		SubjectSend:          i.onSend,
		SubjectSendEncrypted: i.onSendEncrypted,
		SubjectHeartbeat:     i.onHeartbeat,
		SubjectConnect:       i.onConnect,
		SubjectDisconnect:    i.onDisconnect,
	}
	for subject, handler := range handlers {
		sub, err := i.nc.Subscribe(subject, handler)
		if err != nil {
			i.unsubscribeAll()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		i.subs = append(i.subs, sub)
	}
	i.log.Info("Ingress listening", "subjects", len(i.subs))

	<-ctx.Done()
	i.unsubscribeAll()
	if ctx.Err() == context.Canceled {
		return nil
	}
	return ctx.Err()
}

func (i *Ingress) unsubscribeAll() {
	for _, sub := range i.subs {
		if err := sub.Drain(); err != nil {
			i.log.Warn("Subscription drain failed", "error", err)
		}
	}
	i.subs = nil
}

func (i *Ingress) onSend(m *nats.Msg) {
	var draft message.Draft
	if err := json.Unmarshal(m.Data, &draft); err != nil {
		i.reply(m, errorReply{Error: fmt.Sprintf("%v: %v", cherrors.ErrValidation, err)})
		return
	}
	msg, err := i.router.Send(i.ctx, draft)
	if err != nil {
		i.log.Warn("Send rejected", "sender_id", draft.SenderID, "error", err)
		i.reply(m, errorReply{Error: err.Error()})
		return
	}
	i.reply(m, msg)
}

func (i *Ingress) onSendEncrypted(m *nats.Msg) {
	var payload encryptedSend
	if err := json.Unmarshal(m.Data, &payload); err != nil {
		i.reply(m, errorReply{Error: fmt.Sprintf("%v: %v", cherrors.ErrValidation, err)})
		return
	}
	draft := message.Draft{
		SenderID:    payload.SenderID,
		ReceiverID:  payload.ReceiverID,
		Content:     payload.EncryptedContent,
		ContentType: payload.ContentType,
		Kind:        payload.MessageType,
	}
	msg, err := i.router.SendEncrypted(i.ctx, draft)
	if err != nil {
		i.log.Warn("Encrypted send rejected", "sender_id", draft.SenderID, "error", err)
		i.reply(m, errorReply{Error: err.Error()})
		return
	}
	i.reply(m, msg)
}

func (i *Ingress) onHeartbeat(m *nats.Msg) {
	var signal livenessSignal
	if err := json.Unmarshal(m.Data, &signal); err != nil {
		i.log.Debug("Malformed heartbeat dropped", "error", err)
		return
	}
	i.router.Heartbeat(signal.UserID)
}

func (i *Ingress) onConnect(m *nats.Msg) {
	var signal livenessSignal
	if err := json.Unmarshal(m.Data, &signal); err != nil {
		i.log.Debug("Malformed connect dropped", "error", err)
		return
	}
	i.router.Connect(signal.UserID, signal.ConnectionID)
}

func (i *Ingress) onDisconnect(m *nats.Msg) {
	var signal livenessSignal
	if err := json.Unmarshal(m.Data, &signal); err != nil {
		i.log.Debug("Malformed disconnect dropped", "error", err)
		return
	}
	i.router.Disconnect(signal.ConnectionID)
}

// reply answers a request/reply message; fire-and-forget publishes skip
// it silently.
func (i *Ingress) reply(m *nats.Msg, payload any) {
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		i.log.Error("Reply marshal failed", "subject", m.Subject, "error", err)
		return
	}
	if err := m.Respond(data); err != nil {
		i.log.Warn("Reply failed", "subject", m.Subject, "error", err)
	}
}
