package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/0rooe/chat/domain/message"
	cherrors "github.com/0rooe/chat/errors"
	"github.com/0rooe/chat/services"
)

// Query and lifecycle subjects, all request/reply.
const (
	SubjectGet            = "chat.message.get"
	SubjectRecallRequest  = "chat.message.recall.request"
	SubjectDelete         = "chat.message.delete"
	SubjectHistoryPrivate = "chat.history.private"
	SubjectHistoryGroup   = "chat.history.group"
	SubjectUnread         = "chat.unread"
	SubjectMarkRead       = "chat.read"
	SubjectMarkAllRead    = "chat.read.all"
	SubjectQuery          = "chat.query"
	SubjectRecentChats    = "chat.chats"
	SubjectSearch         = "chat.search"
)

type messageRequest struct {
	MessageID   uuid.UUID `json:"messageId"`
	RequesterID int64     `json:"requesterId"`
}

type historyRequest struct {
	UserA   int64   `json:"userA"`
	UserB   int64   `json:"userB"`
	GroupID int64   `json:"groupId"`
	Limit   int     `json:"limit"`
	Cursor  *string `json:"cursor"`
}

type historyReply struct {
	Messages []message.Message `json:"messages"`
	Cursor   *string           `json:"cursor,omitempty"`
}

type readRequest struct {
	ReceiverID int64 `json:"receiverId"`
	SenderID   int64 `json:"senderId"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type recentChatsRequest struct {
	UserID int64 `json:"userId"`
	Limit  int   `json:"limit"`
}

type okReply struct {
	OK bool `json:"ok"`
}

type changedReply struct {
	Changed int `json:"changed"`
}

type queryReply struct {
	Messages []message.Message `json:"messages"`
	Total    int               `json:"total"`
}

// ServiceIngress exposes the chat service over request/reply NATS
// subjects. It is the sibling of Ingress: that one carries the hot
// send path, this one the reads and message lifecycle.
type ServiceIngress struct {
	log     *slog.Logger
	nc      *nats.Conn
	service services.IChatService

	// ctx is the subscription lifetime, set by Run.
	ctx  context.Context
	subs []*nats.Subscription
}

func NewServiceIngress(log *slog.Logger, nc *nats.Conn, service services.IChatService) *ServiceIngress {
	return &ServiceIngress{log: log, nc: nc, service: service}
}

func (i *ServiceIngress) Run(ctx context.Context) error {
	i.ctx = ctx
	handlers := map[string]nats.MsgHandler{
		SubjectGet:            i.onGet,
		SubjectRecallRequest:  i.onRecall,
		SubjectDelete:         i.onDelete,
		SubjectHistoryPrivate: i.onPrivateHistory,
		SubjectHistoryGroup:   i.onGroupHistory,
		SubjectUnread:         i.onUnread,
		SubjectMarkRead:       i.onMarkRead,
		SubjectMarkAllRead:    i.onMarkAllRead,
		SubjectQuery:          i.onQuery,
		SubjectRecentChats:    i.onRecentChats,
		SubjectSearch:         i.onSearch,
	}
	for subject, handler := range handlers {
		sub, err := i.nc.Subscribe(subject, handler)
		if err != nil {
			i.drainAll()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		i.subs = append(i.subs, sub)
	}
	i.log.Info("Service ingress listening", "subjects", len(i.subs))

	<-ctx.Done()
	i.drainAll()
	if ctx.Err() == context.Canceled {
		return nil
	}
	return ctx.Err()
}

func (i *ServiceIngress) drainAll() {
	for _, sub := range i.subs {
		if err := sub.Drain(); err != nil {
			i.log.Warn("Subscription drain failed", "error", err)
		}
	}
	i.subs = nil
}

func (i *ServiceIngress) onGet(m *nats.Msg) {
	var req messageRequest
	if !i.decode(m, &req) {
		return
	}
	msg, err := i.service.Get(req.MessageID)
	if err != nil {
		i.replyErr(m, err)
		return
	}
	i.reply(m, msg)
}

func (i *ServiceIngress) onRecall(m *nats.Msg) {
	var req messageRequest
	if !i.decode(m, &req) {
		return
	}
	msg, err := i.service.Recall(i.ctx, req.MessageID, req.RequesterID)
	if err != nil {
		i.replyErr(m, err)
		return
	}
	i.reply(m, msg)
}

func (i *ServiceIngress) onDelete(m *nats.Msg) {
	var req messageRequest
	if !i.decode(m, &req) {
		return
	}
	if err := i.service.Delete(req.MessageID); err != nil {
		i.replyErr(m, err)
		return
	}
	i.reply(m, okReply{OK: true})
}

func (i *ServiceIngress) onPrivateHistory(m *nats.Msg) {
	var req historyRequest
	if !i.decode(m, &req) {
		return
	}
	msgs, cursor := i.service.PrivateHistory(req.UserA, req.UserB, req.Limit, req.Cursor)
	i.reply(m, historyReply{Messages: msgs, Cursor: cursor})
}

func (i *ServiceIngress) onGroupHistory(m *nats.Msg) {
	var req historyRequest
	if !i.decode(m, &req) {
		return
	}
	msgs, cursor := i.service.GroupHistory(req.GroupID, req.Limit, req.Cursor)
	i.reply(m, historyReply{Messages: msgs, Cursor: cursor})
}

func (i *ServiceIngress) onUnread(m *nats.Msg) {
	var req readRequest
	if !i.decode(m, &req) {
		return
	}
	i.reply(m, i.service.UnreadFor(req.ReceiverID))
}

func (i *ServiceIngress) onMarkRead(m *nats.Msg) {
	var req readRequest
	if !i.decode(m, &req) {
		return
	}
	changed, err := i.service.MarkRead(req.ReceiverID, req.SenderID)
	if err != nil {
		i.replyErr(m, err)
		return
	}
	i.reply(m, changedReply{Changed: changed})
}

func (i *ServiceIngress) onMarkAllRead(m *nats.Msg) {
	var req readRequest
	if !i.decode(m, &req) {
		return
	}
	changed, err := i.service.MarkAllRead(req.ReceiverID)
	if err != nil {
		i.replyErr(m, err)
		return
	}
	i.reply(m, changedReply{Changed: changed})
}

func (i *ServiceIngress) onQuery(m *nats.Msg) {
	var params message.QueryParams
	if !i.decode(m, &params) {
		return
	}
	msgs, total := i.service.Query(params)
	i.reply(m, queryReply{Messages: msgs, Total: total})
}

func (i *ServiceIngress) onRecentChats(m *nats.Msg) {
	var req recentChatsRequest
	if !i.decode(m, &req) {
		return
	}
	i.reply(m, i.service.RecentChats(req.UserID, req.Limit))
}

func (i *ServiceIngress) onSearch(m *nats.Msg) {
	var req searchRequest
	if !i.decode(m, &req) {
		return
	}
	i.reply(m, i.service.Search(i.ctx, req.Query, req.Limit))
}

func (i *ServiceIngress) decode(m *nats.Msg, into any) bool {
	if err := json.Unmarshal(m.Data, into); err != nil {
		i.replyErr(m, fmt.Errorf("%w: %v", cherrors.ErrValidation, err))
		return false
	}
	return true
}

func (i *ServiceIngress) reply(m *nats.Msg, payload any) {
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

func (i *ServiceIngress) replyErr(m *nats.Msg, err error) {
	i.log.Debug("Request rejected", "subject", m.Subject, "error", err)
	i.reply(m, errorReply{Error: err.Error()})
}
