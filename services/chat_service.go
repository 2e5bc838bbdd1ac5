package services

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/0rooe/chat/bus"
	"github.com/0rooe/chat/contract"
	"github.com/0rooe/chat/domain/event"
	"github.com/0rooe/chat/domain/message"
)

type IChatService interface {
	Get(id uuid.UUID) (message.Message, error)
	PrivateHistory(userA, userB int64, limit int, cursor *string) ([]message.Message, *string)
	GroupHistory(groupID int64, limit int, cursor *string) ([]message.Message, *string)
	UnreadFor(userID int64) []message.Message
	Query(params message.QueryParams) ([]message.Message, int)
	RecentChats(userID int64, limit int) []message.ChatSummary
	Search(ctx context.Context, query string, limit int) []uuid.UUID
	MarkRead(receiverID, senderID int64) (int, error)
	MarkAllRead(receiverID int64) (int, error)
	UpdateStatus(id uuid.UUID, status message.Status) error
	UpdateStatusBatch(ids []uuid.UUID, status message.Status) (int, error)
	Recall(ctx context.Context, id uuid.UUID, requesterID int64) (message.Message, error)
	Delete(id uuid.UUID) error
}

// ChatService is the read and lifecycle surface over stored messages.
// Reads degrade to empty results on storage trouble so a flaky disk
// shows up in logs, not as client-facing failures. Writes keep their
// typed errors, callers need them to decide between retry and ack.
type ChatService struct {
	log    *slog.Logger
	store  contract.IMessageStore
	bus    contract.IEventBus
	search contract.ISearchIndex
}

func NewChatService(log *slog.Logger, store contract.IMessageStore,
	eventBus contract.IEventBus, search contract.ISearchIndex) *ChatService {
	return &ChatService{log: log, store: store, bus: eventBus, search: search}
}

func (s *ChatService) Get(id uuid.UUID) (message.Message, error) {
	return s.store.Get(id)
}

func (s *ChatService) PrivateHistory(userA, userB int64, limit int, cursor *string) ([]message.Message, *string) {
	msgs, next, err := s.store.PrivateHistory(userA, userB, limit, cursor)
	if err != nil {
		s.log.Error("Private history read failed", "user_a", userA, "user_b", userB, "error", err)
		return nil, nil
	}
	return msgs, next
}

func (s *ChatService) GroupHistory(groupID int64, limit int, cursor *string) ([]message.Message, *string) {
	msgs, next, err := s.store.GroupHistory(groupID, limit, cursor)
	if err != nil {
		s.log.Error("Group history read failed", "group_id", groupID, "error", err)
		return nil, nil
	}
	return msgs, next
}

func (s *ChatService) UnreadFor(userID int64) []message.Message {
	msgs, err := s.store.UnreadFor(userID)
	if err != nil {
		s.log.Error("Unread read failed", "user_id", userID, "error", err)
		return nil
	}
	return msgs
}

func (s *ChatService) Query(params message.QueryParams) ([]message.Message, int) {
	msgs, total, err := s.store.Query(params)
	if err != nil {
		s.log.Error("Query failed", "error", err)
		return nil, 0
	}
	return msgs, total
}

func (s *ChatService) RecentChats(userID int64, limit int) []message.ChatSummary {
	chats, err := s.store.RecentChats(userID, limit)
	if err != nil {
		s.log.Error("Recent chats read failed", "user_id", userID, "error", err)
		return nil
	}
	return chats
}

func (s *ChatService) Search(ctx context.Context, query string, limit int) []uuid.UUID {
	ids, err := s.search.Search(ctx, query, limit)
	if err != nil {
		s.log.Error("Search failed", "query", query, "error", err)
		return nil
	}
	return ids
}

func (s *ChatService) MarkRead(receiverID, senderID int64) (int, error) {
	return s.store.MarkRead(receiverID, senderID)
}

func (s *ChatService) MarkAllRead(receiverID int64) (int, error) {
	return s.store.MarkAllRead(receiverID)
}

func (s *ChatService) UpdateStatus(id uuid.UUID, status message.Status) error {
	return s.store.SetStatus(id, status)
}

func (s *ChatService) UpdateStatusBatch(ids []uuid.UUID, status message.Status) (int, error) {
	return s.store.SetStatusBatch(ids, status)
}

// Recall tombstones a message and announces it on the bus so live
// clients and the search projection catch up. The recall itself is
// already durable when the publish runs, so a publish failure only
// delays the announcement.
func (s *ChatService) Recall(ctx context.Context, id uuid.UUID, requesterID int64) (message.Message, error) {
	msg, err := s.store.Recall(id, requesterID)
	if err != nil {
		return message.Message{}, err
	}
	if err := s.bus.Publish(ctx, bus.SubjectRecall, event.MessageRecalled{Message: msg}); err != nil {
		s.log.Warn("Recall announcement delayed", "message_id", id, "error", err)
	}
	return msg, nil
}

func (s *ChatService) Delete(id uuid.UUID) error {
	return s.store.Delete(id)
}
