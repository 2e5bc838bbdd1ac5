package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	cherrors "github.com/0rooe/chat/errors"

	"github.com/0rooe/chat/domain/message"
)

// Key layout. The 19-digit zero padded UnixNano keeps prefix scans in
// chronological order; the trailing UUID disambiguates same-nanosecond
// writes.
//
//	msg:{id}                          primary record
//	conv:{lo}:{hi}:{ts19}:{id}        private pair index (lo < hi)
//	grp:{groupId}:{ts19}:{id}         group channel index
//	peer:{userId}:{ts19}:{id}         per-user index, written for both parties
//	inbox:{receiverId}:{ts19}:{id}    private receiver index, drives unread scans
const tsDigits = "9999999999999999999"

type MessageStore struct {
	db           *badger.DB
	log          *slog.Logger
	recallWindow time.Duration
	now          func() time.Time
}

func NewMessageStore(db *badger.DB, log *slog.Logger, recallWindow time.Duration) *MessageStore {
	return &MessageStore{db: db, log: log, recallWindow: recallWindow, now: time.Now}
}

type record struct {
	ID          string   `json:"id"`
	SenderID    int64    `json:"senderId"`
	ReceiverID  int64    `json:"receiverId"`
	Content     string   `json:"content"`
	ContentType string   `json:"contentType"`
	Kind        string   `json:"messageType"`
	Status      string   `json:"status"`
	Encrypted   bool     `json:"encrypted"`
	CreatedAt   int64    `json:"createTime"`
	UpdatedAt   int64    `json:"updateTime"`
	Attachments []string `json:"attachments,omitempty"`
}

func toRecord(m message.Message) record {
	return record{
		ID:          m.ID.String(),
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		ContentType: string(m.ContentType),
		Kind:        string(m.Kind),
		Status:      string(m.Status),
		Encrypted:   m.Encrypted,
		CreatedAt:   m.CreatedAt.UnixNano(),
		UpdatedAt:   m.UpdatedAt.UnixNano(),
		Attachments: m.Attachments,
	}
}

func fromRecord(r record) (message.Message, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return message.Message{}, err
	}
	return message.Message{
		ID:          id,
		SenderID:    r.SenderID,
		ReceiverID:  r.ReceiverID,
		Content:     r.Content,
		ContentType: message.ContentType(r.ContentType),
		Kind:        message.Kind(r.Kind),
		Status:      message.Status(r.Status),
		Encrypted:   r.Encrypted,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, r.UpdatedAt).UTC(),
		Attachments: r.Attachments,
	}, nil
}

// UnmarshalRecord decodes a stored value back into a message. Exposed
// for the inspector CLI.
func UnmarshalRecord(value []byte) (message.Message, error) {
	var r record
	if err := json.Unmarshal(value, &r); err != nil {
		return message.Message{}, err
	}
	return fromRecord(r)
}

func msgKey(id uuid.UUID) []byte {
	return []byte("msg:" + id.String())
}

func pairPrefix(a, b int64) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("conv:%d:%d:", lo, hi)
}

func indexKeys(m message.Message) [][]byte {
	suffix := fmt.Sprintf("%019d:%s", m.CreatedAt.UnixNano(), m.ID)
	keys := [][]byte{
		[]byte(fmt.Sprintf("peer:%d:%s", m.SenderID, suffix)),
	}
	if m.Kind == message.KindGroup {
		keys = append(keys, []byte(fmt.Sprintf("grp:%d:%s", m.ReceiverID, suffix)))
		return keys
	}
	keys = append(keys,
		[]byte(pairPrefix(m.SenderID, m.ReceiverID)+suffix),
		[]byte(fmt.Sprintf("inbox:%d:%s", m.ReceiverID, suffix)),
	)
	if m.ReceiverID != m.SenderID {
		keys = append(keys, []byte(fmt.Sprintf("peer:%d:%s", m.ReceiverID, suffix)))
	}
	return keys
}

// Create assigns identity and timestamps, sets status SENDING and
// persists the record together with its index entries in one
// transaction.
func (s *MessageStore) Create(draft message.Draft) (message.Message, error) {
	now := s.now().UTC()
	msg := message.Message{
		ID:          uuid.New(),
		SenderID:    draft.SenderID,
		ReceiverID:  draft.ReceiverID,
		Content:     draft.Content,
		ContentType: draft.ContentType,
		Kind:        draft.Kind,
		Status:      message.StatusSending,
		Encrypted:   draft.Encrypted,
		CreatedAt:   now,
		UpdatedAt:   now,
		Attachments: draft.Attachments,
	}
	value, err := json.Marshal(toRecord(msg))
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", cherrors.ErrPersistence, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(msg.ID), value); err != nil {
			return err
		}
		for _, key := range indexKeys(msg) {
			if err := txn.Set(key, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", cherrors.ErrPersistence, err)
	}
	return msg, nil
}

func (s *MessageStore) Get(id uuid.UUID) (message.Message, error) {
	var msg message.Message
	err := s.db.View(func(txn *badger.Txn) error {
		loaded, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		msg = loaded
		return nil
	})
	return msg, err
}

// getMessage loads one record inside an open transaction.
func getMessage(txn *badger.Txn, id uuid.UUID) (message.Message, error) {
	item, err := txn.Get(msgKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return message.Message{}, fmt.Errorf("%w: %s", cherrors.ErrNotFound, id)
	}
	if err != nil {
		return message.Message{}, err
	}
	var msg message.Message
	err = item.Value(func(value []byte) error {
		loaded, err := UnmarshalRecord(value)
		if err != nil {
			return err
		}
		msg = loaded
		return nil
	})
	return msg, err
}

func putMessage(txn *badger.Txn, msg message.Message) error {
	value, err := json.Marshal(toRecord(msg))
	if err != nil {
		return err
	}
	return txn.Set(msgKey(msg.ID), value)
}

// SetStatus applies one forward transition. Setting the current status
// again is a tolerated no-op; anything backward or out of a terminal
// state fails with ErrInvalidState so that callers (and the bus
// consumer, which treats it as non-retryable) can tell redelivery noise
// from genuine misuse apart.
func (s *MessageStore) SetStatus(id uuid.UUID, status message.Status) error {
	return s.db.Update(func(txn *badger.Txn) error {
		msg, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		if msg.Status == status {
			return nil
		}
		if !msg.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", cherrors.ErrInvalidState, msg.Status, status)
		}
		msg.Status = status
		msg.UpdatedAt = s.now().UTC()
		return putMessage(txn, msg)
	})
}

// SetStatusBatch applies one status to many records in a single
// transaction so no partial batch is ever visible. Unknown ids and
// illegal transitions are skipped; the count of records actually
// changed is returned.
func (s *MessageStore) SetStatusBatch(ids []uuid.UUID, status message.Status) (int, error) {
	changed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		changed = 0
		now := s.now().UTC()
		for _, id := range ids {
			msg, err := getMessage(txn, id)
			if errors.Is(err, cherrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if msg.Status == status || !msg.Status.CanTransition(status) {
				continue
			}
			msg.Status = status
			msg.UpdatedAt = now
			if err := putMessage(txn, msg); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cherrors.ErrPersistence, err)
	}
	return changed, nil
}

// Recall replaces the content with the tombstone and marks the record
// FAILED. Only the sender may recall, and only while the window is
// open. The deadline is checked against the creation time at request
// time; no background timer is involved.
func (s *MessageStore) Recall(id uuid.UUID, requesterID int64) (message.Message, error) {
	var recalled message.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		msg, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		if msg.SenderID != requesterID {
			return fmt.Errorf("%w: user %d cannot recall message from %d",
				cherrors.ErrUnauthorized, requesterID, msg.SenderID)
		}
		if msg.Status.Terminal() {
			return fmt.Errorf("%w: message already %s", cherrors.ErrInvalidState, msg.Status)
		}
		if s.now().Sub(msg.CreatedAt) > s.recallWindow {
			return fmt.Errorf("%w: recall window of %s expired", cherrors.ErrInvalidState, s.recallWindow)
		}
		msg.Content = message.Tombstone
		msg.Status = message.StatusFailed
		msg.UpdatedAt = s.now().UTC()
		recalled = msg
		return putMessage(txn, msg)
	})
	if err != nil {
		return message.Message{}, err
	}
	return recalled, nil
}

// Delete removes the record and its index entries. Hard delete on
// explicit user request only.
func (s *MessageStore) Delete(id uuid.UUID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		msg, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(msgKey(id)); err != nil {
			return err
		}
		for _, key := range indexKeys(msg) {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// scanIndex walks an index prefix newest first, resolving each entry to
// its primary record. The cursor is the key suffix of the last entry of
// the previous page, as handed back by the previous call.
func (s *MessageStore) scanIndex(prefixStr string, limit int, cursor *string,
	keep func(message.Message) bool) ([]message.Message, *string, error) {

	var messages []message.Message
	var lastSuffix string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk back.
			seekKey = append(prefix, []byte(tsDigits)...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}
		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			suffix := string(it.Item().Key()[len(prefixStr):])
			id, err := idFromSuffix(suffix)
			if err != nil {
				s.log.Warn("Skipping malformed index key", "key", string(it.Item().Key()))
				continue
			}
			msg, err := getMessage(txn, id)
			if errors.Is(err, cherrors.ErrNotFound) {
				// Dangling index entry, record was hard deleted.
				continue
			}
			if err != nil {
				return err
			}
			lastSuffix = suffix
			if keep == nil || keep(msg) {
				messages = append(messages, msg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if lastSuffix == "" {
		return messages, nil, nil
	}
	return messages, &lastSuffix, nil
}

func idFromSuffix(suffix string) (uuid.UUID, error) {
	i := strings.IndexByte(suffix, ':')
	if i < 0 {
		return uuid.Nil, fmt.Errorf("no id separator in %q", suffix)
	}
	return uuid.Parse(suffix[i+1:])
}

// PrivateHistory pages through the conversation between two users,
// newest first, both directions included.
func (s *MessageStore) PrivateHistory(userA, userB int64, limit int, cursor *string) ([]message.Message, *string, error) {
	return s.scanIndex(pairPrefix(userA, userB), limit, cursor, nil)
}

// GroupHistory pages through one group channel, newest first.
func (s *MessageStore) GroupHistory(groupID int64, limit int, cursor *string) ([]message.Message, *string, error) {
	return s.scanIndex(fmt.Sprintf("grp:%d:", groupID), limit, cursor, nil)
}

// UnreadFor returns the receiver's private messages that have not
// reached READ yet, newest first.
func (s *MessageStore) UnreadFor(userID int64) ([]message.Message, error) {
	messages, _, err := s.scanIndex(fmt.Sprintf("inbox:%d:", userID), 0, nil, func(m message.Message) bool {
		return m.Status != message.StatusRead
	})
	return messages, err
}

// MarkRead moves every unread message from one sender to READ in a
// single transaction and returns the number changed. Terminal records
// (including recalled ones) are left alone.
func (s *MessageStore) MarkRead(receiverID, senderID int64) (int, error) {
	return s.markReadWhere(receiverID, func(m message.Message) bool {
		return m.SenderID == senderID
	})
}

// MarkAllRead is MarkRead across all senders of one receiver.
func (s *MessageStore) MarkAllRead(receiverID int64) (int, error) {
	return s.markReadWhere(receiverID, func(message.Message) bool { return true })
}

func (s *MessageStore) markReadWhere(receiverID int64, match func(message.Message) bool) (int, error) {
	changed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		changed = 0
		now := s.now().UTC()
		prefixStr := fmt.Sprintf("inbox:%d:", receiverID)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := idFromSuffix(string(it.Item().Key()[len(prefixStr):]))
			if err != nil {
				continue
			}
			msg, err := getMessage(txn, id)
			if errors.Is(err, cherrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !match(msg) || !msg.Status.CanTransition(message.StatusRead) {
				continue
			}
			msg.Status = message.StatusRead
			msg.UpdatedAt = now
			if err := putMessage(txn, msg); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cherrors.ErrPersistence, err)
	}
	return changed, nil
}

// Query is the generic filtered read path. It scans the whole record
// space; history-critical reads go through the dedicated indexes, this
// one backs the collaborator-facing search form only.
func (s *MessageStore) Query(params message.QueryParams) ([]message.Message, int, error) {
	var matches []message.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("msg:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				msg, err := UnmarshalRecord(value)
				if err != nil {
					return err
				}
				if matchesParams(msg, params) {
					matches = append(matches, msg)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	total := len(matches)
	size := params.Size
	if size <= 0 {
		size = 20
	}
	start := params.Page * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func matchesParams(m message.Message, p message.QueryParams) bool {
	if p.SenderID != nil && m.SenderID != *p.SenderID {
		return false
	}
	if p.ReceiverID != nil && m.ReceiverID != *p.ReceiverID {
		return false
	}
	if p.Kind != nil && m.Kind != *p.Kind {
		return false
	}
	if p.From != nil && m.CreatedAt.Before(*p.From) {
		return false
	}
	if p.To != nil && m.CreatedAt.After(*p.To) {
		return false
	}
	return true
}

// RecentChats builds the conversation-list projection: the newest
// message per private peer or group the user has exchanged messages
// with, newest conversations first.
func (s *MessageStore) RecentChats(userID int64, limit int) ([]message.ChatSummary, error) {
	type chatKey struct {
		peer int64
		kind message.Kind
	}
	seen := make(map[chatKey]struct{})
	var summaries []message.ChatSummary

	prefixStr := fmt.Sprintf("peer:%d:", userID)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(append(prefix, []byte(tsDigits)...)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(summaries) == limit {
				return nil
			}
			id, err := idFromSuffix(string(it.Item().Key()[len(prefixStr):]))
			if err != nil {
				continue
			}
			msg, err := getMessage(txn, id)
			if errors.Is(err, cherrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			key := chatKey{peer: msg.ReceiverID, kind: msg.Kind}
			if msg.Kind == message.KindPrivate && msg.ReceiverID == userID {
				key.peer = msg.SenderID
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			summaries = append(summaries, message.ChatSummary{
				PeerID:      key.peer,
				Kind:        msg.Kind,
				LastMessage: msg,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
