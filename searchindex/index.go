// Package searchindex maintains a full-text index over message
// content. The index is a projection fed from the event bus; losing it
// costs search results, never messages.
package searchindex

import (
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"

	"github.com/0rooe/chat/domain/message"
)

type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func New(writer *bluge.Writer, log *slog.Logger) *Index {
	return &Index{writer: writer, log: log}
}

// Index adds or replaces the document for a message. Encrypted content
// is ciphertext, indexing it would only bloat the segment files, so
// those messages are skipped.
func (i *Index) Index(msg message.Message) error {
	if msg.Encrypted {
		return nil
	}
	doc := bluge.NewDocument(msg.ID.String()).
		AddField(bluge.NewTextField("content", msg.Content).StoreValue()).
		AddField(bluge.NewKeywordField("kind", string(msg.Kind))).
		AddField(bluge.NewNumericField("senderId", float64(msg.SenderID))).
		AddField(bluge.NewNumericField("receiverId", float64(msg.ReceiverID))).
		AddField(bluge.NewDateTimeField("createdAt", msg.CreatedAt))
	return i.writer.Update(doc.ID(), doc)
}

// Delete removes a message from the index. Recalled messages go
// through here so tombstones never surface in search results.
func (i *Index) Delete(id uuid.UUID) error {
	return i.writer.Delete(bluge.Identifier(id.String()))
}

// Search returns the ids of the best matching messages, newest
// relevance first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 20
	}
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Index reader close failed", "error", err)
		}
	}()

	match := bluge.NewMatchQuery(query).SetField("content")
	request := bluge.NewTopNSearch(limit, match)
	dmi, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for {
		next, err := dmi.Next()
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		err = next.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				if id, parseErr := uuid.Parse(string(value)); parseErr == nil {
					ids = append(ids, id)
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
