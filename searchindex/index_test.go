package searchindex

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/0rooe/chat/domain/message"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return New(writer, slog.Default())
}

func testMessage(content string) message.Message {
	return message.Message{
		ID:          uuid.New(),
		SenderID:    1,
		ReceiverID:  2,
		Content:     content,
		ContentType: message.ContentText,
		Kind:        message.KindPrivate,
		Status:      message.StatusSent,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestIndex_IndexAndSearch(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)

	deployment := testMessage("the deployment failed again")
	lunch := testMessage("lunch at noon?")
	req.NoError(index.Index(deployment))
	req.NoError(index.Index(lunch))

	ids, err := index.Search(context.Background(), "deployment", 10)
	req.NoError(err)
	req.Equal([]uuid.UUID{deployment.ID}, ids)

	ids, err = index.Search(context.Background(), "weekend", 10)
	req.NoError(err)
	req.Empty(ids)
}

func TestIndex_EncryptedContentIsSkipped(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)

	secret := testMessage("ciphertext blob")
	secret.Encrypted = true
	req.NoError(index.Index(secret))

	ids, err := index.Search(context.Background(), "ciphertext", 10)
	req.NoError(err)
	req.Empty(ids)
}

func TestIndex_DeleteRemovesFromResults(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)

	msg := testMessage("about to be recalled")
	req.NoError(index.Index(msg))

	ids, err := index.Search(context.Background(), "recalled", 10)
	req.NoError(err)
	req.Len(ids, 1)

	req.NoError(index.Delete(msg.ID))

	ids, err = index.Search(context.Background(), "recalled", 10)
	req.NoError(err)
	req.Empty(ids)
}

func TestIndex_ReindexReplacesDocument(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)

	msg := testMessage("original wording")
	req.NoError(index.Index(msg))

	msg.Content = "rewritten wording"
	req.NoError(index.Index(msg))

	ids, err := index.Search(context.Background(), "original", 10)
	req.NoError(err)
	req.Empty(ids)

	ids, err = index.Search(context.Background(), "rewritten", 10)
	req.NoError(err)
	req.Equal([]uuid.UUID{msg.ID}, ids)
}
