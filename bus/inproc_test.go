package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/0rooe/chat/domain/event"
	"github.com/0rooe/chat/domain/message"
)

func TestInProc_PublishConsume(t *testing.T) {
	req := require.New(t)
	b := NewInProc(slog.Default(), 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan event.DeliveryEvent, 1)
	go func() {
		_ = b.Consume(ctx, "test-consumer", []string{SubjectDelivery}, func(_ context.Context, evt event.DeliveryEvent) error {
			received <- evt
			return nil
		})
	}()

	// Queue registration races with the first publish; wait for it.
	req.Eventually(func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.queues) == 1
	}, time.Second, 5*time.Millisecond)

	id := uuid.New()
	err := b.Publish(ctx, SubjectDelivery, event.StatusChanged{MessageID: id, Status: message.StatusDelivered})
	req.NoError(err)

	select {
	case evt := <-received:
		changed, ok := evt.(event.StatusChanged)
		req.True(ok)
		req.Equal(id, changed.MessageID)
		req.Equal(message.StatusDelivered, changed.Status)
	case <-time.After(time.Second):
		req.Fail("Event never delivered")
	}
}

func TestInProc_WildcardSubjects(t *testing.T) {
	req := require.New(t)
	b := NewInProc(slog.Default(), 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan event.DeliveryEvent, 2)
	go func() {
		_ = b.Consume(ctx, "created-consumer", []string{SubjectCreated}, func(_ context.Context, evt event.DeliveryEvent) error {
			received <- evt
			return nil
		})
	}()

	req.Eventually(func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.queues) == 1
	}, time.Second, 5*time.Millisecond)

	msg := message.Message{ID: uuid.New(), Kind: message.KindPrivate}
	req.NoError(b.Publish(ctx, SubjectCreatedPrivate, event.MessageCreated{Message: msg}))
	req.NoError(b.Publish(ctx, SubjectCreatedGroup, event.MessageCreated{Message: msg}))
	// Delivery subject does not match the created wildcard
	req.NoError(b.Publish(ctx, SubjectDelivery, event.StatusChanged{MessageID: msg.ID, Status: message.StatusSent}))

	for i := 0; i < 2; i++ {
		select {
		case evt := <-received:
			_, ok := evt.(event.MessageCreated)
			req.True(ok)
		case <-time.After(time.Second):
			req.Fail("Created event never delivered")
		}
	}
	select {
	case <-received:
		req.Fail("Wildcard should not match the delivery subject")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInProc_RedeliveryOnHandlerError(t *testing.T) {
	req := require.New(t)
	b := NewInProc(slog.Default(), 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = b.Consume(ctx, "flaky-consumer", []string{SubjectDelivery}, func(_ context.Context, _ event.DeliveryEvent) error {
			if attempts.Add(1) < 3 {
				return fmt.Errorf("transient failure")
			}
			close(done)
			return nil
		})
	}()

	req.Eventually(func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.queues) == 1
	}, time.Second, 5*time.Millisecond)

	req.NoError(b.Publish(ctx, SubjectDelivery, event.StatusChanged{MessageID: uuid.New(), Status: message.StatusSent}))

	select {
	case <-done:
		req.Equal(int32(3), attempts.Load())
	case <-time.After(2 * time.Second):
		req.Fail("Event was not redelivered")
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"chat.message.delivery", "chat.message.delivery", true},
		{"chat.message.created.*", "chat.message.created.private", true},
		{"chat.message.created.*", "chat.message.created.group", true},
		{"chat.message.created.*", "chat.message.delivery", false},
		{"chat.message.created.*", "chat.message.created.private.extra", false},
		{"chat.message.>", "chat.message.created.private", true},
		{"chat.message.>", "chat.presence", false},
		{"chat.presence", "chat.presence.extra", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s vs %s", tt.pattern, tt.subject), func(t *testing.T) {
			require.Equal(t, tt.want, matchSubject(tt.pattern, tt.subject))
		})
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	req := require.New(t)

	msg := message.Message{
		ID:          uuid.New(),
		SenderID:    1,
		ReceiverID:  2,
		Content:     "hello",
		ContentType: message.ContentText,
		Kind:        message.KindPrivate,
		Status:      message.StatusSending,
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	events := []event.DeliveryEvent{
		event.MessageCreated{Message: msg},
		event.StatusChanged{MessageID: msg.ID, Status: message.StatusDelivered},
		event.BatchStatusChanged{MessageIDs: []uuid.UUID{msg.ID, uuid.New()}, Status: message.StatusRead},
		event.MessageRecalled{Message: msg},
		event.PresenceChanged{UserID: 4, Online: true, At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, evt := range events {
		data, err := Marshal(evt)
		req.NoError(err)
		decoded, err := Unmarshal(data)
		req.NoError(err)
		req.Equal(evt, decoded)
	}
}

func TestCodec_UnknownEnvelope(t *testing.T) {
	req := require.New(t)
	_, err := Unmarshal([]byte(`{"type":"message.exploded","data":{}}`))
	req.Error(err)
}

func TestCreatedSubject(t *testing.T) {
	req := require.New(t)
	req.Equal(SubjectCreatedPrivate, CreatedSubject(message.KindPrivate))
	req.Equal(SubjectCreatedGroup, CreatedSubject(message.KindGroup))
}
