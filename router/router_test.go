package router

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/0rooe/chat/bus"
	"github.com/0rooe/chat/domain/event"
	"github.com/0rooe/chat/domain/message"
	cherrors "github.com/0rooe/chat/errors"
	"github.com/0rooe/chat/presence"
	"github.com/0rooe/chat/repositories"
	"github.com/0rooe/chat/transport"
)

type fixture struct {
	router   *Router
	store    *repositories.MessageStore
	bus      *bus.InProc
	registry *presence.Registry
	pusher   *transport.ChannelPusher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := slog.Default()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := repositories.NewMessageStore(db, log, 2*time.Minute)
	eventBus := bus.NewInProc(log, 32)
	registry := presence.NewRegistry(log, 32)
	pusher := transport.NewChannelPusher(log, 8)
	return fixture{
		router:   New(log, store, eventBus, registry, pusher),
		store:    store,
		bus:      eventBus,
		registry: registry,
		pusher:   pusher,
	}
}

func validDraft(sender, receiver int64) message.Draft {
	return message.Draft{
		SenderID:    sender,
		ReceiverID:  receiver,
		Content:     "hello",
		ContentType: message.ContentText,
		Kind:        message.KindPrivate,
	}
}

func TestRouter_SendToOfflineReceiver(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Nobody online: delivery is deferred, the send still succeeds
	sent, err := f.router.Send(context.Background(), validDraft(1, 2))
	req.NoError(err)
	req.Equal(message.StatusSent, sent.Status)

	stored, err := f.store.Get(sent.ID)
	req.NoError(err)
	req.Equal(message.StatusSent, stored.Status)
}

func TestRouter_SendToOnlineReceiver(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	inbox := f.pusher.Attach("bob-phone")
	f.registry.Register(2, "bob-phone")

	sent, err := f.router.Send(context.Background(), validDraft(1, 2))
	req.NoError(err)
	req.Equal(message.StatusSent, sent.Status)

	select {
	case pushed := <-inbox:
		req.Equal(sent.ID, pushed.ID)
		req.Equal("hello", pushed.Content)
	case <-time.After(time.Second):
		req.Fail("Receiver connection never got the message")
	}
}

func TestRouter_MultiDeviceEcho(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	receiverInbox := f.pusher.Attach("bob-phone")
	senderTablet := f.pusher.Attach("alice-tablet")
	f.registry.Register(2, "bob-phone")
	f.registry.Register(1, "alice-tablet")

	sent, err := f.router.Send(context.Background(), validDraft(1, 2))
	req.NoError(err)

	// Both the receiver and the sender's other device get a copy
	for _, inbox := range []<-chan message.Message{receiverInbox, senderTablet} {
		select {
		case pushed := <-inbox:
			req.Equal(sent.ID, pushed.ID)
		case <-time.After(time.Second):
			req.Fail("Connection never got the message")
		}
	}
}

func TestRouter_SelfSendSkipsEcho(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	inbox := f.pusher.Attach("alice-phone")
	f.registry.Register(1, "alice-phone")

	sent, err := f.router.Send(context.Background(), validDraft(1, 1))
	req.NoError(err)

	pushed := <-inbox
	req.Equal(sent.ID, pushed.ID)

	// Exactly one copy, not one per fan-out branch
	select {
	case <-inbox:
		req.Fail("Self-send must not be pushed twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouter_GroupBroadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	member := f.pusher.Attach("clara-phone")
	f.pusher.JoinGroup(77, "clara-phone")

	draft := validDraft(1, 77)
	draft.Kind = message.KindGroup
	sent, err := f.router.Send(context.Background(), draft)
	req.NoError(err)

	select {
	case pushed := <-member:
		req.Equal(sent.ID, pushed.ID)
	case <-time.After(time.Second):
		req.Fail("Group member never got the broadcast")
	}
}

func TestRouter_SendPublishesCreatedEvent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created := make(chan event.DeliveryEvent, 1)
	go func() {
		_ = f.bus.Consume(ctx, "test-consumer", []string{bus.SubjectCreated}, func(_ context.Context, evt event.DeliveryEvent) error {
			created <- evt
			return nil
		})
	}()
	// Consumer registration must precede the publish
	time.Sleep(50 * time.Millisecond)

	sent, err := f.router.Send(ctx, validDraft(1, 2))
	req.NoError(err)

	select {
	case evt := <-created:
		createdEvt, ok := evt.(event.MessageCreated)
		req.True(ok)
		req.Equal(sent.ID, createdEvt.Message.ID)
		// The event carries the persisted state before delivery
		req.Equal(message.StatusSending, createdEvt.Message.Status)
	case <-time.After(time.Second):
		req.Fail("Created event never published")
	}
}

func TestRouter_ValidationFailures(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		description string
		modify      func(d *message.Draft)
	}{
		{"Should fail without sender", func(d *message.Draft) { d.SenderID = 0 }},
		{"Should fail without receiver", func(d *message.Draft) { d.ReceiverID = 0 }},
		{"Should fail without content", func(d *message.Draft) { d.Content = "" }},
		{"Should fail on unknown content type", func(d *message.Draft) { d.ContentType = "HOLOGRAM" }},
		{"Should fail on unknown kind", func(d *message.Draft) { d.Kind = "BROADCAST" }},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := require.New(t)
			draft := validDraft(1, 2)
			tt.modify(&draft)
			_, err := f.router.Send(context.Background(), draft)
			req.ErrorIs(err, cherrors.ErrValidation)
		})
	}
}

func TestRouter_SendEncrypted(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	sent, err := f.router.SendEncrypted(context.Background(), validDraft(1, 2))
	req.NoError(err)
	req.True(sent.Encrypted)

	stored, err := f.store.Get(sent.ID)
	req.NoError(err)
	req.True(stored.Encrypted)
}

// receiptingPusher acknowledges every direct push with a DELIVERED
// receipt before Push returns, standing in for a consumer that beats
// the SENT write.
type receiptingPusher struct {
	store *repositories.MessageStore
}

func (p *receiptingPusher) PushDirect(_ context.Context, _ string, msg message.Message) error {
	return p.store.SetStatus(msg.ID, message.StatusDelivered)
}

func (p *receiptingPusher) PushGroup(_ context.Context, _ int64, _ message.Message) error {
	return nil
}

func TestRouter_SendSurvivesFastReceipt(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	router := New(slog.Default(), f.store, f.bus, f.registry, &receiptingPusher{store: f.store})
	f.registry.Register(2, "bob-phone")

	sent, err := router.Send(context.Background(), validDraft(1, 2))
	req.NoError(err, "a delivered message must not fail the send")
	req.NotEqual(message.Message{}.ID, sent.ID)
	// The status already moved past SENT and stays there
	req.Equal(message.StatusDelivered, sent.Status)

	stored, err := f.store.Get(sent.ID)
	req.NoError(err)
	req.Equal(message.StatusDelivered, stored.Status)
}

func TestRouter_SendRefreshesSenderActivity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.registry.Register(1, "alice-phone")

	_, err := f.router.Send(context.Background(), validDraft(1, 2))
	req.NoError(err)

	// A send counts as activity: the sweep right after must keep the user
	evicted := f.registry.EvictIdle(time.Now().Add(-time.Minute))
	req.Empty(evicted)
}

func TestRouter_ConnectDisconnect(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.router.Connect(1, "conn-a")
	req.True(f.registry.IsOnline(1))

	f.router.Heartbeat(1)

	f.router.Disconnect("conn-a")
	req.False(f.registry.IsOnline(1))
}
