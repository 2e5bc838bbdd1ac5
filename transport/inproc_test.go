package transport

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/0rooe/chat/domain/message"
)

func TestChannelPusher_PushDirect(t *testing.T) {
	req := require.New(t)
	pusher := NewChannelPusher(slog.Default(), 2)
	ctx := context.Background()

	inbox := pusher.Attach("conn-a")
	msg := message.Message{ID: uuid.New(), Content: "hi"}

	req.NoError(pusher.PushDirect(ctx, "conn-a", msg))
	req.Equal(msg.ID, (<-inbox).ID)
}

func TestChannelPusher_PushToGoneConnection(t *testing.T) {
	req := require.New(t)
	pusher := NewChannelPusher(slog.Default(), 2)
	ctx := context.Background()

	pusher.Attach("conn-a")
	pusher.Detach("conn-a")

	err := pusher.PushDirect(ctx, "conn-a", message.Message{ID: uuid.New()})
	req.Error(err)
}

func TestChannelPusher_FullBufferFailsFast(t *testing.T) {
	req := require.New(t)
	pusher := NewChannelPusher(slog.Default(), 1)
	ctx := context.Background()

	pusher.Attach("conn-a")
	req.NoError(pusher.PushDirect(ctx, "conn-a", message.Message{ID: uuid.New()}))

	// Nobody drains: the second push must fail instead of blocking
	err := pusher.PushDirect(ctx, "conn-a", message.Message{ID: uuid.New()})
	req.Error(err)
}

func TestChannelPusher_GroupBroadcast(t *testing.T) {
	req := require.New(t)
	pusher := NewChannelPusher(slog.Default(), 2)
	ctx := context.Background()

	first := pusher.Attach("conn-a")
	second := pusher.Attach("conn-b")
	outsider := pusher.Attach("conn-c")
	pusher.JoinGroup(7, "conn-a")
	pusher.JoinGroup(7, "conn-b")

	msg := message.Message{ID: uuid.New(), Kind: message.KindGroup}
	req.NoError(pusher.PushGroup(ctx, 7, msg))

	req.Equal(msg.ID, (<-first).ID)
	req.Equal(msg.ID, (<-second).ID)
	select {
	case <-outsider:
		req.Fail("Non-member must not receive the broadcast")
	default:
	}
}

func TestChannelPusher_GroupToleratesDeadMembers(t *testing.T) {
	req := require.New(t)
	pusher := NewChannelPusher(slog.Default(), 2)
	ctx := context.Background()

	alive := pusher.Attach("conn-a")
	pusher.Attach("conn-b")
	pusher.JoinGroup(7, "conn-a")
	pusher.JoinGroup(7, "conn-b")
	pusher.Detach("conn-b")

	msg := message.Message{ID: uuid.New(), Kind: message.KindGroup}
	req.NoError(pusher.PushGroup(ctx, 7, msg))
	req.Equal(msg.ID, (<-alive).ID)
}
