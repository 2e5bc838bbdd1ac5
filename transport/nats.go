// Package transport owns the outbound push targets and the inbound
// subject surface. One payload format is shared by both pushers: the
// JSON form of the message record.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/0rooe/chat/domain/message"
)

// Push targets. Unicast goes to one subject per live connection, group
// traffic to a single logical channel per group; subscriber fan-out
// inside a group is the messaging layer's job, not ours.
const (
	DirectSubjectFormat = "chat.messages.%s"
	GroupSubjectFormat  = "chat.group.%d"
)

type NATSPusher struct {
	nc  *nats.Conn
	log *slog.Logger
}

func NewNATSPusher(nc *nats.Conn, log *slog.Logger) *NATSPusher {
	return &NATSPusher{nc: nc, log: log}
}

func (p *NATSPusher) PushDirect(_ context.Context, connectionID string, msg message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.nc.Publish(fmt.Sprintf(DirectSubjectFormat, connectionID), data)
}

func (p *NATSPusher) PushGroup(_ context.Context, groupID int64, msg message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.nc.Publish(fmt.Sprintf(GroupSubjectFormat, groupID), data)
}
