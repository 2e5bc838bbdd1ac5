package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/0rooe/chat/domain/message"
)

// ChannelPusher delivers payloads over in-process channels. It backs
// the tests and single-binary deployments where the live connections
// are goroutines rather than sockets.
type ChannelPusher struct {
	mu      sync.RWMutex
	log     *slog.Logger
	buffer  int
	conns   map[string]chan message.Message
	groups  map[int64]map[string]struct{}
}

func NewChannelPusher(log *slog.Logger, buffer int) *ChannelPusher {
	return &ChannelPusher{
		log:    log,
		buffer: buffer,
		conns:  make(map[string]chan message.Message),
		groups: make(map[int64]map[string]struct{}),
	}
}

// Attach creates the delivery channel for a connection. Attaching an
// existing id returns the already open channel.
func (p *ChannelPusher) Attach(connectionID string) <-chan message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.conns[connectionID]; ok {
		return ch
	}
	ch := make(chan message.Message, p.buffer)
	p.conns[connectionID] = ch
	return ch
}

func (p *ChannelPusher) Detach(connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, connectionID)
	for _, members := range p.groups {
		delete(members, connectionID)
	}
}

// JoinGroup subscribes a connection to a group channel.
func (p *ChannelPusher) JoinGroup(groupID int64, connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.groups[groupID] == nil {
		p.groups[groupID] = make(map[string]struct{})
	}
	p.groups[groupID][connectionID] = struct{}{}
}

func (p *ChannelPusher) PushDirect(_ context.Context, connectionID string, msg message.Message) error {
	p.mu.RLock()
	ch, ok := p.conns[connectionID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s is gone", connectionID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("connection %s buffer full", connectionID)
	}
}

func (p *ChannelPusher) PushGroup(ctx context.Context, groupID int64, msg message.Message) error {
	p.mu.RLock()
	members := make([]string, 0, len(p.groups[groupID]))
	for id := range p.groups[groupID] {
		members = append(members, id)
	}
	p.mu.RUnlock()

	for _, id := range members {
		if err := p.PushDirect(ctx, id, msg); err != nil {
			p.log.Debug("Group push skipped one connection", "group_id", groupID, "connection_id", id, "error", err)
		}
	}
	return nil
}
