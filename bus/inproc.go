package bus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/0rooe/chat/contract"
	"github.com/0rooe/chat/domain/event"
)

const (
	maxRedeliveries = 5
	redeliveryDelay = 50 * time.Millisecond
)

// InProc is the single-process bus. Events pass through the same
// envelope codec as the JetStream variant so both sides exercise the
// wire format, and handlers see the same at-least-once contract:
// a failing handler gets the event redelivered, up to a bound.
//
// Queues must be registered (via Consume) before the events they care
// about are published; there is no replay.
type InProc struct {
	mu     sync.RWMutex
	log    *slog.Logger
	buffer int
	queues map[string]*inprocQueue
}

type inprocQueue struct {
	subjects []string
	ch       chan []byte
}

func NewInProc(log *slog.Logger, buffer int) *InProc {
	return &InProc{log: log, buffer: buffer, queues: make(map[string]*inprocQueue)}
}

// Publish encodes the event and enqueues it on every matching queue.
// It blocks when a queue is full rather than dropping: publish returns
// only once the event is safely enqueued everywhere.
func (b *InProc) Publish(ctx context.Context, subject string, evt event.DeliveryEvent) error {
	data, err := Marshal(evt)
	if err != nil {
		return err
	}

	b.mu.RLock()
	var targets []*inprocQueue
	for _, q := range b.queues {
		for _, pattern := range q.subjects {
			if matchSubject(pattern, subject) {
				targets = append(targets, q)
				break
			}
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		b.log.Debug("No consumer for subject, event dropped", "subject", subject)
		return nil
	}
	for _, q := range targets {
		select {
		case q.ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Consume drains the named queue until ctx is done. A handler error
// triggers redelivery after a short delay; after maxRedeliveries the
// event is dropped with an error log so one poison event cannot wedge
// the queue.
func (b *InProc) Consume(ctx context.Context, durable string, subjects []string, h contract.EventHandler) error {
	q := b.queue(durable, subjects)
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-q.ch:
			evt, err := Unmarshal(data)
			if err != nil {
				b.log.Error("Undecodable event dropped", "queue", durable, "error", err)
				continue
			}
			b.deliver(ctx, durable, evt, h)
		}
	}
}

func (b *InProc) deliver(ctx context.Context, durable string, evt event.DeliveryEvent, h contract.EventHandler) {
	for attempt := 0; attempt <= maxRedeliveries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(redeliveryDelay):
			}
		}
		err := h(ctx, evt)
		if err == nil {
			return
		}
		b.log.Warn("Handler failed, redelivering", "queue", durable, "attempt", attempt+1, "error", err)
	}
	b.log.Error("Event dropped after max redeliveries", "queue", durable)
}

func (b *InProc) queue(durable string, subjects []string) *inprocQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[durable]; ok {
		return q
	}
	q := &inprocQueue{subjects: subjects, ch: make(chan []byte, b.buffer)}
	b.queues[durable] = q
	return q
}

// matchSubject implements NATS-style token matching: '*' matches one
// token, '>' the rest of the subject.
func matchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, token := range pt {
		if token == ">" {
			return true
		}
		if i >= len(st) {
			return false
		}
		if token != "*" && token != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
