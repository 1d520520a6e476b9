package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/addressbot/pkg/logger"
)

const (
	defaultBufferSize = 100
	publishTimeout    = 100 * time.Millisecond
)

// MessageBus decouples chat channels from the conversation loop. Publishing
// never blocks longer than publishTimeout; messages that cannot be queued in
// time are dropped and counted.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	closed   bool
	dropped  droppedCounters
	mu       sync.RWMutex
}

type droppedCounters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithBuffer(defaultBufferSize)
}

func NewMessageBusWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	if !enqueue(mb.inbound, msg) {
		n := mb.dropped.inbound.Add(1)
		logger.WarnCF("bus", "Dropped inbound message", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"dropped": n,
		})
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return dequeue(ctx, mb.inbound)
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	if !enqueue(mb.outbound, msg) {
		n := mb.dropped.outbound.Add(1)
		logger.WarnCF("bus", "Dropped outbound message", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"dropped": n,
		})
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return dequeue(ctx, mb.outbound)
}

func enqueue[T any](ch chan T, msg T) bool {
	select {
	case ch <- msg:
		return true
	default:
	}
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return true
	case <-timer.C:
		return false
	}
}

func dequeue[T any](ctx context.Context, ch chan T) (T, bool) {
	var zero T
	select {
	case msg, ok := <-ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.dropped.inbound.Load()
}

func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.dropped.outbound.Load()
}

// Stats reports queue depth and drop counters for the status command.
func (mb *MessageBus) Stats() map[string]interface{} {
	return map[string]interface{}{
		"inbound_queued":   len(mb.inbound),
		"outbound_queued":  len(mb.outbound),
		"inbound_dropped":  mb.DroppedInbound(),
		"outbound_dropped": mb.DroppedOutbound(),
	}
}
