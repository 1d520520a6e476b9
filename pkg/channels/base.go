package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/addressbot/pkg/bus"
)

// Channel is a chat transport the manager can start, stop and deliver to.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel carries what every transport shares: its name, the running
// flag and the sender allow list.
type BaseChannel struct {
	bus     *bus.MessageBus
	name    string
	allowed map[string]struct{}
	running atomic.Bool
}

// NewBaseChannel accepts allow list entries as IDs or usernames, with or
// without a leading "@". An empty list admits everyone.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	allowed := make(map[string]struct{}, len(allowList))
	for _, entry := range allowList {
		entry = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(entry), "@"))
		if entry != "" {
			allowed[entry] = struct{}{}
		}
	}
	return &BaseChannel{bus: msgBus, name: name, allowed: allowed}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed matches senderID, which may be the compound form "id|username",
// against the allow list.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	candidates := []string{senderID}
	if id, user, ok := strings.Cut(senderID, "|"); ok && id != "" {
		candidates = append(candidates, id, user)
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if _, ok := c.allowed[candidate]; ok {
			return true
		}
	}
	return false
}

// HandleMessage stamps the transport name onto msg and publishes it. It
// reports false when the sender is not allowed.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) bool {
	if !c.IsAllowed(msg.SenderID) {
		return false
	}
	msg.Channel = c.name
	if msg.SessionKey == "" {
		msg.SessionKey = c.name + ":" + msg.ChatID
	}
	c.bus.PublishInbound(msg)
	return true
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}
