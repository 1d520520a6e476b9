// AddressBot - addressee-aware conversation bot for shared chat channels
// License: MIT
//
// Copyright (c) 2026 AddressBot contributors

package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/addressbot/pkg/bus"
	"github.com/dotsetgreg/addressbot/pkg/config"
	"github.com/dotsetgreg/addressbot/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const discordChannelName = "discord"

// Replies addressed to these never leave the process.
var localChannels = map[string]struct{}{
	"console": {},
	"system":  {},
}

// Manager owns the transports and the goroutine that delivers outbound
// messages from the bus to them.
type Manager struct {
	bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel

	stopDispatch context.CancelFunc
	dispatchDone chan struct{}
}

// NewManager builds the Discord transport from cfg. A bot token is required.
func NewManager(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	discordCfg := cfg.Channels.Discord
	if strings.TrimSpace(discordCfg.Token) == "" {
		return nil, fmt.Errorf("channels.discord.token is required")
	}
	discord, err := NewDiscordChannel(discordCfg, messageBus)
	if err != nil {
		return nil, fmt.Errorf("initialize discord channel: %w", err)
	}

	m := newManager(messageBus)
	m.Register(discord)
	logger.InfoCF("channels", "Channels initialized", map[string]interface{}{
		"channels": m.Enabled(),
	})
	return m, nil
}

func newManager(messageBus *bus.MessageBus) *Manager {
	return &Manager{bus: messageBus, channels: make(map[string]Channel)}
}

// Register adds ch under its own name, replacing any channel of that name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Discord returns the Discord transport when it is registered.
func (m *Manager) Discord() (*DiscordChannel, bool) {
	ch, ok := m.Channel(discordChannelName)
	if !ok {
		return nil, false
	}
	discord, ok := ch.(*DiscordChannel)
	return discord, ok
}

// Enabled lists registered channel names in sorted order.
func (m *Manager) Enabled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports whether each channel is running.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch.IsRunning()
	}
	return out
}

func (m *Manager) snapshot() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// StartAll starts every channel concurrently. If any fails, the ones that
// did start are stopped again and the dispatcher is not launched.
func (m *Manager) StartAll(ctx context.Context) error {
	chans := m.snapshot()
	if len(chans) == 0 {
		logger.WarnC("channels", "No channels registered")
		return nil
	}

	var (
		startedMu sync.Mutex
		started   []Channel
		g         errgroup.Group
	)
	for _, ch := range chans {
		g.Go(func() error {
			if err := ch.Start(ctx); err != nil {
				logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
					"channel": ch.Name(),
					"error":   err.Error(),
				})
				return fmt.Errorf("%s: %w", ch.Name(), err)
			}
			startedMu.Lock()
			started = append(started, ch)
			startedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ch := range started {
			if stopErr := ch.Stop(ctx); stopErr != nil {
				logger.WarnCF("channels", "Failed to roll back channel start", map[string]interface{}{
					"channel": ch.Name(),
					"error":   stopErr.Error(),
				})
			}
		}
		return fmt.Errorf("start channels: %w", err)
	}

	m.startDispatcher(ctx)
	logger.InfoCF("channels", "Channels started", map[string]interface{}{"count": len(started)})
	return nil
}

func (m *Manager) startDispatcher(ctx context.Context) {
	m.haltDispatcher()

	dispatchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.stopDispatch = cancel
	m.dispatchDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.dispatchOutbound(dispatchCtx)
	}()
}

// haltDispatcher cancels the dispatcher and waits for it to exit.
func (m *Manager) haltDispatcher() {
	m.mu.Lock()
	cancel, done := m.stopDispatch, m.dispatchDone
	m.stopDispatch, m.dispatchDone = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// StopAll stops the dispatcher and then every channel. Stop errors are
// logged and joined into the result.
func (m *Manager) StopAll(ctx context.Context) error {
	m.haltDispatcher()

	var errs []error
	for _, ch := range m.snapshot() {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	logger.InfoC("channels", "Channels stopped")
	return errors.Join(errs...)
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.DebugC("channels", "Outbound dispatcher started")
	defer logger.DebugC("channels", "Outbound dispatcher stopped")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if _, local := localChannels[msg.Channel]; local {
			continue
		}
		if err := m.deliver(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Outbound delivery failed", map[string]interface{}{
				"channel":  msg.Channel,
				"chat_id":  msg.ChatID,
				"reply_to": msg.ReplyTo,
				"error":    err.Error(),
			})
		}
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) error {
	ch, ok := m.Channel(msg.Channel)
	if !ok {
		return fmt.Errorf("channel %s not found", msg.Channel)
	}
	return ch.Send(ctx, msg)
}

// SendToChannel delivers content directly, bypassing the bus.
func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, replyTo, content string) error {
	return m.deliver(ctx, bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		ReplyTo: replyTo,
		Content: content,
	})
}
