package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/addressbot/pkg/bus"
	"github.com/dotsetgreg/addressbot/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
	got  chan struct{}
}

func newRecordingChannel(name string, mb *bus.MessageBus) *recordingChannel {
	return &recordingChannel{
		BaseChannel: NewBaseChannel(name, mb, nil),
		got:         make(chan struct{}, 8),
	}
}

func (c *recordingChannel) Start(context.Context) error {
	c.setRunning(true)
	return nil
}

func (c *recordingChannel) Stop(context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *recordingChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *recordingChannel) messages() []bus.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bus.OutboundMessage(nil), c.sent...)
}

func TestNewManager_RequiresDiscordToken(t *testing.T) {
	_, err := NewManager(config.DefaultConfig(), bus.NewMessageBus())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channels.discord.token")
}

func TestManager_DispatchesOutboundToChannel(t *testing.T) {
	mb := bus.NewMessageBus()
	m := newManager(mb)
	fake := newRecordingChannel("fake", mb)
	m.Register(fake)

	require.NoError(t, m.StartAll(context.Background()))

	mb.PublishOutbound(bus.OutboundMessage{Channel: "console", ChatID: "local", Content: "ignored"})
	mb.PublishOutbound(bus.OutboundMessage{Channel: "fake", ChatID: "c1", ReplyTo: "m1", Content: "응"})

	select {
	case <-fake.got:
	case <-time.After(2 * time.Second):
		t.Fatal("outbound message was not dispatched")
	}

	msgs := fake.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ReplyTo)
	assert.Equal(t, "응", msgs[0].Content)

	require.NoError(t, m.StopAll(context.Background()))
	assert.False(t, fake.IsRunning())
	mb.Close()
}

func TestManager_StatusAndLookup(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	m := newManager(mb)
	m.Register(newRecordingChannel("fake", mb))

	assert.Equal(t, map[string]bool{"fake": false}, m.Status())
	assert.Equal(t, []string{"fake"}, m.Enabled())

	_, ok := m.Discord()
	assert.False(t, ok)

	err := m.SendToChannel(context.Background(), "missing", "c1", "", "hi")
	assert.Error(t, err)

	m.Unregister("fake")
	_, ok = m.Channel("fake")
	assert.False(t, ok)
}

func TestBaseChannel_AllowListAndPublish(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	c := NewBaseChannel("discord", mb, []string{"@123", "alice"})

	assert.True(t, c.IsAllowed("123"))
	assert.True(t, c.IsAllowed("999|alice"))
	assert.False(t, c.IsAllowed("456"))

	assert.False(t, c.HandleMessage(bus.InboundMessage{SenderID: "456", ChatID: "c1", Content: "hi"}))
	require.True(t, c.HandleMessage(bus.InboundMessage{SenderID: "123", ChatID: "c1", Content: "hi"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "discord", msg.Channel)
	assert.Equal(t, "discord:c1", msg.SessionKey)
}

type failingChannel struct {
	*BaseChannel
}

func (c *failingChannel) Start(context.Context) error {
	return errors.New("gateway refused")
}

func (c *failingChannel) Stop(context.Context) error {
	return nil
}

func (c *failingChannel) Send(context.Context, bus.OutboundMessage) error {
	return nil
}

func TestManager_StartAllRollsBackOnFailure(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	m := newManager(mb)
	ok := newRecordingChannel("ok", mb)
	m.Register(ok)
	m.Register(&failingChannel{BaseChannel: NewBaseChannel("broken", mb, nil)})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway refused")
	assert.False(t, ok.IsRunning())
	assert.Equal(t, map[string]bool{"ok": false, "broken": false}, m.Status())
}
