package agent

import (
	"strings"

	"github.com/dotsetgreg/addressbot/pkg/bus"
)

// conversationKeys are the history keys for one inbound message. Keys are
// namespaced by transport so a console speaker never shares history with a
// Discord user of the same ID.
type conversationKeys struct {
	Channel string
	User    string
}

func keysFor(msg bus.InboundMessage) conversationKeys {
	transport := strings.ToLower(strings.TrimSpace(msg.Channel))
	if transport == "" {
		transport = "unknown"
	}
	chat := strings.TrimSpace(msg.ChatID)
	if chat == "" {
		chat = "direct"
	}
	user := strings.TrimSpace(msg.SenderID)
	if user == "" {
		user = "anonymous"
	}
	return conversationKeys{
		Channel: transport + ":" + chat,
		User:    transport + ":" + user,
	}
}
