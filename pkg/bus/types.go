package bus

// Mention is a user referenced inside a message, as resolved by the channel.
type Mention struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// InboundMessage is one chat message observed by a channel.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name"`
	ChatID     string            `json:"chat_id"`
	MessageID  string            `json:"message_id"`
	Content    string            `json:"content"`
	SelfID     string            `json:"self_id,omitempty"`
	Mentions   []Mention         `json:"mentions,omitempty"`
	IsCommand  bool              `json:"is_command,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
}

// OutboundMessage is text to deliver to a chat. ReplyTo, when set, makes the
// channel send it as a reply to that message.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	ReplyTo string `json:"reply_to,omitempty"`
	Content string `json:"content"`
}
