package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dotsetgreg/addressbot/pkg/bus"
	"github.com/dotsetgreg/addressbot/pkg/config"
	"github.com/dotsetgreg/addressbot/pkg/generation"
	"github.com/dotsetgreg/addressbot/pkg/logger"
	"github.com/dotsetgreg/addressbot/pkg/utils"
)

const (
	sendTimeout  = 10 * time.Second
	messageLimit = 1500

	cancelIDPrefix  = "cancel:"
	cancelLabel     = "취소"
	cancelledNotice = "✅ 응답이 취소되었습니다."
	expiredNotice   = "이미 끝났거나 취소할 수 없는 응답입니다."
)

// Canceller flips the cancellation token behind a status message's button.
type Canceller interface {
	Cancel(id string) generation.CancelResult
}

type DiscordChannel struct {
	*BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	canceller Canceller
}

func NewDiscordChannel(cfg config.DiscordConfig, bus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", bus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

// SetCanceller wires cancel button presses to the generation registry.
func (c *DiscordChannel) SetCanceller(canceller Canceller) {
	c.canceller = canceller
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleReady)
	c.session.AddHandler(c.handleMessage)
	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	return nil
}

// Send posts msg as a reply to msg.ReplyTo when set. Long content is split
// and only the first chunk carries the reply reference.
func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("channel ID is empty")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	for i, chunk := range splitMessage(msg.Content, messageLimit) {
		data := &discordgo.MessageSend{Content: chunk}
		if i == 0 {
			data.Reference = replyReference(channelID, msg.ReplyTo)
		}
		if _, err := c.sendComplex(ctx, channelID, data); err != nil {
			return err
		}
	}

	return nil
}

// SendStatus posts the "thinking" notice with a cancel button bound to
// cancelID and returns its message ID.
func (c *DiscordChannel) SendStatus(ctx context.Context, chatID, replyTo, text, cancelID string) (string, error) {
	if !c.IsRunning() {
		return "", fmt.Errorf("discord bot not running")
	}
	sent, err := c.sendComplex(ctx, chatID, &discordgo.MessageSend{
		Content:    text,
		Components: cancelComponents(cancelID),
		Reference:  replyReference(chatID, replyTo),
	})
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

func (c *DiscordChannel) DeleteStatus(ctx context.Context, chatID, handle string) error {
	if handle == "" {
		return nil
	}
	if err := c.session.ChannelMessageDelete(chatID, handle, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete status message: %w", err)
	}
	return nil
}

func (c *DiscordChannel) sendComplex(ctx context.Context, channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	sent, err := c.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(sendCtx))
	if err != nil {
		if sendCtx.Err() != nil {
			return nil, fmt.Errorf("send message timeout: %w", sendCtx.Err())
		}
		return nil, fmt.Errorf("failed to send discord message: %w", err)
	}
	return sent, nil
}

func replyReference(channelID, messageID string) *discordgo.MessageReference {
	if messageID == "" {
		return nil
	}
	failIfMissing := false
	return &discordgo.MessageReference{
		MessageID:       messageID,
		ChannelID:       channelID,
		FailIfNotExists: &failIfMissing,
	}
}

func cancelComponents(cancelID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    cancelLabel,
					Style:    discordgo.DangerButton,
					CustomID: cancelIDPrefix + cancelID,
				},
			},
		},
	}
}

// parseCancelID extracts the token ID from a cancel button's custom ID.
func parseCancelID(customID string) (string, bool) {
	id, ok := strings.CutPrefix(customID, cancelIDPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// cancelResponse maps a cancel attempt to the interaction reply. A live
// token edits the status message in place and strips the button; anything
// else answers only the presser.
func cancelResponse(result generation.CancelResult) *discordgo.InteractionResponse {
	if result == generation.CancelApplied || result == generation.CancelAlreadySet {
		return &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    cancelledNotice,
				Components: []discordgo.MessageComponent{},
			},
		}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: expiredNotice,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// splitMessage splits long messages into chunks, preserving code block integrity
// Uses natural boundaries (newlines, spaces) and extends messages slightly to avoid breaking code blocks
func splitMessage(content string, limit int) []string {
	var messages []string

	for len(content) > 0 {
		if len(content) <= limit {
			messages = append(messages, content)
			break
		}

		msgEnd := findLastNewline(content[:limit], 200)
		if msgEnd <= 0 {
			msgEnd = findLastSpace(content[:limit], 100)
		}
		if msgEnd <= 0 {
			msgEnd = runeBoundary(content, limit)
		}

		candidate := content[:msgEnd]
		if unclosedIdx := findLastUnclosedCodeBlock(candidate); unclosedIdx >= 0 {
			extendedLimit := limit + 500
			if len(content) > extendedLimit {
				closingIdx := findNextClosingCodeBlock(content, msgEnd)
				if closingIdx > 0 && closingIdx <= extendedLimit {
					msgEnd = closingIdx
				} else {
					msgEnd = findLastNewline(content[:unclosedIdx], 200)
					if msgEnd <= 0 {
						msgEnd = findLastSpace(content[:unclosedIdx], 100)
					}
					if msgEnd <= 0 {
						msgEnd = unclosedIdx
					}
				}
			} else {
				msgEnd = len(content)
			}
		}

		if msgEnd <= 0 {
			msgEnd = runeBoundary(content, limit)
		}

		messages = append(messages, content[:msgEnd])
		content = strings.TrimSpace(content[msgEnd:])
	}

	return messages
}

// runeBoundary backs limit off to the start of a UTF-8 sequence so Hangul
// is never cut mid-character.
func runeBoundary(s string, limit int) int {
	if limit >= len(s) {
		return len(s)
	}
	for limit > 0 && s[limit]&0xC0 == 0x80 {
		limit--
	}
	return limit
}

// findLastUnclosedCodeBlock finds the last opening ``` that doesn't have a closing ```
// Returns the position of the opening ``` or -1 if all code blocks are complete
func findLastUnclosedCodeBlock(text string) int {
	count := 0
	lastOpenIdx := -1

	for i := 0; i < len(text); i++ {
		if i+2 < len(text) && text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			if count%2 == 0 {
				lastOpenIdx = i
			}
			count++
			i += 2
		}
	}

	if count%2 == 1 {
		return lastOpenIdx
	}
	return -1
}

// findNextClosingCodeBlock returns the position after the next ``` at or
// after startIdx, or -1.
func findNextClosingCodeBlock(text string, startIdx int) int {
	for i := startIdx; i < len(text); i++ {
		if i+2 < len(text) && text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			return i + 3
		}
	}
	return -1
}

func findLastNewline(s string, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func findLastSpace(s string, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == ' ' || s[i] == '\t' {
			return i
		}
	}
	return -1
}

func (c *DiscordChannel) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	status := strings.TrimSpace(c.config.StatusText)
	if status == "" {
		return
	}
	if err := s.UpdateGameStatus(0, status); err != nil {
		logger.WarnCF("discord", "Failed to set presence", map[string]any{
			"error": err.Error(),
		})
	}
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}

	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	if m.Author.ID == selfID || m.Author.Bot {
		return
	}

	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]any{
			"user_id": m.Author.ID,
		})
		return
	}

	msg, ok := toInbound(m.Message, selfID)
	if !ok {
		return
	}

	logger.DebugCF("discord", "Received message", map[string]any{
		"sender_name": msg.SenderName,
		"sender_id":   msg.SenderID,
		"preview":     utils.Truncate(msg.Content, 50),
	})

	c.HandleMessage(msg)
}

// toInbound converts a gateway message into the bus shape. Attachments are
// ignored; a message with no text is dropped.
func toInbound(m *discordgo.Message, selfID string) (bus.InboundMessage, bool) {
	if strings.TrimSpace(m.Content) == "" {
		return bus.InboundMessage{}, false
	}

	mentions := make([]bus.Mention, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		mentions = append(mentions, bus.Mention{ID: u.ID, DisplayName: userDisplayName(u, nil)})
	}

	senderName := userDisplayName(m.Author, m.Member)
	return bus.InboundMessage{
		SenderID:   m.Author.ID,
		SenderName: senderName,
		ChatID:     m.ChannelID,
		MessageID:  m.ID,
		Content:    m.Content,
		SelfID:     selfID,
		Mentions:   mentions,
		Metadata: map[string]string{
			"username":     m.Author.Username,
			"display_name": senderName,
			"guild_id":     m.GuildID,
			"is_dm":        fmt.Sprintf("%t", m.GuildID == ""),
		},
	}, true
}

// userDisplayName prefers the server nickname, then the global display
// name, then the account name.
func userDisplayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && strings.TrimSpace(member.Nick) != "" {
		return member.Nick
	}
	if strings.TrimSpace(u.GlobalName) != "" {
		return u.GlobalName
	}
	return u.Username
}

func (c *DiscordChannel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	id, ok := parseCancelID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	result := generation.CancelExpired
	if c.canceller != nil {
		result = c.canceller.Cancel(id)
	}
	logger.InfoCF("discord", "Cancel button pressed", map[string]any{
		"token":  id,
		"result": result.String(),
	})

	if err := s.InteractionRespond(i.Interaction, cancelResponse(result)); err != nil {
		logger.WarnCF("discord", "Failed to answer cancel interaction", map[string]any{
			"error": err.Error(),
		})
	}
}
