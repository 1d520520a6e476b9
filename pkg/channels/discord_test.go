package channels

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/dotsetgreg/addressbot/pkg/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage_ShortContentIsOneChunk(t *testing.T) {
	assert.Equal(t, []string{"짧은 답"}, splitMessage("짧은 답", messageLimit))
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	first := strings.Repeat("a", 80)
	second := strings.Repeat("b", 80)
	chunks := splitMessage(first+"\n"+second, 100)

	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0])
	assert.Equal(t, second, chunks[1])
}

func TestSplitMessage_NeverCutsHangulMidRune(t *testing.T) {
	content := strings.Repeat("가", 200)
	chunks := splitMessage(content, 100)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk), "chunk %q is not valid UTF-8", chunk)
		assert.LessOrEqual(t, len(chunk), 100)
	}
	assert.Equal(t, content, strings.Join(chunks, ""))
}

func TestSplitMessage_KeepsCodeBlockTogether(t *testing.T) {
	code := "```\n" + strings.Repeat("x ", 40) + "\n```"
	content := strings.Repeat("y", 60) + "\n" + code
	chunks := splitMessage(content, 100)

	for _, chunk := range chunks {
		assert.Equal(t, 0, strings.Count(chunk, "```")%2, "chunk %q splits a code block", chunk)
	}
}

func TestParseCancelID(t *testing.T) {
	id, ok := parseCancelID("cancel:abc-123")
	assert.True(t, ok)
	assert.Equal(t, "abc-123", id)

	_, ok = parseCancelID("cancel:")
	assert.False(t, ok)
	_, ok = parseCancelID("other:abc")
	assert.False(t, ok)
}

func TestCancelComponents(t *testing.T) {
	components := cancelComponents("tok-1")
	require.Len(t, components, 1)

	row, ok := components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 1)

	button, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, "cancel:tok-1", button.CustomID)
	assert.Equal(t, discordgo.DangerButton, button.Style)
	assert.Equal(t, cancelLabel, button.Label)
}

func TestCancelResponse(t *testing.T) {
	for _, result := range []generation.CancelResult{generation.CancelApplied, generation.CancelAlreadySet} {
		resp := cancelResponse(result)
		assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
		assert.Equal(t, cancelledNotice, resp.Data.Content)
		assert.Empty(t, resp.Data.Components)
	}

	resp := cancelResponse(generation.CancelExpired)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
}

func TestReplyReference(t *testing.T) {
	assert.Nil(t, replyReference("c1", ""))

	ref := replyReference("c1", "m1")
	require.NotNil(t, ref)
	assert.Equal(t, "m1", ref.MessageID)
	assert.Equal(t, "c1", ref.ChannelID)
	require.NotNil(t, ref.FailIfNotExists)
	assert.False(t, *ref.FailIfNotExists)
}

func TestToInbound(t *testing.T) {
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "<@999> <@42> 뭐해",
		Author:    &discordgo.User{ID: "7", Username: "cheolsu", GlobalName: "철수"},
		Member:    &discordgo.Member{Nick: "철수짱"},
		Mentions: []*discordgo.User{
			{ID: "999", Username: "addressbot"},
			{ID: "42", Username: "younghee", GlobalName: "영희"},
		},
	}

	msg, ok := toInbound(m, "999")
	require.True(t, ok)
	assert.Equal(t, "7", msg.SenderID)
	assert.Equal(t, "철수짱", msg.SenderName)
	assert.Equal(t, "c1", msg.ChatID)
	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, "999", msg.SelfID)
	require.Len(t, msg.Mentions, 2)
	assert.Equal(t, "addressbot", msg.Mentions[0].DisplayName)
	assert.Equal(t, "영희", msg.Mentions[1].DisplayName)
	assert.Equal(t, "false", msg.Metadata["is_dm"])
}

func TestToInbound_DropsEmptyContent(t *testing.T) {
	_, ok := toInbound(&discordgo.Message{Content: "  ", Author: &discordgo.User{ID: "7"}}, "999")
	assert.False(t, ok)
}
