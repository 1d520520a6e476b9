// AddressBot - addressee-aware conversation bot for shared chat channels
// License: MIT
//
// Copyright (c) 2026 AddressBot contributors

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/addressbot/pkg/accounts"
	"github.com/dotsetgreg/addressbot/pkg/arbiter"
	"github.com/dotsetgreg/addressbot/pkg/bus"
	"github.com/dotsetgreg/addressbot/pkg/config"
	"github.com/dotsetgreg/addressbot/pkg/generation"
	"github.com/dotsetgreg/addressbot/pkg/history"
	"github.com/dotsetgreg/addressbot/pkg/knowledge"
	"github.com/dotsetgreg/addressbot/pkg/logger"
	"github.com/dotsetgreg/addressbot/pkg/providers"
	"github.com/dotsetgreg/addressbot/pkg/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	ConsoleChannel = "console"
	consoleChatID  = "local"

	defaultMaxConcurrent = 16
)

// AgentLoop routes inbound messages: prefixed messages in command channels
// go to the command handler, everything else allowed in chat channels gets
// its own conversation session.
type AgentLoop struct {
	bus             *bus.MessageBus
	engine          *Engine
	accounts        AccountStore
	closeAccounts   func() error
	prefix          string
	chatChannels    config.FlexibleStringSlice
	commandChannels config.FlexibleStringSlice
	sem             *semaphore.Weighted
	maxConcurrent   int64
	inFlight        atomic.Int64
	wg              sync.WaitGroup
	running         atomic.Bool
	model           string
	knowledgeChars  int
}

// NewAgentLoop builds the history store, arbiter, token registry and
// account store from cfg.
func NewAgentLoop(cfg *config.Config, msgBus *bus.MessageBus, provider providers.LLMProvider) (*AgentLoop, error) {
	conv := cfg.Conversation

	store := history.NewStore(history.Limits{
		ChannelMax:  conv.ChannelMax,
		ChannelTrim: conv.ChannelTrim,
		UserMax:     conv.UserMax,
		UserTrim:    conv.UserTrim,
	}, history.Labels{
		Participant: conv.ParticipantLabel,
		Assistant:   conv.BotName,
	})

	kb, err := knowledge.Load(cfg.KnowledgePath())
	if err != nil {
		return nil, err
	}
	grounding := kb.Grounding(cfg.Knowledge.MaxChars)

	arb := arbiter.New(provider, arbiter.Options{
		BotName:     conv.BotName,
		Aliases:     conv.Aliases,
		Model:       cfg.Agents.Defaults.Model,
		MaxTokens:   cfg.Agents.Defaults.MaxTokens,
		Temperature: cfg.Agents.Defaults.Temperature,
		Grounding:   grounding,
	})

	registry := generation.NewRegistry(time.Duration(conv.CancelWindowSeconds) * time.Second)

	engine := NewEngine(store, arb, registry, EngineOptions{
		BotName:           conv.BotName,
		CallContextTurns:  conv.CallContextTurns,
		ChatContextTurns:  conv.ChatContextTurns,
		PollInterval:      time.Duration(conv.PollIntervalMS) * time.Millisecond,
		GenerationTimeout: time.Duration(conv.GenerationTimeoutSeconds) * time.Second,
		FallbackAnswer:    conv.FallbackAnswer,
		ErrorAnswer:       conv.ErrorAnswer,
	})

	acct, err := accounts.Open(cfg.AccountsDBPath(), cfg.Accounts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("open accounts store: %w", err)
	}
	engine.SetNicknameLookup(acct)

	al := newLoop(msgBus, engine, cfg.Channels.Discord, conv.MaxConcurrent)
	al.accounts = acct
	al.closeAccounts = acct.Close
	al.model = cfg.Agents.Defaults.Model
	if al.model == "" && provider != nil {
		al.model = provider.GetDefaultModel()
	}
	al.knowledgeChars = len([]rune(grounding))
	return al, nil
}

func newLoop(msgBus *bus.MessageBus, engine *Engine, discord config.DiscordConfig, maxConcurrent int) *AgentLoop {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	prefix := strings.TrimSpace(discord.CommandPrefix)
	if prefix == "" {
		prefix = "!"
	}
	return &AgentLoop{
		bus:             msgBus,
		engine:          engine,
		prefix:          prefix,
		chatChannels:    discord.ChatChannels,
		commandChannels: discord.CommandChannels,
		sem:             semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent:   int64(maxConcurrent),
	}
}

func (al *AgentLoop) Engine() *Engine {
	return al.engine
}

// SetAccountStore replaces the account store used by commands and prompts.
func (al *AgentLoop) SetAccountStore(store AccountStore) {
	al.accounts = store
	al.engine.SetNicknameLookup(store)
}

// Run consumes the bus until ctx ends or the bus closes, then waits for
// in-flight sessions to finish.
func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)
	defer al.wg.Wait()

	for al.running.Load() {
		msg, ok := al.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		al.dispatch(ctx, msg)
	}
	return nil
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
}

// Close releases the account store.
func (al *AgentLoop) Close() error {
	if al.closeAccounts == nil {
		return nil
	}
	return al.closeAccounts()
}

type route int

const (
	routeDrop route = iota
	routeCommand
	routeChat
)

func (al *AgentLoop) route(msg bus.InboundMessage) route {
	isCommand := msg.IsCommand || strings.HasPrefix(strings.TrimSpace(msg.Content), al.prefix)
	if msg.Channel == ConsoleChannel {
		if isCommand {
			return routeCommand
		}
		return routeChat
	}

	if al.commandChannels.Contains(msg.ChatID) {
		if isCommand {
			return routeCommand
		}
		return routeDrop
	}
	if isCommand {
		return routeCommand
	}
	if len(al.chatChannels) == 0 || al.chatChannels.Contains(msg.ChatID) {
		return routeChat
	}
	return routeDrop
}

func (al *AgentLoop) dispatch(ctx context.Context, msg bus.InboundMessage) {
	switch al.route(msg) {
	case routeCommand:
		if response, handled := al.handleCommand(ctx, msg); handled {
			al.bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				ReplyTo: msg.MessageID,
				Content: response,
			})
		}
	case routeChat:
		if err := al.sem.Acquire(ctx, 1); err != nil {
			return
		}
		al.wg.Add(1)
		al.inFlight.Add(1)
		go func() {
			defer al.wg.Done()
			defer al.sem.Release(1)
			defer al.inFlight.Add(-1)
			al.engine.Handle(ctx, msg, al.bus.PublishOutbound)
		}()
	default:
		logger.DebugCF("agent", "Message outside routed channels dropped", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
		})
	}
}

// ProcessDirect runs one console line synchronously and returns the reply,
// or "" when the bot stayed silent.
func (al *AgentLoop) ProcessDirect(ctx context.Context, speaker, content string) (string, Outcome) {
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		speaker = "local-user"
	}
	msg := bus.InboundMessage{
		Channel:    ConsoleChannel,
		SenderID:   speaker,
		SenderName: speaker,
		ChatID:     consoleChatID,
		MessageID:  uuid.NewString(),
		Content:    content,
	}

	if al.route(msg) == routeCommand {
		if response, handled := al.handleCommand(ctx, msg); handled {
			return response, Outcome{Reply: response}
		}
	}

	logger.DebugC("agent", fmt.Sprintf("Console line from %s: %s", speaker, utils.Truncate(content, 80)))
	var reply string
	outcome := al.engine.Handle(ctx, msg, func(out bus.OutboundMessage) {
		reply = out.Content
	})
	return reply, outcome
}

// GetStartupInfo returns what the loop was configured with, for logging.
func (al *AgentLoop) GetStartupInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":           al.model,
		"command_prefix":  al.prefix,
		"chat_channels":   len(al.chatChannels),
		"command_chans":   len(al.commandChannels),
		"max_concurrent":  al.maxConcurrent,
		"knowledge_chars": al.knowledgeChars,
		"cancel_window":   al.engine.Registry().Window().String(),
	}
}

// Stats reports live counters for the status command.
func (al *AgentLoop) Stats() map[string]interface{} {
	h := al.engine.History().Stats()
	return map[string]interface{}{
		"in_flight":      al.inFlight.Load(),
		"live_tokens":    al.engine.Registry().Live(),
		"channels":       h["channels"],
		"users":          h["users"],
		"max_concurrent": al.maxConcurrent,
	}
}
