package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dotsetgreg/addressbot/pkg/accounts"
	"github.com/dotsetgreg/addressbot/pkg/arbiter"
	"github.com/dotsetgreg/addressbot/pkg/bus"
	"github.com/dotsetgreg/addressbot/pkg/generation"
	"github.com/dotsetgreg/addressbot/pkg/history"
	"github.com/dotsetgreg/addressbot/pkg/logger"
	"github.com/google/uuid"
)

// StatusNotifier shows and removes the transient "thinking" message that
// carries the cancel affordance. cancelID is the generation token ID the
// transport hands back to Registry.Cancel when the button is pressed.
type StatusNotifier interface {
	SendStatus(ctx context.Context, chatID, replyTo, text, cancelID string) (handle string, err error)
	DeleteStatus(ctx context.Context, chatID, handle string) error
}

// NicknameLookup resolves a participant's registered game nickname.
type NicknameLookup interface {
	Nickname(ctx context.Context, userID string) (string, error)
}

var statusTemplates = []string{
	"%s가 정답지를 훔쳐보는중...",
	"%s가 곰곰히 생각하는중...",
	"%s가 기억이 안나서 당황하는중...",
	"%s가 오늘 점심 메뉴를 생각하는중... 이 아니고 대답을 생각하는중...",
	"%s가 뭐라 할지 생각하는중...",
	"%s가 뭔가 말하려고 하는중...",
	"%s가 고양이 생각하는중... 이 아니고 대답을 고민중.",
}

type EngineOptions struct {
	BotName           string
	CallContextTurns  int
	ChatContextTurns  int
	PollInterval      time.Duration
	GenerationTimeout time.Duration
	FallbackAnswer    string
	ErrorAnswer       string
}

// Engine owns the shared state every session reads and writes.
type Engine struct {
	history  *history.Store
	arbiter  *arbiter.Arbiter
	registry *generation.Registry
	status   StatusNotifier
	accounts NicknameLookup
	opts     EngineOptions
}

func NewEngine(store *history.Store, arb *arbiter.Arbiter, registry *generation.Registry, opts EngineOptions) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = generation.DefaultPollInterval
	}
	if opts.FallbackAnswer == "" {
		opts.FallbackAnswer = "몰라"
	}
	if opts.ErrorAnswer == "" {
		opts.ErrorAnswer = opts.FallbackAnswer
	}
	if opts.BotName == "" {
		opts.BotName = store.AssistantLabel()
	}
	return &Engine{
		history:  store,
		arbiter:  arb,
		registry: registry,
		opts:     opts,
	}
}

func (e *Engine) SetStatusNotifier(n StatusNotifier) {
	e.status = n
}

func (e *Engine) SetNicknameLookup(l NicknameLookup) {
	e.accounts = l
}

func (e *Engine) History() *history.Store {
	return e.history
}

func (e *Engine) Registry() *generation.Registry {
	return e.registry
}

// Handle runs one message through the conversation state machine. Replies
// are handed to send; a nil send discards them but still records history.
func (e *Engine) Handle(ctx context.Context, msg bus.InboundMessage, send func(bus.OutboundMessage)) Outcome {
	s := &session{
		engine:  e,
		msg:     msg,
		send:    send,
		traceID: uuid.NewString(),
		state:   StateReceived,
	}
	return s.run(ctx)
}

func (e *Engine) statusText() string {
	tpl := statusTemplates[rand.IntN(len(statusTemplates))]
	return "⧖ **" + fmt.Sprintf(tpl, e.opts.BotName) + "**"
}

func (e *Engine) nickname(ctx context.Context, userID string) string {
	if e.accounts == nil || userID == "" {
		return ""
	}
	nick, err := e.accounts.Nickname(ctx, userID)
	if err != nil {
		if !errors.Is(err, accounts.ErrNotFound) {
			logger.WarnCF("session", "Nickname lookup failed", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
		return ""
	}
	return nick
}
