package arbiter

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/addressbot/pkg/logger"
	"github.com/dotsetgreg/addressbot/pkg/providers"
	"github.com/dotsetgreg/addressbot/pkg/utils"
)

const (
	DefaultMaxSentences  = 3
	DefaultMaxLineBreaks = 1
)

// DefaultClarifications is the rotation used when the model asks for
// confirmation without wording it, or repeats the previous question verbatim.
var DefaultClarifications = []string{
	"나한테 말하는 거야?",
	"나한테 물어본거?",
	"내 얘기하는거야?",
	"날 부른거임?",
	"혹시 나 부른 거야?",
}

type Options struct {
	BotName        string
	Aliases        []string
	Model          string
	MaxTokens      int
	Temperature    float64
	Grounding      string
	MaxSentences   int
	MaxLineBreaks  int
	Clarifications []string
}

// Arbiter classifies messages with one model call each, short-circuiting
// filler locally and failing closed when the model cannot be used.
type Arbiter struct {
	provider providers.LLMProvider
	opts     Options
	next     atomic.Uint64
}

func New(provider providers.LLMProvider, opts Options) *Arbiter {
	if opts.MaxSentences <= 0 {
		opts.MaxSentences = DefaultMaxSentences
	}
	if opts.MaxLineBreaks <= 0 {
		opts.MaxLineBreaks = DefaultMaxLineBreaks
	}
	if len(opts.Clarifications) == 0 {
		opts.Clarifications = DefaultClarifications
	}
	return &Arbiter{provider: provider, opts: opts}
}

// LikelyAddressed is a cheap pre-check used to decide whether to show a
// progress indicator before the model has answered.
func (a *Arbiter) LikelyAddressed(text string, selfMentioned, awaiting bool) bool {
	return selfMentioned || awaiting || a.namesBot(text)
}

func (a *Arbiter) namesBot(text string) bool {
	return MentionsName(text, append([]string{a.opts.BotName}, a.opts.Aliases...)...)
}

// Classify never returns an error: provider failures and unreadable
// responses become the fallback decision. The filler filter runs first,
// ahead of any addressing signal; only a message that was nothing but a
// mention of the bot is exempt, since it has no text left to judge.
func (a *Arbiter) Classify(ctx context.Context, req Request) Decision {
	forced := false
	bareMention := req.SelfMentioned && strings.TrimSpace(req.Text) == ""
	if !bareMention && IsFiller(req.Text) {
		if !req.AwaitingConfirmation || !IsAffirmative(req.Text) {
			logger.DebugCF("arbiter", "Filler message ignored", map[string]interface{}{
				"speaker": req.Speaker,
				"text":    req.Text,
			})
			return Decision{Status: NotCalled, Reason: "filler", Local: true}
		}
		forced = true
	}

	if a.provider == nil {
		return Fallback(req)
	}

	opts := map[string]interface{}{}
	if a.opts.MaxTokens > 0 {
		opts["max_tokens"] = a.opts.MaxTokens
	}
	if a.opts.Temperature > 0 {
		opts["temperature"] = a.opts.Temperature
	}

	resp, err := a.provider.Chat(ctx, providers.UserPrompt(a.BuildPrompt(req)), a.opts.Model, opts)
	if err != nil {
		logger.WarnCF("arbiter", "Classification call failed, using fallback", map[string]interface{}{
			"speaker": req.Speaker,
			"error":   err.Error(),
		})
		return Fallback(req)
	}

	d, err := Parse(resp.Content)
	if err != nil {
		logger.WarnCF("arbiter", "Unreadable classification, using fallback", map[string]interface{}{
			"speaker":  req.Speaker,
			"response": utils.Truncate(resp.Content, 200),
		})
		return Fallback(req)
	}
	if forced {
		d.Status = Called
	}

	switch d.Status {
	case Called:
		d.Clarification = ""
		d.Answer = Clamp(d.Answer, a.opts.MaxSentences, a.opts.MaxLineBreaks)
	case Uncertain:
		d.Answer = ""
		d.Clarification = a.clarification(d.Clarification, req.LastBotTurn)
	default:
		d.Clarification = ""
		d.Answer = ""
	}

	logger.DebugCF("arbiter", "Message classified", map[string]interface{}{
		"speaker": req.Speaker,
		"status":  d.Status.String(),
		"reason":  d.Reason,
		"forced":  forced,
	})
	return d
}

// clarification keeps the model's wording unless it is empty or identical to
// the previous bot turn, in which case the next rotation entry is used.
func (a *Arbiter) clarification(proposed, lastBotTurn string) string {
	proposed = strings.TrimSpace(proposed)
	if proposed != "" && proposed != lastBotTurn {
		return proposed
	}
	list := a.opts.Clarifications
	for range list {
		c := list[a.next.Add(1)%uint64(len(list))]
		if c != lastBotTurn {
			return c
		}
	}
	return list[0]
}
