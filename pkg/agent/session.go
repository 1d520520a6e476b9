package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/addressbot/pkg/arbiter"
	"github.com/dotsetgreg/addressbot/pkg/bus"
	"github.com/dotsetgreg/addressbot/pkg/generation"
	"github.com/dotsetgreg/addressbot/pkg/logger"
	"github.com/dotsetgreg/addressbot/pkg/mention"
	"github.com/dotsetgreg/addressbot/pkg/utils"
)

// State is a step of the per-message conversation state machine.
type State int

const (
	StateReceived State = iota
	StateClassified
	StateResolvedSilent
	StateResolvedClarify
	StateResolvedAnswer
	StateResolvedCancelled
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateClassified:
		return "CLASSIFIED"
	case StateResolvedSilent:
		return "RESOLVED_SILENT"
	case StateResolvedClarify:
		return "RESOLVED_CLARIFY"
	case StateResolvedAnswer:
		return "RESOLVED_ANSWER"
	case StateResolvedCancelled:
		return "RESOLVED_CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateResolvedSilent
}

// Outcome is what a session reports back once it reaches a terminal state.
type Outcome struct {
	TraceID  string
	State    State
	Decision arbiter.Decision
	Reply    string
}

// session drives one inbound message from RECEIVED to a terminal state.
// Every side effect after classification is guarded by the cancellation
// token, so a session that observed a cancel writes nothing further.
type session struct {
	engine  *Engine
	msg     bus.InboundMessage
	send    func(bus.OutboundMessage)
	traceID string
	state   State

	channelKey string
	userKey    string
	speaker    string
	text       string

	token        *generation.Token
	statusHandle string
}

func (s *session) transition(next State) {
	logger.DebugCF("session", "State transition", map[string]interface{}{
		"trace_id": s.traceID,
		"from":     s.state.String(),
		"to":       next.String(),
	})
	s.state = next
}

func (s *session) run(ctx context.Context) Outcome {
	e := s.engine
	keys := keysFor(s.msg)
	s.channelKey = keys.Channel
	s.userKey = keys.User
	s.speaker = speakerName(s.msg)

	norm := mention.Normalize(s.msg.Content, s.msg.SelfID, toMentions(s.msg.Mentions))
	s.text = norm.Text

	// The windows are taken before the inbound line is recorded so the
	// prompt shows the current message exactly once.
	req := arbiter.Request{
		Speaker:              s.speaker,
		SpeakerNickname:      e.nickname(ctx, s.msg.SenderID),
		Text:                 s.text,
		SelfMentioned:        norm.SelfMentioned,
		ChannelWindow:        e.history.WindowChannel(s.channelKey, e.opts.CallContextTurns),
		UserWindow:           e.history.WindowUser(s.userKey, e.opts.ChatContextTurns),
		LastBotTurn:          e.history.LastBotTurn(s.userKey),
		AwaitingConfirmation: e.history.AwaitingConfirmation(s.userKey, s.channelKey),
	}
	e.history.RecordChannel(s.channelKey, s.speaker, s.text)

	logger.InfoCF("session", fmt.Sprintf("Message from %s: %s", s.speaker, utils.Truncate(s.text, 80)),
		map[string]interface{}{
			"trace_id":       s.traceID,
			"channel":        s.msg.Channel,
			"chat_id":        s.msg.ChatID,
			"sender_id":      s.msg.SenderID,
			"self_mentioned": norm.SelfMentioned,
		})

	s.token = e.registry.Issue()
	defer e.registry.Release(s.token.ID())

	if e.arbiter.LikelyAddressed(s.text, norm.SelfMentioned, req.AwaitingConfirmation) {
		s.showStatus(ctx)
	}

	runCtx := ctx
	if e.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.GenerationTimeout)
		defer cancel()
	}

	decision, err := generation.Run(runCtx, s.token, e.opts.PollInterval, func(ctx context.Context) (arbiter.Decision, error) {
		return e.arbiter.Classify(ctx, req), nil
	})
	if errors.Is(err, generation.ErrCancelled) || s.token.Cancelled() {
		return s.cancelled()
	}
	if ctx.Err() != nil {
		return s.abandoned(ctx)
	}
	if err != nil {
		logger.WarnCF("session", "Classification did not finish, failing closed", map[string]interface{}{
			"trace_id": s.traceID,
			"error":    err.Error(),
		})
		decision = arbiter.Fallback(req)
	}
	s.transition(StateClassified)

	return s.resolve(ctx, decision)
}

func (s *session) resolve(ctx context.Context, d arbiter.Decision) Outcome {
	e := s.engine
	out := Outcome{TraceID: s.traceID, Decision: d}

	switch d.Status {
	case arbiter.Uncertain:
		if s.token.Cancelled() {
			return s.cancelled()
		}
		s.reply(d.Clarification)
		e.history.RecordExchange(s.userKey, s.text, d.Clarification, true)
		e.history.RecordChannelClarification(s.channelKey, d.Clarification)
		out.Reply = d.Clarification
		s.transition(StateResolvedClarify)

	case arbiter.Called:
		answer := strings.TrimSpace(d.Answer)
		if answer == "" {
			answer = e.opts.FallbackAnswer
			if d.Degraded {
				answer = e.opts.ErrorAnswer
			}
		}
		if s.token.Cancelled() {
			return s.cancelled()
		}
		s.reply(answer)
		e.history.RecordExchange(s.userKey, s.text, answer, false)
		e.history.RecordChannel(s.channelKey, e.history.AssistantLabel(), answer)
		out.Reply = answer
		s.transition(StateResolvedAnswer)

	default:
		s.transition(StateResolvedSilent)
	}

	s.clearStatus(ctx)
	out.State = s.state

	logger.InfoCF("session", "Message resolved", map[string]interface{}{
		"trace_id": s.traceID,
		"state":    out.State.String(),
		"status":   d.Status.String(),
		"reason":   d.Reason,
		"degraded": d.Degraded,
	})
	return out
}

// abandoned resolves silently when the caller's context ended, which is
// how a shutdown reaches in-flight sessions. Only a generation timeout is
// treated as a failed classification.
func (s *session) abandoned(ctx context.Context) Outcome {
	s.transition(StateResolvedSilent)
	s.clearStatus(ctx)
	logger.InfoCF("session", "Session abandoned before classification finished", map[string]interface{}{
		"trace_id": s.traceID,
		"chat_id":  s.msg.ChatID,
		"error":    ctx.Err().Error(),
	})
	return Outcome{TraceID: s.traceID, State: StateResolvedSilent}
}

func (s *session) cancelled() Outcome {
	s.transition(StateResolvedCancelled)
	logger.InfoCF("session", "Generation cancelled by user", map[string]interface{}{
		"trace_id": s.traceID,
		"chat_id":  s.msg.ChatID,
	})
	return Outcome{TraceID: s.traceID, State: StateResolvedCancelled}
}

func (s *session) reply(text string) {
	if s.send == nil || text == "" {
		return
	}
	s.send(bus.OutboundMessage{
		Channel: s.msg.Channel,
		ChatID:  s.msg.ChatID,
		ReplyTo: s.msg.MessageID,
		Content: text,
	})
}

func (s *session) showStatus(ctx context.Context) {
	notifier := s.engine.status
	if notifier == nil {
		return
	}
	handle, err := notifier.SendStatus(ctx, s.msg.ChatID, s.msg.MessageID, s.engine.statusText(), s.token.ID())
	if err != nil {
		logger.WarnCF("session", "Failed to send status message", map[string]interface{}{
			"trace_id": s.traceID,
			"error":    err.Error(),
		})
		return
	}
	s.statusHandle = handle
}

func (s *session) clearStatus(ctx context.Context) {
	if s.engine.status == nil || s.statusHandle == "" {
		return
	}
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.engine.status.DeleteStatus(delCtx, s.msg.ChatID, s.statusHandle); err != nil {
		logger.WarnCF("session", "Failed to delete status message", map[string]interface{}{
			"trace_id": s.traceID,
			"error":    err.Error(),
		})
	}
}

func toMentions(in []bus.Mention) []mention.Mention {
	if len(in) == 0 {
		return nil
	}
	out := make([]mention.Mention, 0, len(in))
	for _, m := range in {
		out = append(out, mention.Mention{ID: m.ID, DisplayName: m.DisplayName})
	}
	return out
}

func speakerName(msg bus.InboundMessage) string {
	if name := strings.TrimSpace(msg.SenderName); name != "" {
		return name
	}
	if name := strings.TrimSpace(msg.Metadata["display_name"]); name != "" {
		return name
	}
	return msg.SenderID
}
