package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/addressbot/pkg/arbiter"
	"github.com/dotsetgreg/addressbot/pkg/bus"
	"github.com/dotsetgreg/addressbot/pkg/generation"
	"github.com/dotsetgreg/addressbot/pkg/history"
	"github.com/dotsetgreg/addressbot/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
	block   bool
	started chan struct{}
}

func (p *fakeProvider) Chat(ctx context.Context, _ []providers.Message, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	p.mu.Lock()
	p.calls++
	block, content, err := p.block, p.content, p.err
	started := p.started
	p.mu.Unlock()

	if block {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &providers.LLMResponse{Content: content}, nil
}

func (p *fakeProvider) GetDefaultModel() string { return "fake" }

func (p *fakeProvider) set(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = content
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeStatus struct {
	mu      sync.Mutex
	texts   []string
	deleted []string
	ids     chan string
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{ids: make(chan string, 8)}
}

func (f *fakeStatus) SendStatus(_ context.Context, _, _, text, cancelID string) (string, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	f.ids <- cancelID
	return "status-" + cancelID, nil
}

func (f *fakeStatus) DeleteStatus(_ context.Context, _, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, handle)
	return nil
}

func (f *fakeStatus) counts() (sent, deleted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts), len(f.deleted)
}

type replies struct {
	mu  sync.Mutex
	out []bus.OutboundMessage
}

func (r *replies) send(m bus.OutboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, m)
}

func (r *replies) all() []bus.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.OutboundMessage(nil), r.out...)
}

func newTestEngine(p providers.LLMProvider) *Engine {
	store := history.NewStore(history.DefaultLimits(), history.Labels{Participant: "유저", Assistant: "이리와"})
	arb := arbiter.New(p, arbiter.Options{BotName: "이리와", Aliases: []string{"리와"}})
	return NewEngine(store, arb, generation.NewRegistry(time.Minute), EngineOptions{
		BotName:          "이리와",
		CallContextTurns: 25,
		ChatContextTurns: 16,
		PollInterval:     5 * time.Millisecond,
		FallbackAnswer:   "몰라",
		ErrorAnswer:      "서버 오류거나 한도 다씀",
	})
}

func inbound(user, name, text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "discord",
		SenderID:   user,
		SenderName: name,
		ChatID:     "c1",
		MessageID:  "m-" + user,
		Content:    text,
		SelfID:     "999",
	}
}

func TestEngine_UncertainRecordsClarificationPair(t *testing.T) {
	p := &fakeProvider{content: "CALLED: UNCERTAIN\nCONFIRM_MSG: 나한테 물어본거?"}
	e := newTestEngine(p)
	r := &replies{}
	msg := inbound("u1", "철수", "키오스크 어디 있음")

	out := e.Handle(context.Background(), msg, r.send)

	assert.Equal(t, StateResolvedClarify, out.State)
	assert.Equal(t, "나한테 물어본거?", out.Reply)
	require.Len(t, r.all(), 1)
	assert.Equal(t, "m-u1", r.all()[0].ReplyTo)

	keys := keysFor(msg)
	turns := e.History().UserEntries(keys.User)
	require.Len(t, turns, 2)
	assert.Equal(t, history.UserTurn{Role: history.RoleUser, Text: "키오스크 어디 있음"}, turns[0])
	assert.Equal(t, history.UserTurn{Role: history.RoleBot, Text: "나한테 물어본거?", Clarification: true}, turns[1])

	channel := e.History().ChannelEntries(keys.Channel)
	require.Len(t, channel, 2)
	assert.Equal(t, "철수", channel[0].Speaker)
	assert.Equal(t, "이리와", channel[1].Speaker)
	assert.True(t, e.History().AwaitingConfirmation(keys.User, keys.Channel))
}

func TestEngine_AffirmativeAfterClarificationAnswers(t *testing.T) {
	p := &fakeProvider{content: "CALLED: UNCERTAIN\nCONFIRM_MSG: 나한테 물어본거?"}
	e := newTestEngine(p)
	status := newFakeStatus()
	e.SetStatusNotifier(status)
	r := &replies{}

	e.Handle(context.Background(), inbound("u1", "철수", "키오스크 어디 있음"), r.send)
	p.set("CALLED: YES\nANSWER: 키오스크는 맵 곳곳에 있어.")
	out := e.Handle(context.Background(), inbound("u1", "철수", "ㅇㅇ"), r.send)

	assert.Equal(t, StateResolvedAnswer, out.State)
	assert.Equal(t, "키오스크는 맵 곳곳에 있어.", out.Reply)
	assert.Len(t, r.all(), 2)

	sent, deleted := status.counts()
	assert.Equal(t, 1, sent, "status shown only once the bot awaited confirmation")
	assert.Equal(t, 1, deleted)
	assert.Len(t, e.History().UserEntries(keysFor(inbound("u1", "", "")).User), 4)
}

func TestEngine_FillerStaysSilent(t *testing.T) {
	p := &fakeProvider{content: "CALLED: YES\nANSWER: 왜"}
	e := newTestEngine(p)
	r := &replies{}

	for _, text := range []string{"음", "?"} {
		msg := inbound("u1", "철수", text)
		out := e.Handle(context.Background(), msg, r.send)
		assert.Equal(t, StateResolvedSilent, out.State)
	}

	assert.Empty(t, r.all())
	assert.Zero(t, p.callCount())
	keys := keysFor(inbound("u1", "", ""))
	assert.Equal(t, 2, e.History().ChannelLen(keys.Channel), "inbound lines are always recorded")
	assert.Zero(t, e.History().UserLen(keys.User))
}

func TestEngine_CancelBeforeResolveWritesNothing(t *testing.T) {
	p := &fakeProvider{block: true, started: make(chan struct{})}
	e := newTestEngine(p)
	status := newFakeStatus()
	e.SetStatusNotifier(status)
	r := &replies{}
	msg := inbound("u1", "철수", "이리와 카티야 알려줘")

	go func() {
		id := <-status.ids
		<-p.started
		assert.Equal(t, generation.CancelApplied, e.Registry().Cancel(id))
	}()

	out := e.Handle(context.Background(), msg, r.send)

	assert.Equal(t, StateResolvedCancelled, out.State)
	assert.Empty(t, r.all())
	keys := keysFor(msg)
	assert.Equal(t, 1, e.History().ChannelLen(keys.Channel))
	assert.Zero(t, e.History().UserLen(keys.User))
	_, deleted := status.counts()
	assert.Zero(t, deleted, "the transport turns the status into the cancelled notice")
	assert.Zero(t, e.Registry().Live())
}

func TestEngine_ShutdownDuringClassificationStaysSilent(t *testing.T) {
	p := &fakeProvider{block: true, started: make(chan struct{})}
	e := newTestEngine(p)
	r := &replies{}
	msg := inbound("u1", "철수", "이거 어떻게 해")
	keys := keysFor(msg)
	e.History().RecordExchange(keys.User, "안녕", "응", false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-p.started
		cancel()
	}()

	out := e.Handle(ctx, msg, r.send)

	assert.Equal(t, StateResolvedSilent, out.State)
	assert.Empty(t, r.all())
	assert.Equal(t, 2, e.History().UserLen(keys.User))
	assert.Zero(t, e.Registry().Live())
}

func TestEngine_GenerationTimeoutFailsClosed(t *testing.T) {
	p := &fakeProvider{block: true}
	e := newTestEngine(p)
	e.opts.GenerationTimeout = 20 * time.Millisecond
	r := &replies{}
	msg := inbound("u1", "철수", "이거 어떻게 해")
	e.History().RecordExchange(keysFor(msg).User, "안녕", "응", false)

	out := e.Handle(context.Background(), msg, r.send)

	assert.Equal(t, StateResolvedAnswer, out.State)
	assert.True(t, out.Decision.Degraded)
	assert.Equal(t, "서버 오류거나 한도 다씀", out.Reply)
}

func TestEngine_EmptyAnswerUsesFallback(t *testing.T) {
	p := &fakeProvider{content: "CALLED: YES\nANSWER:"}
	e := newTestEngine(p)
	r := &replies{}

	out := e.Handle(context.Background(), inbound("u1", "철수", "이리와 뭐해"), r.send)

	assert.Equal(t, StateResolvedAnswer, out.State)
	assert.Equal(t, "몰라", out.Reply)
}

func TestEngine_ProviderFailureFailsClosed(t *testing.T) {
	p := &fakeProvider{err: errors.New("quota")}
	e := newTestEngine(p)
	r := &replies{}

	out := e.Handle(context.Background(), inbound("u1", "철수", "이거 어떻게 해"), r.send)
	assert.Equal(t, StateResolvedSilent, out.State)
	assert.True(t, out.Decision.Degraded)

	keys := keysFor(inbound("u1", "", ""))
	e.History().RecordExchange(keys.User, "안녕", "응", false)

	out = e.Handle(context.Background(), inbound("u1", "철수", "이거 어떻게 해"), r.send)
	assert.Equal(t, StateResolvedAnswer, out.State)
	assert.Equal(t, "서버 오류거나 한도 다씀", out.Reply)
}

func TestEngine_SelfMentionOnlyIsAValidUtterance(t *testing.T) {
	p := &fakeProvider{content: "CALLED: YES\nANSWER: 왜 불러"}
	e := newTestEngine(p)
	r := &replies{}
	msg := inbound("u1", "철수", "<@999>")

	out := e.Handle(context.Background(), msg, r.send)

	assert.Equal(t, StateResolvedAnswer, out.State)
	assert.Equal(t, 1, p.callCount())
	entries := e.History().ChannelEntries(keysFor(msg).Channel)
	require.NotEmpty(t, entries)
	assert.Equal(t, "", entries[0].Text)
}

func TestEngine_MentionsAreRenderedInHistory(t *testing.T) {
	p := &fakeProvider{content: "CALLED: NO"}
	e := newTestEngine(p)
	msg := inbound("u1", "철수", "<@42> 밥 먹자")
	msg.Mentions = []bus.Mention{{ID: "42", DisplayName: "영희"}}

	e.Handle(context.Background(), msg, nil)

	entries := e.History().ChannelEntries(keysFor(msg).Channel)
	require.Len(t, entries, 1)
	assert.Equal(t, "@영희 밥 먹자", entries[0].Text)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "RESOLVED_CANCELLED", StateResolvedCancelled.String())
	assert.True(t, StateResolvedSilent.Terminal())
	assert.False(t, StateClassified.Terminal())
}
