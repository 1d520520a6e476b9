package arbiter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dotsetgreg/addressbot/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
	prompts []string
}

func (p *scriptedProvider) Chat(_ context.Context, messages []providers.Message, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(messages) > 0 {
		p.prompts = append(p.prompts, messages[len(messages)-1].Content)
	}
	if p.err != nil {
		return nil, p.err
	}
	return &providers.LLMResponse{Content: p.content}, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "test" }

func newTestArbiter(p providers.LLMProvider) *Arbiter {
	return New(p, Options{BotName: "이리와", Aliases: []string{"리와", "봇"}})
}

func TestClassify_FillerWithoutHistoryIsLocalNotCalled(t *testing.T) {
	for _, text := range []string{"음", "?", "ㅋㅋㅋ", "흐음", "뭐?", "ㅇㅇㄴㅇ", "", "？"} {
		t.Run(text, func(t *testing.T) {
			p := &scriptedProvider{content: "CALLED: YES\nANSWER: 왜"}
			d := newTestArbiter(p).Classify(context.Background(), Request{Speaker: "철수", Text: text})

			assert.Equal(t, NotCalled, d.Status)
			assert.True(t, d.Local)
			assert.Zero(t, p.calls, "filler must not reach the model")
		})
	}
}

func TestClassify_AffirmativeAfterClarificationIsForcedCalled(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: NO\nREASON: 짧은 대답"}
	d := newTestArbiter(p).Classify(context.Background(), Request{
		Speaker:              "철수",
		Text:                 "ㅇㅇ",
		LastBotTurn:          "나한테 물어본거?",
		AwaitingConfirmation: true,
	})

	assert.Equal(t, Called, d.Status)
	assert.Equal(t, 1, p.calls, "the model still drafts the answer")
	assert.Empty(t, d.Clarification)
}

func TestClassify_AffirmativeWithoutPendingQuestionIsFiller(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: YES"}
	d := newTestArbiter(p).Classify(context.Background(), Request{Speaker: "철수", Text: "응", LastBotTurn: "뭐?"})

	assert.Equal(t, NotCalled, d.Status)
	assert.Zero(t, p.calls)
}

func TestClassify_FillerFilterOutranksSelfMention(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: YES\nANSWER: 왜 불러"}
	d := newTestArbiter(p).Classify(context.Background(), Request{Speaker: "철수", Text: "?", SelfMentioned: true})

	assert.Equal(t, NotCalled, d.Status)
	assert.True(t, d.Local)
	assert.Zero(t, p.calls)
}

func TestClassify_FillerFilterOutranksBotName(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: YES\nANSWER: 응"}
	d := newTestArbiter(p).Classify(context.Background(), Request{Speaker: "철수", Text: "봇?"})

	assert.Equal(t, NotCalled, d.Status)
	assert.Zero(t, p.calls)
}

func TestClassify_BareSelfMentionReachesModel(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: YES\nANSWER: 왜 불러"}
	d := newTestArbiter(p).Classify(context.Background(), Request{Speaker: "철수", Text: "", SelfMentioned: true})

	assert.Equal(t, Called, d.Status)
	assert.Equal(t, "왜 불러", d.Answer)
	assert.Equal(t, 1, p.calls)
}

func TestClassify_CalledAnswerIsClamped(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: YES\nREASON: 이름 언급\nANSWER: 하나.\n\n둘.\n셋. 넷. 다섯."}
	d := newTestArbiter(p).Classify(context.Background(), Request{Speaker: "철수", Text: "이리와 설명해줘"})

	require.Equal(t, Called, d.Status)
	assert.Equal(t, "하나.\n둘. 셋.", d.Answer)
	assert.Equal(t, "이름 언급", d.Reason)
}

func TestClassify_UncertainWithoutWordingUsesRotation(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: UNCERTAIN\nCONFIRM_MSG:\nANSWER: 무시돼야 함"}
	d := newTestArbiter(p).Classify(context.Background(), Request{Speaker: "철수", Text: "키오스크 어디 있음"})

	assert.Equal(t, Uncertain, d.Status)
	assert.Contains(t, DefaultClarifications, d.Clarification)
	assert.Empty(t, d.Answer)
}

func TestClassify_UncertainRepeatingPreviousQuestionIsRephrased(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: UNCERTAIN\nCONFIRM_MSG: 나한테 물어본거?"}
	d := newTestArbiter(p).Classify(context.Background(), Request{
		Speaker:     "철수",
		Text:        "키오스크 어디 있음",
		LastBotTurn: "나한테 물어본거?",
	})

	assert.Equal(t, Uncertain, d.Status)
	assert.NotEqual(t, "나한테 물어본거?", d.Clarification)
	assert.NotEmpty(t, d.Clarification)
}

func TestClassify_FailsClosed(t *testing.T) {
	tests := []struct {
		name     string
		provider *scriptedProvider
		lastBot  string
		want     Status
	}{
		{name: "provider error without history", provider: &scriptedProvider{err: errors.New("quota")}, want: NotCalled},
		{name: "provider error continuing", provider: &scriptedProvider{err: errors.New("quota")}, lastBot: "응", want: Called},
		{name: "unparsable without history", provider: &scriptedProvider{content: "I think so"}, want: NotCalled},
		{name: "unparsable continuing", provider: &scriptedProvider{content: "I think so"}, lastBot: "응", want: Called},
		{name: "fields but no status line", provider: &scriptedProvider{content: "REASON: 모름\nANSWER: 응"}, lastBot: "응", want: Called},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestArbiter(tt.provider).Classify(context.Background(), Request{
				Speaker:     "철수",
				Text:        "이거 어떻게 해",
				LastBotTurn: tt.lastBot,
			})
			assert.Equal(t, tt.want, d.Status)
			assert.True(t, d.Degraded)
			assert.Empty(t, d.Answer)
			assert.Empty(t, d.Clarification)
		})
	}
}

func TestClassify_PromptCarriesContext(t *testing.T) {
	p := &scriptedProvider{content: "CALLED: NO"}
	a := New(p, Options{BotName: "이리와", Aliases: []string{"리와"}, Grounding: "[persona]\n고양이"})

	d := a.Classify(context.Background(), Request{
		Speaker:         "철수",
		SpeakerNickname: "nyang",
		Text:            "오늘 점심 뭐먹지",
		ChannelWindow:   []string{"영희: 배고파"},
		UserWindow:      []string{"유저: 안녕", "이리와: 응"},
		LastBotTurn:     "응",
	})

	assert.Equal(t, NotCalled, d.Status)
	require.Len(t, p.prompts, 1)
	prompt := p.prompts[0]
	assert.Contains(t, prompt, "영희: 배고파\n철수: 오늘 점심 뭐먹지")
	assert.Contains(t, prompt, "이리와: 응")
	assert.Contains(t, prompt, "'이리와', '리와'")
	assert.Contains(t, prompt, "[persona]\n고양이")
	assert.Contains(t, prompt, "nyang")
	assert.Contains(t, prompt, "3문장 이하")
	assert.True(t, strings.Index(prompt, "1. 다른 사람들끼리") < strings.Index(prompt, "2. 봇 이름"))
}

func TestLikelyAddressed(t *testing.T) {
	a := newTestArbiter(nil)

	assert.True(t, a.LikelyAddressed("리와야 뭐해", false, false))
	assert.True(t, a.LikelyAddressed("ㅇㅇ", false, true))
	assert.True(t, a.LikelyAddressed("", true, false))
	assert.False(t, a.LikelyAddressed("점심 뭐먹지", false, false))
	assert.False(t, a.LikelyAddressed("로봇 청소기 샀어", false, false))
}
