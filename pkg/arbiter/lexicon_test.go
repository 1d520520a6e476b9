package arbiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/unicode/norm"
)

func TestIsFiller(t *testing.T) {
	fillers := []string{"음", "음...", "?", "??", "ㅋㅋㅋㅋ", "ㅎㅎ", "엄", "흠", "으음", "뭐?", "왜?", "ㅁ?", "ㅇㅇ", "ㄷㄷ", "헐", "ok", "누구?", "！"}
	for _, text := range fillers {
		assert.True(t, IsFiller(text), "expected filler: %q", text)
	}

	requests := []string{"오늘 점심 뭐먹지", "키오스크 어디 있음", "이리와", "카티야 스킬 알려줘", "뭐해 지금?"}
	for _, text := range requests {
		assert.False(t, IsFiller(text), "expected request: %q", text)
	}
}

func TestIsFiller_DecomposedHangul(t *testing.T) {
	decomposed := norm.NFD.String("음")
	assert.NotEqual(t, "음", decomposed)
	assert.True(t, IsFiller(decomposed))
}

func TestIsAffirmative(t *testing.T) {
	for _, text := range []string{"ㅇㅇ", "응", "어", "네!", "그래", "OK", "yes"} {
		assert.True(t, IsAffirmative(text), "expected affirmative: %q", text)
	}
	for _, text := range []string{"아님", "ㄴㄴ", "음", "응 근데 그거 말고"} {
		assert.False(t, IsAffirmative(text), "expected not affirmative: %q", text)
	}
}

func TestMentionsName(t *testing.T) {
	assert.True(t, MentionsName("리와야 뭐함", "이리와", "리와"))
	assert.False(t, MentionsName("뭐함", "이리와", ""))
	assert.True(t, MentionsName("야 봇아 이거 봐", "봇"))
	assert.True(t, MentionsName("(봇) 뭐해", "봇"))
	assert.False(t, MentionsName("로봇 청소기 샀어", "봇"))
	assert.True(t, MentionsName("로봇 말고 봇 말이야", "봇"))
}
