package arbiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullResponse(t *testing.T) {
	d, err := Parse("CALLED: YES\nCONFIRM_MSG: \nREASON: 이름 언급\nANSWER: 첫 줄\n둘째 줄")
	require.NoError(t, err)

	assert.Equal(t, Called, d.Status)
	assert.Equal(t, "이름 언급", d.Reason)
	assert.Equal(t, "첫 줄\n둘째 줄", d.Answer)
	assert.Empty(t, d.Clarification)
}

func TestParse_Lenient(t *testing.T) {
	raw := "```\n**Called:** uncertain (애매함)\n- confirm_msg: \"날 부른거임?\"\nCATEGORIES: NONE\n```"
	d, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, Uncertain, d.Status)
	assert.Equal(t, "날 부른거임?", d.Clarification)
}

func TestParse_MissingFieldsDefault(t *testing.T) {
	d, err := Parse("CALLED: maybe-not")
	require.NoError(t, err)

	assert.Equal(t, NotCalled, d.Status)
	assert.Empty(t, d.Answer)
	assert.Empty(t, d.Reason)
}

func TestParse_AnswerTakesEveryFollowingLine(t *testing.T) {
	d, err := Parse("CALLED: YES\nREASON: 이름 언급\nANSWER: 첫 줄이야.\nReason: 이것도 답변 본문\nCalled: NO 라고 쓰면 안돼\nANSWER: 여전히 답변")
	require.NoError(t, err)

	assert.Equal(t, Called, d.Status)
	assert.Equal(t, "이름 언급", d.Reason)
	assert.Equal(t, "첫 줄이야.\nReason: 이것도 답변 본문\nCalled: NO 라고 쓰면 안돼\nANSWER: 여전히 답변", d.Answer)
}

func TestParse_FieldsAfterAnswerDoNotCountAsStatus(t *testing.T) {
	_, err := Parse("ANSWER: 응\nCALLED: YES")
	assert.ErrorIs(t, err, ErrNoStatus)
}

func TestParse_NoStatus(t *testing.T) {
	_, err := Parse("ANSWER: 응")
	assert.ErrorIs(t, err, ErrNoStatus)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrNoStatus)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, Called, ParseStatus("YES"))
	assert.Equal(t, Called, ParseStatus(" yes."))
	assert.Equal(t, Uncertain, ParseStatus("UNCERTAIN"))
	assert.Equal(t, NotCalled, ParseStatus("NO"))
	assert.Equal(t, NotCalled, ParseStatus(""))
	assert.Equal(t, "NOT_CALLED", NotCalled.String())
}
