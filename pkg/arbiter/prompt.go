package arbiter

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the single classification-and-answer prompt. The
// addressing rules are an ordered list where the first match wins.
func (a *Arbiter) BuildPrompt(req Request) string {
	bot := a.opts.BotName
	names := append([]string{bot}, a.opts.Aliases...)
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			quoted = append(quoted, "'"+n+"'")
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "너는 디스코드 봇 '%s'의 호출 판정 겸 응답 시스템이다.\n", bot)
	sb.WriteString("아래 채널 대화의 마지막 메시지가 봇에게 한 말인지 판단하고, 봇에게 한 말이면 답변까지 작성해.\n\n")

	sb.WriteString("판단 규칙 (위에서부터 순서대로 보고, 처음 맞는 규칙 하나만 적용):\n")
	sb.WriteString("1. 다른 사람들끼리 대화 중이거나 불특정 다수에게 한 말 → NO (가장 중요)\n")
	fmt.Fprintf(&sb, "2. 봇 이름(%s)을 직접 부르거나 멘션함 → YES\n", strings.Join(quoted, ", "))
	sb.WriteString("3. 직전에 봇이 이 유저에게 대답했거나 확인 질문을 했고, 이어지는 질문/요청/긍정 답변 → YES\n")
	sb.WriteString("4. 봇 언급은 없지만 봇이 답할 만한 질문 (게임 정보 등) → UNCERTAIN\n")
	sb.WriteString("5. 그 외 → NO\n\n")
	sb.WriteString("주의: 단순 의문문('?', '뭐?', '왜?')이나 추임새는 이전 봇과의 대화에 대한 재질문이 아닌 이상 거의 항상 NO.\n")
	sb.WriteString("다른 유저가 갑자기 끼어들어 한 말은 누구에게 한 말인지 불분명하면 UNCERTAIN.\n\n")

	if a.opts.Grounding != "" {
		sb.WriteString("=== 참고 지식 (지식 답변은 이 내용을 최우선으로, 없는 내용이면 모른다고 단답) ===\n")
		sb.WriteString(a.opts.Grounding)
		sb.WriteString("\n\n")
	}

	sb.WriteString("답변 규칙 (YES일 때만):\n")
	fmt.Fprintf(&sb, "- %d문장 이하, 줄바꿈은 최대 %d번\n", a.opts.MaxSentences, a.opts.MaxLineBreaks)
	sb.WriteString("- 핵심만 툭툭 던지듯 짧게, 목차식 설명이나 불필요한 부연설명 금지\n\n")

	sb.WriteString("=== 채널 전체 대화 ===\n")
	for _, line := range req.ChannelWindow {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "%s: %s\n\n", req.Speaker, req.Text)

	fmt.Fprintf(&sb, "=== %s과 봇의 이전 대화 ===\n", req.Speaker)
	for _, line := range req.UserWindow {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "직전 봇→%s 응답: %s\n", req.Speaker, yesNo(req.LastBotTurn != ""))
	fmt.Fprintf(&sb, "봇의 확인 질문에 대한 답을 기다리는 중: %s\n", yesNo(req.AwaitingConfirmation))
	fmt.Fprintf(&sb, "봇 멘션 포함: %s\n", yesNo(req.SelfMentioned))
	if req.SpeakerNickname != "" {
		fmt.Fprintf(&sb, "%s의 등록된 게임 닉네임: %s\n", req.Speaker, req.SpeakerNickname)
	}
	sb.WriteString("\n")

	sb.WriteString("출력 형식 (정확히 이 형식으로):\n")
	sb.WriteString("CALLED: YES 또는 NO 또는 UNCERTAIN\n")
	sb.WriteString("CONFIRM_MSG: 확인 질문 (UNCERTAIN일 때만)\n")
	sb.WriteString("REASON: 판단 이유 (한 줄)\n")
	sb.WriteString("ANSWER: 답변 (YES일 때만, 마지막에 작성)\n\n")
	sb.WriteString("CONFIRM_MSG는 매번 같은 문장 말고 다양하게: '나한테 물어본거?', '내 얘기하는거야?', '날 부른거임?' 등\n")
	return sb.String()
}

func yesNo(v bool) string {
	if v {
		return "있음"
	}
	return "없음"
}
