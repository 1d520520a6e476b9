package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dotsetgreg/addressbot/pkg/accounts"
	"github.com/dotsetgreg/addressbot/pkg/bus"
)

// AccountStore is the nickname registry behind the account commands.
type AccountStore interface {
	NicknameLookup
	Register(ctx context.Context, userID, nickname string) (previous string, err error)
	Delete(ctx context.Context, userID string) (removed string, err error)
}

const helpText = "명령어 목록\n" +
	"%[1]s등록 <닉네임> (%[1]sregister): 게임 닉네임 등록 또는 변경\n" +
	"%[1]s닉네임 (%[1]snickname): 등록된 닉네임 확인\n" +
	"%[1]s삭제 (%[1]sunregister): 등록된 닉네임 삭제\n" +
	"%[1]s도움말 (%[1]shelp): 이 목록"

// handleCommand runs a prefixed command. ok is false when content is not a
// command this loop knows, in which case the message is dropped.
func (al *AgentLoop) handleCommand(ctx context.Context, msg bus.InboundMessage) (string, bool) {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, al.prefix) {
		return "", false
	}
	content = strings.TrimSpace(strings.TrimPrefix(content, al.prefix))

	name, arg, _ := strings.Cut(content, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "등록", "register":
		if arg == "" {
			return fmt.Sprintf("사용법: %s등록 <닉네임>", al.prefix), true
		}
		if al.accounts == nil {
			return "닉네임 저장소가 설정되지 않았습니다.", true
		}
		previous, err := al.accounts.Register(ctx, msg.SenderID, arg)
		if err != nil {
			return fmt.Sprintf("등록 중 오류가 발생했습니다: %v", err), true
		}
		nick, _ := accounts.ValidateNickname(arg)
		if previous != "" {
			return fmt.Sprintf("닉네임 변경 완료: **%s** → **%s**", previous, nick), true
		}
		return fmt.Sprintf("닉네임 등록 완료: **%s** 님의 전적 검색이 간편해집니다!", nick), true

	case "닉네임", "nickname":
		if al.accounts == nil {
			return "닉네임 저장소가 설정되지 않았습니다.", true
		}
		nick, err := al.accounts.Nickname(ctx, msg.SenderID)
		if errors.Is(err, accounts.ErrNotFound) {
			return fmt.Sprintf("등록된 닉네임이 없습니다. %s등록 <닉네임> 으로 등록하세요.", al.prefix), true
		}
		if err != nil {
			return fmt.Sprintf("닉네임 조회 중 오류가 발생했습니다: %v", err), true
		}
		return fmt.Sprintf("등록된 닉네임: **%s**", nick), true

	case "삭제", "unregister":
		if al.accounts == nil {
			return "닉네임 저장소가 설정되지 않았습니다.", true
		}
		removed, err := al.accounts.Delete(ctx, msg.SenderID)
		if errors.Is(err, accounts.ErrNotFound) {
			return "❌ 등록된 닉네임이 없습니다.", true
		}
		if err != nil {
			return fmt.Sprintf("삭제 중 오류가 발생했습니다: %v", err), true
		}
		return fmt.Sprintf("닉네임 삭제 완료: **%s** 닉네임을 삭제했습니다.", removed), true

	case "도움말", "help":
		return fmt.Sprintf(helpText, al.prefix), true
	}

	return "", false
}
