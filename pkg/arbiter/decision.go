// Package arbiter decides whether a chat message is addressed to the bot and
// drafts the reply when it is.
package arbiter

import "strings"

type Status int

const (
	NotCalled Status = iota
	Called
	Uncertain
)

func (s Status) String() string {
	switch s {
	case Called:
		return "CALLED"
	case Uncertain:
		return "UNCERTAIN"
	default:
		return "NOT_CALLED"
	}
}

// ParseStatus maps a CALLED field value to a Status by its first word.
// Anything unrecognised is NotCalled.
func ParseStatus(v string) Status {
	words := strings.Fields(v)
	if len(words) == 0 {
		return NotCalled
	}
	switch strings.ToUpper(strings.Trim(words[0], "*`'\".,()")) {
	case "YES", "CALLED", "TRUE", "Y":
		return Called
	case "UNCERTAIN", "MAYBE", "UNSURE":
		return Uncertain
	default:
		return NotCalled
	}
}

// Decision is the classification of one inbound message. It is never stored.
// Reason is the model's one-line justification and is only logged. Degraded
// marks the fail-closed fallback; Local marks a decision made without calling
// the model.
type Decision struct {
	Status        Status
	Clarification string
	Answer        string
	Reason        string
	Degraded      bool
	Local         bool
}

// Request carries everything Classify looks at for one message.
type Request struct {
	Speaker              string
	SpeakerNickname      string
	Text                 string
	SelfMentioned        bool
	ChannelWindow        []string
	UserWindow           []string
	LastBotTurn          string
	AwaitingConfirmation bool
}

// Fallback is the fail-closed decision used when the model cannot be
// consulted: a continuation is assumed only if the bot spoke to this
// participant before.
func Fallback(req Request) Decision {
	d := Decision{Status: NotCalled, Degraded: true}
	if req.LastBotTurn != "" {
		d.Status = Called
	}
	return d
}
