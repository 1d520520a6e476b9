// Package mention rewrites Discord addressing tokens into a transport-neutral
// form before messages reach history or the arbiter.
package mention

import (
	"regexp"
	"strings"
)

// Mention is one participant referenced by the raw message.
type Mention struct {
	ID          string
	DisplayName string
}

// Result is the normalized form of a raw message.
type Result struct {
	SelfMentioned bool
	Text          string
}

// userToken matches <@123> and the legacy nickname form <@!123>.
var userToken = regexp.MustCompile(`<@!?(\d+)>`)

var spaceRun = regexp.MustCompile(`[ \t]{2,}`)

// Normalize strips every self-mention, replaces other known participants'
// tokens with "@displayname" and tidies the whitespace that is left behind.
// Tokens for IDs missing from mentions are kept verbatim.
func Normalize(raw, selfID string, mentions []Mention) Result {
	names := make(map[string]string, len(mentions))
	for _, m := range mentions {
		if m.ID == "" {
			continue
		}
		name := strings.TrimSpace(m.DisplayName)
		if name == "" {
			continue
		}
		names[m.ID] = name
	}

	self := false
	text := userToken.ReplaceAllStringFunc(raw, func(tok string) string {
		id := userToken.FindStringSubmatch(tok)[1]
		if selfID != "" && id == selfID {
			self = true
			return ""
		}
		if name, ok := names[id]; ok {
			return "@" + name
		}
		return tok
	})

	if self {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		}
		text = strings.Join(lines, "\n")
	}

	return Result{
		SelfMentioned: self,
		Text:          strings.TrimSpace(text),
	}
}
