package arbiter

import (
	"errors"
	"strings"
)

// ErrNoStatus is returned by Parse when the response has no CALLED line.
var ErrNoStatus = errors.New("arbiter: response has no CALLED field")

type field int

const (
	fieldCalled field = iota + 1
	fieldConfirm
	fieldAnswer
	fieldReason
	fieldOther
)

var fieldNames = map[string]field{
	"CALLED":      fieldCalled,
	"CONFIRM_MSG": fieldConfirm,
	"CONFIRM":     fieldConfirm,
	"ANSWER":      fieldAnswer,
	"REASON":      fieldReason,
	"CATEGORIES":  fieldOther,
}

// Parse reads the line-oriented model response. Field names are matched
// case-insensitively and may carry markdown emphasis. ANSWER is the last
// field: every line after its marker belongs to the answer, even one that
// looks like a field. Missing fields stay empty.
func Parse(raw string) (Decision, error) {
	var d Decision
	var answer []string
	seen := false
	inAnswer := false

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		if inAnswer {
			answer = append(answer, strings.TrimRight(line, " \t"))
			continue
		}

		if f, value, ok := splitField(trimmed); ok {
			switch f {
			case fieldCalled:
				d.Status = ParseStatus(value)
				seen = true
			case fieldConfirm:
				d.Clarification = unquote(value)
			case fieldAnswer:
				inAnswer = true
				if value != "" {
					answer = append(answer, value)
				}
			case fieldReason:
				d.Reason = value
			}
		}
	}

	if !seen {
		return Decision{}, ErrNoStatus
	}
	d.Answer = strings.TrimSpace(strings.Join(answer, "\n"))
	return d, nil
}

func splitField(line string) (field, string, bool) {
	line = strings.TrimLeft(line, "-*#> ")
	idx := strings.IndexAny(line, ":：")
	if idx <= 0 {
		return 0, "", false
	}
	name := strings.ToUpper(strings.TrimSpace(strings.Trim(line[:idx], "*`_ ")))
	f, ok := fieldNames[name]
	if !ok {
		return 0, "", false
	}
	rest := line[idx:]
	if strings.HasPrefix(rest, "：") {
		rest = rest[len("："):]
	} else {
		rest = rest[1:]
	}
	return f, strings.TrimSpace(strings.TrimLeft(rest, "*` ")), true
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"「", "」"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			return strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}
