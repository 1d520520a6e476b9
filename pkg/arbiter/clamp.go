package arbiter

import (
	"strings"
	"unicode"
)

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

// Clamp enforces the reply brevity contract: at most maxBreaks line breaks
// and at most maxSentences sentences. Blank lines are dropped, extra lines are
// joined with spaces, and a line break not preceded by punctuation also ends a
// sentence. A non-positive limit disables that check.
func Clamp(text string, maxSentences, maxBreaks int) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return ""
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if maxBreaks >= 0 && len(lines) > maxBreaks+1 {
		head := append([]string(nil), lines[:maxBreaks+1]...)
		head[maxBreaks] = strings.Join(lines[maxBreaks:], " ")
		lines = head
	}
	text = strings.Join(lines, "\n")

	if maxSentences <= 0 {
		return text
	}
	runes := []rune(text)
	count := 0
	for i, r := range runes {
		end := -1
		switch {
		case isTerminator(r):
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				end = i + 1
			}
		case r == '\n' && i > 0 && !isTerminator(runes[i-1]):
			end = i
		}
		if end < 0 {
			continue
		}
		count++
		if count == maxSentences {
			return strings.TrimSpace(string(runes[:end]))
		}
	}
	return text
}
