package arbiter

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var affirmatives = toSet(
	"ㅇ", "ㅇㅇ", "ㅇㅇㅇ", "ㅇㅋ", "ㅇㅋㅇㅋ", "ㄱㄱ", "ㅇㅇㅇㅇ",
	"어", "응", "웅", "엉", "네", "넵", "넹", "예", "옙", "그래", "그럼", "맞아", "맞음", "좋아", "콜",
	"ok", "okay", "yes", "yeah", "yep", "yup", "y", "sure",
)

var acknowledgements = toSet(
	"ㄴ", "ㄴㄴ", "아니", "아님", "노", "no", "nope", "nah",
	"헐", "헉", "엥", "뭐", "왜", "ㅁ", "진짜", "레알", "ㄹㅇ", "오케이", "아하", "오호", "그렇구나",
	"lol", "lmao", "hmm", "hm", "uh", "um", "oh", "wow",
)

// Syllables that on their own or repeated only form interjections
// ("음", "흐음", "으음음", "오오").
var interjectionSyllables = toRuneSet("음엄흠흐으아어오우에와앗엇읏흑")

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func toRuneSet(s string) map[rune]struct{} {
	m := make(map[rune]struct{})
	for _, r := range s {
		m[r] = struct{}{}
	}
	return m
}

// canonical folds width variants, composes Hangul and lowercases so lexicon
// lookups match however the text was typed.
func canonical(text string) string {
	return strings.ToLower(strings.TrimSpace(width.Fold.String(norm.NFC.String(text))))
}

// core strips punctuation and symbols from both ends.
func core(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
}

func isInterjectionSyllable(r rune) bool {
	_, ok := interjectionSyllables[r]
	return ok
}

func isCompatJamo(r rune) bool {
	return r >= 0x3131 && r <= 0x318E
}

func onlyRunes(s string, keep func(r rune) bool) bool {
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			continue
		}
		if !keep(r) {
			return false
		}
	}
	return true
}

// IsAffirmative reports whether text is a bare agreement token such as "ㅇㅇ"
// or "응".
func IsAffirmative(text string) bool {
	_, ok := affirmatives[core(canonical(text))]
	return ok
}

// IsFiller reports whether text is a backchannel utterance that carries no
// request: an empty or punctuation-only message, jamo-only laughter or
// shorthand, a lone interjection or acknowledgement, or a one- or two-letter
// word followed by a question mark.
func IsFiller(text string) bool {
	c := canonical(text)
	word := core(c)
	if word == "" {
		return true
	}
	if strings.ContainsAny(word, " \t\n") {
		return false
	}
	if _, ok := affirmatives[word]; ok {
		return true
	}
	if _, ok := acknowledgements[word]; ok {
		return true
	}
	if onlyRunes(word, isCompatJamo) {
		return true
	}
	if onlyRunes(word, isInterjectionSyllable) {
		return true
	}
	return strings.HasSuffix(c, "?") && len([]rune(word)) <= 2
}

// MentionsName reports whether any of names starts a word in text, compared
// after canonical folding. Particles may follow the name ("리와야"), but a
// name inside a longer word ("로봇" for "봇") does not count.
func MentionsName(text string, names ...string) bool {
	c := canonical(text)
	for _, n := range names {
		if n = canonical(n); n != "" && startsWord(c, n) {
			return true
		}
	}
	return false
}

func startsWord(text, word string) bool {
	for from := 0; from < len(text); {
		idx := strings.Index(text[from:], word)
		if idx < 0 {
			return false
		}
		at := from + idx
		prev, _ := utf8.DecodeLastRuneInString(text[:at])
		if at == 0 || !(unicode.IsLetter(prev) || unicode.IsDigit(prev)) {
			return true
		}
		from = at + len(word)
	}
	return false
}
