package command

import (
	"strings"
	"unicode"
)

// DetectWake reports whether text begins with the configured wake phrase and
// returns the remainder after it. Each wake word is matched fuzzily against
// the corresponding transcript word, so "hey assistant" also accepts
// "hey asistant". A transcript with fewer words than the wake phrase never
// matches, and neither does any transcript when no wake phrase is configured.
//
// The remainder keeps the original wording; a bare wake phrase yields ok with
// an empty remainder, which opens the conversation window without feeding
// anything downstream.
func (m *Matcher) DetectWake(text string) (rest string, ok bool) {
	if len(m.wakeWords) == 0 {
		return "", false
	}
	words := strings.Fields(text)
	if len(words) < len(m.wakeWords) {
		return "", false
	}
	for i, want := range m.wakeWords {
		if !FuzzyMatch(words[i], want) {
			return "", false
		}
	}
	rest = strings.Join(words[len(m.wakeWords):], " ")
	rest = strings.TrimLeftFunc(rest, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	return rest, true
}
