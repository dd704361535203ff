package command

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// CleanText normalizes s for fuzzy comparison: lower-cased, every character
// that is not a letter dropped (whitespace survives as single spaces).
// Transcription engines disagree about punctuation and casing far more than
// about the words themselves, so distances are computed over this cleaned
// form.
func CleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FuzzyMatch reports whether got is within the edit-distance budget of want.
// Both sides are cleaned first; the budget is ⌊len(want)/3⌋ with a floor of
// one edit, tolerating roughly 30% character error from the transcriber.
// Distance is classic Levenshtein: insert, delete, substitute at cost 1 each.
func FuzzyMatch(got, want string) bool {
	g, w := CleanText(got), CleanText(want)
	if w == "" {
		return g == ""
	}
	if g == w {
		return true
	}
	return matchr.Levenshtein(g, w) <= fuzzyBudget(w)
}

// fuzzyBudget returns the allowed edit distance for a cleaned expected
// string: integer division by three, never less than one.
func fuzzyBudget(want string) int {
	return max(len(want)/3, 1)
}
