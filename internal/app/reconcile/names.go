package reconcile

import (
	"sort"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ─── Payer Name Similarity ──────────────────────────────────────────────────

// tokenTypoRatio is the edit ratio at which two single tokens count as the
// same word ("perez" / "peres").
const tokenTypoRatio = 0.8

// foldAccents strips combining marks so "Pérez" and "Perez" compare equal.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// nameTokens lower-cases, folds accents and splits on anything that is not
// a letter or digit. Single-character tokens (initials) are dropped.
func nameTokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(foldAccents(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func editRatio(a, b string) float64 {
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

// nameSimilarity compares two person/company names. It returns the larger of
// the token Dice overlap and the edit ratio of the sorted token strings, and
// ok = false when either side carries no usable tokens.
func nameSimilarity(a, b string) (sim float64, ok bool) {
	ta, tb := nameTokens(a), nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0, false
	}

	set := make(map[string]bool, len(tb))
	for _, t := range tb {
		set[t] = true
	}
	shared := 0
	seen := make(map[string]bool, len(ta))
	for _, t := range ta {
		if set[t] && !seen[t] {
			shared++
		}
		seen[t] = true
	}
	dice := 2 * float64(shared) / float64(len(seen)+len(set))

	sort.Strings(ta)
	sort.Strings(tb)
	ratio := editRatio(strings.Join(ta, " "), strings.Join(tb, " "))

	if ratio > dice {
		return ratio, true
	}
	return dice, true
}

// descriptionSimilarity is the share of the payer's name tokens found in a
// free-text bank description, tolerating single-token typos.
func descriptionSimilarity(description, payer string) (sim float64, ok bool) {
	pt, dt := nameTokens(payer), nameTokens(description)
	if len(pt) == 0 || len(dt) == 0 {
		return 0, false
	}
	hits := 0
	for _, p := range pt {
		for _, d := range dt {
			if p == d || editRatio(p, d) >= tokenTypoRatio {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(pt)), true
}
