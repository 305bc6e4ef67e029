// Package dedup decides whether an externally sourced wrestler or match is
// already known to the remote store.
package dedup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"

	"github.com/thefortaiagency/aether-insight/internal/models"
)

// Classification thresholds on the similarity score
const (
	MatchedThreshold = 0.95
	ReviewThreshold  = 0.70
)

// WeightMismatchPenalty scales a wrestler's score when both sides carry a
// weight class and they differ. An exact name at another weight lands in
// the review band instead of matching.
const WeightMismatchPenalty = 0.9

// Normalize folds a name for comparison: accents removed, lowercase,
// punctuation dropped, whitespace collapsed.
func Normalize(name string) string {
	decomposed := norm.NFD.String(name)
	var b strings.Builder
	b.Grow(len(decomposed))
	space := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			space = true
		default:
			// punctuation joins ("O'Brien" -> "obrien")
		}
	}
	return b.String()
}

// Similarity is 1 - edit distance / longer length over normalized names.
// Two empty names are identical.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// Classify maps a similarity score to an outcome
func Classify(score float64) models.DedupOutcome {
	switch {
	case score > MatchedThreshold:
		return models.OutcomeMatched
	case score >= ReviewThreshold:
		return models.OutcomeNeedsReview
	}
	return models.OutcomeNew
}
