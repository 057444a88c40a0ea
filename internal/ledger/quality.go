package ledger

import (
	"strings"
	"unicode/utf8"
)

const (
	baseQuality      = 5.0
	maxQuality       = 10.0
	indicatorBonus   = 0.5
	actionWordBonus  = 0.3
	idealLengthBonus = 1.0
	longLengthBonus  = 0.5
)

var techniqueIndicators = []string{
	"when customer says", "respond with", "technique", "strategy",
	"objection", "close", "rapport", "phrase", "approach", "method",
}

var actionWords = []string{"use", "say", "ask", "respond", "handle", "build", "create"}

// EstimateQuality scores lesson text on content alone. Each indicator or
// action word is awarded at most once however often it occurs. The result is
// always within [5, 10].
func EstimateQuality(text string) float64 {
	score := baseQuality

	n := utf8.RuneCountInString(text)
	switch {
	case n >= 20 && n <= 200:
		score += idealLengthBonus
	case n > 200:
		score += longLengthBonus
	}

	lower := strings.ToLower(text)
	for _, term := range techniqueIndicators {
		if strings.Contains(lower, term) {
			score += indicatorBonus
		}
	}
	for _, word := range actionWords {
		if strings.Contains(lower, word) {
			score += actionWordBonus
		}
	}

	if score > maxQuality {
		return maxQuality
	}
	return score
}
