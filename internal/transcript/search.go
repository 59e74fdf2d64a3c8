package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Match method values recorded on a search hit.
const (
	MatchLiteral = "literal"
	MatchFuzzy   = "fuzzy"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for a fuzzy hit.
const defaultFuzzyThreshold = 0.85

// Hit is one phrase-search result.
type Hit struct {
	Segment Segment `json:"segment"`
	Method  string  `json:"method"`
	Score   float64 `json:"score"`
}

// Find locates phrase inside t, first by case-insensitive substring, then by
// fuzzy similarity over word windows. Returns false when neither stage
// produces a hit; the caller then falls through to the semantic matcher.
func Find(t *Transcript, phrase string) (Hit, bool) {
	phrase = strings.TrimSpace(phrase)
	if t == nil || phrase == "" {
		return Hit{}, false
	}

	if hit, ok := findLiteral(t, phrase); ok {
		return hit, true
	}
	return findFuzzy(t, phrase, defaultFuzzyThreshold)
}

// findLiteral returns the earliest segment containing phrase as a
// case-insensitive substring. Phrases spanning a segment boundary are caught
// by also checking each adjacent pair.
func findLiteral(t *Transcript, phrase string) (Hit, bool) {
	needle := strings.ToLower(phrase)
	for i, seg := range t.Segments {
		if strings.Contains(strings.ToLower(seg.Text), needle) {
			return Hit{Segment: seg, Method: MatchLiteral, Score: 1.0}, true
		}
		if i+1 < len(t.Segments) {
			joined := strings.ToLower(seg.Text + " " + t.Segments[i+1].Text)
			if strings.Contains(joined, needle) {
				return Hit{Segment: seg, Method: MatchLiteral, Score: 1.0}, true
			}
		}
	}
	return Hit{}, false
}

// findFuzzy slides a window of len(phrase words) words across each segment
// and keeps the best Jaro-Winkler score. Earlier segments win ties so the
// result is stable.
func findFuzzy(t *Transcript, phrase string, threshold float64) (Hit, bool) {
	phraseLower := strings.ToLower(phrase)
	windowLen := len(strings.Fields(phrase))
	if windowLen == 0 {
		return Hit{}, false
	}

	best := Hit{Method: MatchFuzzy}
	found := false
	for _, seg := range t.Segments {
		words := strings.Fields(strings.ToLower(seg.Text))
		if len(words) == 0 {
			continue
		}
		limit := len(words) - windowLen
		if limit < 0 {
			limit = 0
		}
		for start := 0; start <= limit; start++ {
			end := start + windowLen
			if end > len(words) {
				end = len(words)
			}
			window := strings.Join(words[start:end], " ")
			score := matchr.JaroWinkler(phraseLower, window, false)
			if score >= threshold && score > best.Score {
				best.Segment = seg
				best.Score = score
				found = true
			}
		}
	}
	return best, found
}
