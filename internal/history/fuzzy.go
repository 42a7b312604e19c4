package history

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Similarity thresholds for fuzzy matching when no exact substring matched.
// Tokens that agree phonetically (shared Double Metaphone code) are accepted
// at a lower string-similarity bar than tokens that match on spelling alone.
const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.82
)

// FuzzyRank scores records against query and returns the matches ordered
// best first. It is the shared fallback for backends without full-text
// search: a record matches when the query is a substring of its title or
// transcript, or when any query token is phonetically or near-textually
// similar to a title token.
func FuzzyRank(records []Record, query string, limit int) []Record {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(records) == 0 {
		return nil
	}
	queryTokens := strings.Fields(query)

	type scored struct {
		rec   Record
		score float64
	}
	var matches []scored

	for _, rec := range records {
		title := strings.ToLower(rec.Title)
		text := strings.ToLower(rec.Text)

		// Substring hits rank above any fuzzy score.
		if strings.Contains(title, query) {
			matches = append(matches, scored{rec, 2})
			continue
		}
		if strings.Contains(text, query) {
			matches = append(matches, scored{rec, 1.5})
			continue
		}

		if s := bestTokenScore(queryTokens, strings.Fields(title)); s > 0 {
			matches = append(matches, scored{rec, s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Record, len(matches))
	for i, m := range matches {
		out[i] = m.rec
	}
	return out
}

// bestTokenScore returns the highest qualifying pairwise similarity between
// query and title tokens, or 0 when nothing qualifies. Tokens that share a
// Double Metaphone code qualify at phoneticThreshold; others must clear
// fuzzyThreshold on Jaro-Winkler similarity alone.
func bestTokenScore(queryTokens, titleTokens []string) float64 {
	var best float64
	for _, qt := range queryTokens {
		qp, qs := matchr.DoubleMetaphone(qt)
		for _, tt := range titleTokens {
			score := matchr.JaroWinkler(qt, tt, false)
			if score <= best {
				continue
			}
			tp, ts := matchr.DoubleMetaphone(tt)
			phonetic := (qp != "" && (qp == tp || qp == ts)) ||
				(qs != "" && (qs == tp || qs == ts))
			if (phonetic && score >= phoneticThreshold) || score >= fuzzyThreshold {
				best = score
			}
		}
	}
	return best
}
