package search

import (
	"sort"
	"strings"

	"github.com/dohr-michael/skillhub/internal/catalog"
)

// keywordHit pairs a metadata record with its raw keyword score.
type keywordHit struct {
	meta  *catalog.SkillMetadata
	score float64
}

// keywordScores runs the keyword mode over a candidate set and returns
// scores normalized to [0,1]. Scoring: tag match x3, name word match x2,
// description word match x1, plus a whole-query substring bonus on the name.
func keywordScores(candidates []*catalog.SkillMetadata, query string) []keywordHit {
	queryWords := tokenize(query)
	if len(queryWords) == 0 {
		return nil
	}
	lowerQuery := strings.ToLower(strings.TrimSpace(query))

	var hits []keywordHit
	for _, meta := range candidates {
		score := scoreMetadata(meta, queryWords, lowerQuery)
		if score <= 0 {
			continue
		}
		hits = append(hits, keywordHit{meta: meta, score: score})
	}

	// Normalize to [0,1]
	var max float64
	for _, h := range hits {
		if h.score > max {
			max = h.score
		}
	}
	if max > 0 {
		for i := range hits {
			hits[i].score /= max
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	return hits
}

func scoreMetadata(meta *catalog.SkillMetadata, queryWords []string, lowerQuery string) float64 {
	var score float64

	// Tag match x 3
	for _, tag := range meta.Tags {
		for _, qw := range queryWords {
			if tag == qw {
				score += 3.0
			}
		}
	}

	// Name word match x 2
	for _, nw := range tokenize(meta.Name) {
		for _, qw := range queryWords {
			if nw == qw {
				score += 2.0
			}
		}
	}

	// Description word match x 1
	for _, dw := range tokenize(meta.Description) {
		for _, qw := range queryWords {
			if dw == qw {
				score += 1.0
			}
		}
	}

	// Whole-query substring on the name
	if lowerQuery != "" && strings.Contains(strings.ToLower(meta.Name), lowerQuery) {
		score += 2.0
	}

	return score
}

// tokenize splits a string into lowercase words, stripping punctuation.
func tokenize(s string) []string {
	words := strings.Fields(strings.ToLower(s))
	result := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}/-_")
		if len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}
