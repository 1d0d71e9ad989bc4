// Package search implements the tri-mode skill search router: keyword,
// attribute filter, and similarity retrieval fused by maximum score.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/dohr-michael/skillhub/internal/catalog"
	"github.com/dohr-michael/skillhub/internal/events"
)

// ErrUnavailable is returned when the metadata store cannot be reached
// after bounded retries. It is an infrastructure failure, never a silent
// empty result.
var ErrUnavailable = errors.New("search engine unavailable")

const storeRetryAttempts = 3

// Query describes one search request.
type Query struct {
	Text         string
	Domain       string
	Tags         []string
	MatchAllTags bool
	// Limit bounds the result list. Zero returns an empty list (not an
	// error); a negative value uses the router default.
	Limit int
}

// Router dispatches up to three retrieval modes against the metadata store
// and merges their results by skill_id, keeping the maximum normalized score.
type Router struct {
	store        catalog.MetadataStore
	index        SemanticIndex // nil disables the similarity mode
	bus          *events.Bus   // optional
	defaultLimit int
	minScore     float64
}

// NewRouter creates a search router. index and bus may be nil.
func NewRouter(store catalog.MetadataStore, index SemanticIndex, bus *events.Bus, defaultLimit int, minScore float64) *Router {
	if defaultLimit < 1 {
		defaultLimit = 5
	}
	return &Router{
		store:        store,
		index:        index,
		bus:          bus,
		defaultLimit: defaultLimit,
		minScore:     minScore,
	}
}

// Search runs the tri-mode retrieval and returns a bounded, score-ordered
// list of skill summaries.
func (r *Router) Search(ctx context.Context, q Query) ([]catalog.Summary, error) {
	if q.Limit == 0 {
		return []catalog.Summary{}, nil
	}
	limit := q.Limit
	if limit < 0 {
		limit = r.defaultLimit
	}

	// Attribute mode doubles as the candidate set for the other modes:
	// filters constrain every mode. An unknown domain simply yields an
	// empty candidate set.
	candidates, err := r.listCandidates(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []catalog.Summary{}, nil
	}

	byID := make(map[string]*catalog.SkillMetadata, len(candidates))
	scores := make(map[string]float64, len(candidates))
	filtered := q.Domain != "" || len(q.Tags) > 0

	for _, meta := range candidates {
		byID[meta.SkillID] = meta
		// Pure filter browse ranks by rating; with no query text and no
		// filters, browsing everything ranks by rating as well.
		if q.Text == "" || filtered {
			scores[meta.SkillID] = ratingScore(meta)
		}
	}

	if q.Text != "" {
		// Keyword mode
		for _, h := range keywordScores(candidates, q.Text) {
			fuse(scores, h.meta.SkillID, h.score)
		}

		// Similarity mode, degraded gracefully when the index is absent
		// or failing: keyword and attribute results are still valid.
		if r.index != nil {
			hits, err := r.index.Query(ctx, q.Text, limit*2)
			if err != nil {
				slog.Warn("similarity mode degraded", "error", err)
			}
			for _, h := range hits {
				if _, ok := byID[h.SkillID]; !ok {
					continue // outside the filtered candidate set
				}
				fuse(scores, h.SkillID, semanticScore(h.Similarity))
			}
		}
	}

	results := make([]catalog.Summary, 0, len(scores))
	for id, score := range scores {
		if q.Text != "" && score < r.minScore {
			continue
		}
		summary := byID[id].Summarize()
		summary.Score = score
		results = append(results, summary)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SkillID < results[j].SkillID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	if r.bus != nil {
		r.bus.Publish(events.NewEvent(events.EventSearchExecuted, events.SourceSearch, map[string]any{
			"query":  q.Text,
			"domain": q.Domain,
			"hits":   len(results),
		}))
	}
	return results, nil
}

// listCandidates reads the filtered candidate set from the metadata store,
// retrying a bounded number of times before surfacing ErrUnavailable.
func (r *Router) listCandidates(ctx context.Context, q Query) ([]*catalog.SkillMetadata, error) {
	filter := catalog.Filter{
		Domain:       q.Domain,
		Tags:         q.Tags,
		MatchAllTags: q.MatchAllTags,
	}

	candidates, err := retry.DoWithData(
		func() ([]*catalog.SkillMetadata, error) {
			return r.store.List(ctx, filter)
		},
		retry.Context(ctx),
		retry.Attempts(storeRetryAttempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return candidates, nil
}

// fuse keeps the maximum score per skill across modes. Score fusion, not
// summation, so a skill matching on several axes is not double-counted.
func fuse(scores map[string]float64, id string, score float64) {
	if score > scores[id] {
		scores[id] = score
	}
}

// ratingScore maps a 0-5 rating onto [0,1].
func ratingScore(meta *catalog.SkillMetadata) float64 {
	s := meta.Rating / 5.0
	if s > 1 {
		s = 1
	}
	if s < 0 {
		s = 0
	}
	return s
}

// semanticScore maps cosine similarity from [-1,1] onto [0,1].
func semanticScore(similarity float32) float64 {
	return float64(similarity+1) / 2
}
