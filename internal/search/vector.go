package search

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "skillhub_skills"

// SemanticHit is a single similarity result from the semantic index.
type SemanticHit struct {
	SkillID    string
	Similarity float32
}

// SemanticIndex is the similarity-mode contract the router depends on.
// A nil index disables the similarity mode.
type SemanticIndex interface {
	Query(ctx context.Context, text string, n int) ([]SemanticHit, error)
}

// VectorIndex wraps chromem-go for the skills similarity index. It indexes
// each skill's searchable_text under its skill_id.
type VectorIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	embed      chromem.EmbeddingFunc
}

// NewVectorIndex creates a persistent vector index in the given directory.
func NewVectorIndex(dir string, embed chromem.EmbeddingFunc) (*VectorIndex, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	return newVectorIndex(db, embed)
}

// NewMemoryVectorIndex creates a non-persistent index, used in tests and
// when no vector directory is configured.
func NewMemoryVectorIndex(embed chromem.EmbeddingFunc) (*VectorIndex, error) {
	return newVectorIndex(chromem.NewDB(), embed)
}

func newVectorIndex(db *chromem.DB, embed chromem.EmbeddingFunc) (*VectorIndex, error) {
	col, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}
	return &VectorIndex{db: db, collection: col, embed: embed}, nil
}

// Upsert adds or updates one skill document in the index.
func (vi *VectorIndex) Upsert(ctx context.Context, skillID, searchableText string, meta map[string]string) error {
	// chromem-go's Add overwrites an existing ID
	return vi.collection.Add(ctx, []string{skillID}, nil, []map[string]string{meta}, []string{searchableText})
}

// Delete removes one skill document from the index.
func (vi *VectorIndex) Delete(ctx context.Context, skillID string) error {
	return vi.collection.Delete(ctx, nil, nil, skillID)
}

// Query performs a similarity search over the indexed skills.
func (vi *VectorIndex) Query(ctx context.Context, text string, n int) ([]SemanticHit, error) {
	if vi.collection.Count() == 0 {
		return nil, nil
	}
	if n > vi.collection.Count() {
		n = vi.collection.Count()
	}

	results, err := vi.collection.Query(ctx, text, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make([]SemanticHit, len(results))
	for i, r := range results {
		out[i] = SemanticHit{SkillID: r.ID, Similarity: r.Similarity}
	}
	return out, nil
}

// Count returns the number of indexed skills.
func (vi *VectorIndex) Count() int {
	return vi.collection.Count()
}

// Reset drops and recreates the collection. Used by teardown.
func (vi *VectorIndex) Reset() error {
	if err := vi.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	col, err := vi.db.GetOrCreateCollection(collectionName, nil, vi.embed)
	if err != nil {
		return fmt.Errorf("recreate collection: %w", err)
	}
	vi.collection = col
	return nil
}

var _ SemanticIndex = (*VectorIndex)(nil)
