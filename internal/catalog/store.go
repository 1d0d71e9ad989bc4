package catalog

import (
	"context"
	"errors"
)

var (
	// ErrSkillNotFound is returned when a skill_id has no metadata record.
	ErrSkillNotFound = errors.New("skill not found")
)

// Filter holds attribute criteria for store-side skill selection.
// Zero values mean "no constraint".
type Filter struct {
	Domain       string
	Tags         []string
	MatchAllTags bool
}

// MetadataStore is the metadata half of the record stores. Schema is owned
// here; the backing engine only has to satisfy this contract.
type MetadataStore interface {
	Upsert(ctx context.Context, meta *SkillMetadata) error
	Get(ctx context.Context, skillID string) (*SkillMetadata, error)
	List(ctx context.Context, filter Filter) ([]*SkillMetadata, error)
	ListByDomain(ctx context.Context, domain string) ([]*SkillMetadata, error)
	Delete(ctx context.Context, skillID string) error
	Count(ctx context.Context) (int, error)
	RecordExecution(ctx context.Context, skillID string, success bool) error
}

// FileStore is the file half of the record stores. Re-ingestion replaces the
// whole file set for a skill; files are never partially updated.
type FileStore interface {
	ReplaceAll(ctx context.Context, skillID string, files []SkillFile) error
	ListFiles(ctx context.Context, skillID string) ([]SkillFile, error)
	DeleteAll(ctx context.Context, skillID string) error
}
