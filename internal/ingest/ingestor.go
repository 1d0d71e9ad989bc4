package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/dohr-michael/skillhub/internal/catalog"
	"github.com/dohr-michael/skillhub/internal/events"
)

// Index is the writable side of the semantic index. Indexing failures
// degrade search, they never fail ingestion.
type Index interface {
	Upsert(ctx context.Context, skillID, searchableText string, meta map[string]string) error
	Delete(ctx context.Context, skillID string) error
}

// SkillFailure is one skill that could not be synchronized.
type SkillFailure struct {
	SkillID string `json:"skill_id"`
	Dir     string `json:"dir,omitempty"`
	Error   string `json:"error"`
}

// Report summarizes one synchronization pass.
type Report struct {
	Ingested int            `json:"ingested"`
	Removed  int            `json:"removed"`
	Failed   []SkillFailure `json:"failed,omitempty"`
}

// Ingestor writes scanned skills into the record stores and the index.
type Ingestor struct {
	meta  catalog.MetadataStore
	files catalog.FileStore
	index Index       // optional
	bus   *events.Bus // optional
}

// NewIngestor creates an ingestor. index and bus may be nil.
func NewIngestor(meta catalog.MetadataStore, files catalog.FileStore, index Index, bus *events.Bus) *Ingestor {
	return &Ingestor{meta: meta, files: files, index: index, bus: bus}
}

// SyncOptions controls one synchronization pass.
type SyncOptions struct {
	// PruneOrphans removes stored skills absent from the scanned set.
	// Incremental passes over a sub-folder must leave unrelated skills
	// untouched, so pruning is opt-in.
	PruneOrphans bool
	// Progress, when set, receives a note after each processed skill.
	Progress func(msg string)
}

// Sync upserts every scanned skill and, when pruning is requested,
// removes store records whose directory disappeared. One bad skill never
// aborts the pass; failures accumulate in the report.
func (ing *Ingestor) Sync(ctx context.Context, result *ScanResult, opts SyncOptions) (*Report, error) {
	report := &Report{}
	for _, skipped := range result.Skipped {
		slog.Warn("skill skipped", "dir", skipped.Dir, "error", skipped.Err)
		report.Failed = append(report.Failed, SkillFailure{Dir: skipped.Dir, Error: skipped.Err.Error()})
	}

	total := len(result.Skills)
	present := make(map[string]bool, total)
	for i, skill := range result.Skills {
		present[skill.Metadata.SkillID] = true
		if err := ing.writeSkill(ctx, skill); err != nil {
			slog.Warn("skill ingestion failed", "skill", skill.Metadata.SkillID, "error", err)
			report.Failed = append(report.Failed, SkillFailure{
				SkillID: skill.Metadata.SkillID, Dir: skill.Dir, Error: err.Error(),
			})
		} else {
			report.Ingested++
		}
		if opts.Progress != nil {
			opts.Progress(fmt.Sprintf("synchronized %d/%d skills", i+1, total))
		}
	}

	if opts.PruneOrphans {
		removed, err := ing.removeOrphans(ctx, present)
		if err != nil {
			return report, err
		}
		report.Removed = removed
	}

	slog.Info("skills synchronized", "ingested", report.Ingested, "removed", report.Removed, "failed", len(report.Failed))
	return report, nil
}

func (ing *Ingestor) writeSkill(ctx context.Context, skill ScannedSkill) error {
	meta := skill.Metadata

	err := retry.Do(
		func() error { return ing.meta.Upsert(ctx, meta) },
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}

	err = retry.Do(
		func() error { return ing.files.ReplaceAll(ctx, meta.SkillID, skill.Files) },
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("replace files: %w", err)
	}

	if ing.index != nil {
		if err := ing.index.Upsert(ctx, meta.SkillID, meta.SearchableText, map[string]string{
			"domain": meta.Domain,
			"rating": strconv.FormatFloat(meta.Rating, 'f', -1, 64),
		}); err != nil {
			// Search degrades to keyword-only for this skill.
			slog.Warn("semantic indexing failed", "skill", meta.SkillID, "error", err)
		}
	}

	ing.publish(events.EventSkillIngested, meta.SkillID, len(skill.Files))
	return nil
}

// removeOrphans deletes every stored skill absent from the scanned set.
func (ing *Ingestor) removeOrphans(ctx context.Context, present map[string]bool) (int, error) {
	stored, err := ing.meta.List(ctx, catalog.Filter{})
	if err != nil {
		return 0, fmt.Errorf("list stored skills: %w", err)
	}

	removed := 0
	for _, meta := range stored {
		if present[meta.SkillID] {
			continue
		}
		if err := ing.files.DeleteAll(ctx, meta.SkillID); err != nil {
			return removed, fmt.Errorf("delete files of %s: %w", meta.SkillID, err)
		}
		if err := ing.meta.Delete(ctx, meta.SkillID); err != nil {
			return removed, fmt.Errorf("delete metadata of %s: %w", meta.SkillID, err)
		}
		if ing.index != nil {
			if err := ing.index.Delete(ctx, meta.SkillID); err != nil {
				slog.Warn("semantic index removal failed", "skill", meta.SkillID, "error", err)
			}
		}
		ing.publish(events.EventSkillRemoved, meta.SkillID, 0)
		removed++
	}
	return removed, nil
}

func (ing *Ingestor) publish(t events.EventType, skillID string, files int) {
	if ing.bus == nil {
		return
	}
	payload := map[string]any{"skill_id": skillID}
	if files > 0 {
		payload["files"] = files
	}
	ing.bus.Publish(events.NewEvent(t, events.SourceIngest, payload))
}
