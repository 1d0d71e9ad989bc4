package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleMeta(id, domain string, tags ...string) *SkillMetadata {
	return &SkillMetadata{
		SkillID:          id,
		Name:             id,
		Description:      "description of " + id,
		ShortDescription: "short " + id,
		Domain:           domain,
		Tags:             tags,
		Rating:           3.5,
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta := sampleMeta("finance/approval", "Finance", "Approval")
	if err := store.Upsert(ctx, meta); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if meta.Revision != 1 {
		t.Errorf("expected revision 1, got %d", meta.Revision)
	}

	if err := store.Upsert(ctx, sampleMeta("finance/approval", "finance", "approval")); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected exactly one record after re-upsert, got %d", n)
	}

	got, err := store.Get(ctx, "finance/approval")
	if err != nil {
		t.Fatal(err)
	}
	if got.Revision != 2 {
		t.Errorf("expected revision 2 after re-upsert, got %d", got.Revision)
	}
}

func TestUpsert_NormalizesDomainAndTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta := sampleMeta("x/y", "  INSURANCE ", "Claims", "CLAIMS", " Adjudication ")
	if err := store.Upsert(ctx, meta); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "x/y")
	if err != nil {
		t.Fatal(err)
	}
	if got.Domain != "insurance" {
		t.Errorf("expected lowercased domain, got %q", got.Domain)
	}
	if len(got.Tags) != 2 {
		t.Fatalf("expected deduplicated tags, got %v", got.Tags)
	}
	if !got.HasTag("claims") || !got.HasTag("adjudication") {
		t.Errorf("unexpected tags: %v", got.Tags)
	}
	if got.SearchableText == "" {
		t.Error("expected derived searchable_text")
	}
}

func TestGet_Missing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("expected ErrSkillNotFound, got %v", err)
	}
}

func TestListByDomain_SortedByRating(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleMeta("ops/restart", "ops")
	a.Rating = 2.0
	b := sampleMeta("ops/scale", "ops")
	b.Rating = 4.5
	c := sampleMeta("finance/approval", "finance")

	for _, m := range []*SkillMetadata{a, b, c} {
		if err := store.Upsert(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListByDomain(ctx, "OPS")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ops skills, got %d", len(got))
	}
	if got[0].SkillID != "ops/scale" || got[1].SkillID != "ops/restart" {
		t.Errorf("expected rating-descending order, got %s, %s", got[0].SkillID, got[1].SkillID)
	}
}

func TestList_TagPolicies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, sampleMeta("a", "ops", "deploy", "k8s")); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, sampleMeta("b", "ops", "deploy")); err != nil {
		t.Fatal(err)
	}

	any, err := store.List(ctx, Filter{Tags: []string{"deploy", "k8s"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(any) != 2 {
		t.Errorf("match-any: expected 2, got %d", len(any))
	}

	all, err := store.List(ctx, Filter{Tags: []string{"deploy", "k8s"}, MatchAllTags: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].SkillID != "a" {
		t.Errorf("match-all: expected only a, got %v", all)
	}
}

func TestReplaceAll_RequiresMetadata(t *testing.T) {
	store := newTestStore(t)
	err := store.ReplaceAll(context.Background(), "ghost", []SkillFile{
		{FileName: "SKILL.md", FilePath: "SKILL.md", Content: "x"},
	})
	if !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("expected ErrSkillNotFound, got %v", err)
	}
}

func TestReplaceAll_ReplacesFileSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, sampleMeta("a", "ops")); err != nil {
		t.Fatal(err)
	}

	first := []SkillFile{
		{FileName: "SKILL.md", FilePath: "SKILL.md", Content: "spec"},
		{FileName: "old.lua", FilePath: "old.lua", Content: "return 1"},
	}
	if err := store.ReplaceAll(ctx, "a", first); err != nil {
		t.Fatal(err)
	}

	second := []SkillFile{
		{FileName: "SKILL.md", FilePath: "SKILL.md", Content: "spec v2"},
		{FileName: "logic.lua", FilePath: "logic.lua", Content: "return 2"},
	}
	if err := store.ReplaceAll(ctx, "a", second); err != nil {
		t.Fatal(err)
	}

	files, err := store.ListFiles(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	for _, f := range files {
		if f.FileName == "old.lua" {
			t.Error("stale file survived re-ingestion")
		}
		if f.SkillID != "a" {
			t.Errorf("file %s has wrong skill_id %q", f.FileName, f.SkillID)
		}
	}
	// Derived columns.
	for _, f := range files {
		if f.FileName == "logic.lua" && f.FileType != "lua" {
			t.Errorf("expected derived file_type lua, got %q", f.FileType)
		}
		if f.SizeBytes == 0 {
			t.Errorf("expected derived size for %s", f.FileName)
		}
	}
}

func TestDelete_RemovesFilesToo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, sampleMeta("a", "ops")); err != nil {
		t.Fatal(err)
	}
	if err := store.ReplaceAll(ctx, "a", []SkillFile{{FileName: "SKILL.md", FilePath: "SKILL.md"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("expected ErrSkillNotFound after delete, got %v", err)
	}
	files, err := store.ListFiles(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files after delete, got %d", len(files))
	}
}

func TestRecordExecution_FoldsSuccessRate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, sampleMeta("a", "ops")); err != nil {
		t.Fatal(err)
	}

	if err := store.RecordExecution(ctx, "a", true); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordExecution(ctx, "a", false); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 2 {
		t.Errorf("expected usage_count 2, got %d", got.UsageCount)
	}
	if got.SuccessRate != 0.5 {
		t.Errorf("expected success_rate 0.5, got %f", got.SuccessRate)
	}
}

func TestTeardown_EmptyStore(t *testing.T) {
	store := newTestStore(t)

	n, err := store.Teardown(context.Background())
	if err != nil {
		t.Fatalf("teardown of empty store must not fail: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 skills deleted, got %d", n)
	}

	// A second teardown hits dropped tables and still succeeds with zero.
	n, err = store.Teardown(context.Background())
	if err != nil {
		t.Fatalf("repeated teardown must not fail: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 skills deleted, got %d", n)
	}
}
