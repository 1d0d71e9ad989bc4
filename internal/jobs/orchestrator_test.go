package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/skillhub/internal/catalog"
	"github.com/dohr-michael/skillhub/internal/ingest"
)

const triageSkill = `---
name: claim-triage
domain: insurance
tags: [claims]
description: Route incoming claims.
---
Triage body.
`

const approvalSkill = `---
name: invoice-approval
domain: finance
tags: [approval]
description: Approve invoices against the spending policy.
---
Approval body.
`

func writeSkill(t *testing.T, root, dir, spec string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, dir, "SKILL.md"), []byte(spec), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newOrchestrator(t *testing.T, root string) (*Orchestrator, *catalog.SQLStore) {
	t.Helper()
	store, err := catalog.NewSQLStore(filepath.Join(t.TempDir(), "skills.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	scanner := ingest.NewScanner(root, nil)
	ingestor := ingest.NewIngestor(store, store, nil, nil)
	orch := NewOrchestrator(scanner, ingestor, store, nil, nil)
	t.Cleanup(orch.Close)
	return orch, store
}

func waitDone(t *testing.T, orch *Orchestrator, jobID string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := orch.Poll(jobID)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", jobID)
	return nil
}

func TestGenerateJobID(t *testing.T) {
	id := GenerateJobID()
	if !strings.HasPrefix(id, "job_") || len(id) != 12 {
		t.Errorf("unexpected id shape: %q", id)
	}
	if GenerateJobID() == id {
		t.Error("ids not unique")
	}
}

func TestSubmit_UnknownType(t *testing.T) {
	orch, _ := newOrchestrator(t, t.TempDir())
	if _, err := orch.Submit(Type("explode"), ""); err == nil {
		t.Fatal("expected rejection")
	}
}

func TestSetup_IngestsSkills(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "claim-triage"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "claim-triage", "SKILL.md"), []byte(triageSkill), 0o644); err != nil {
		t.Fatal(err)
	}

	orch, store := newOrchestrator(t, root)
	job, err := orch.Submit(TypeSetup, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusPending {
		t.Errorf("status at submit: %s", job.Status)
	}

	done := waitDone(t, orch, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job failed: %s", done.Error)
	}
	report, ok := done.Result.(*ingest.Report)
	if !ok || report.Ingested != 1 {
		t.Fatalf("result: %+v", done.Result)
	}

	if _, err := store.Get(context.Background(), "insurance/claim-triage"); err != nil {
		t.Errorf("skill not ingested: %v", err)
	}
}

func TestTeardown_OnEmptyDeployment(t *testing.T) {
	orch, _ := newOrchestrator(t, t.TempDir())

	job, err := orch.Submit(TypeTeardown, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := waitDone(t, orch, job.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("job failed: %s", done.Error)
	}
	result, ok := done.Result.(map[string]any)
	if !ok || result["skills_deleted"] != 0 {
		t.Fatalf("result: %+v", done.Result)
	}
}

func TestTeardown_RemovesIngestedSkills(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "claim-triage"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "claim-triage", "SKILL.md"), []byte(triageSkill), 0o644); err != nil {
		t.Fatal(err)
	}
	orch, store := newOrchestrator(t, root)

	setup, err := orch.Submit(TypeSetup, "")
	if err != nil {
		t.Fatalf("submit setup: %v", err)
	}
	waitDone(t, orch, setup.ID)

	teardown, err := orch.Submit(TypeTeardown, "")
	if err != nil {
		t.Fatalf("submit teardown: %v", err)
	}
	done := waitDone(t, orch, teardown.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("teardown failed: %s", done.Error)
	}
	result := done.Result.(map[string]any)
	if result["skills_deleted"] != 1 {
		t.Errorf("skills_deleted: %v", result["skills_deleted"])
	}
	// Both stores are gone until the next setup recreates the schema.
	if _, err := store.Get(context.Background(), "insurance/claim-triage"); err == nil {
		t.Error("skill still readable after teardown")
	}
}

func TestUpdateSkills_FolderMergesWithoutPruning(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "invoice-approval", approvalSkill)
	writeSkill(t, root, "claim-triage", triageSkill)
	orch, store := newOrchestrator(t, root)

	setup, _ := orch.Submit(TypeSetup, "")
	waitDone(t, orch, setup.ID)

	// Refresh only the triage folder; the approval skill must survive.
	update, err := orch.Submit(TypeUpdateSkills, "claim-triage")
	if err != nil {
		t.Fatalf("submit update: %v", err)
	}
	if update.Folder != "claim-triage" {
		t.Errorf("folder not recorded: %q", update.Folder)
	}
	done := waitDone(t, orch, update.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("update failed: %s", done.Error)
	}
	report := done.Result.(*ingest.Report)
	if report.Ingested != 1 || report.Removed != 0 {
		t.Errorf("report: %+v", report)
	}
	if _, err := store.Get(context.Background(), "finance/invoice-approval"); err != nil {
		t.Errorf("unrelated skill lost: %v", err)
	}
}

func TestUpdateSkills_VanishedSkillIsKept(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "claim-triage", triageSkill)
	orch, store := newOrchestrator(t, root)

	setup, _ := orch.Submit(TypeSetup, "")
	waitDone(t, orch, setup.ID)

	if err := os.RemoveAll(filepath.Join(root, "claim-triage")); err != nil {
		t.Fatal(err)
	}
	update, err := orch.Submit(TypeUpdateSkills, "")
	if err != nil {
		t.Fatalf("submit update: %v", err)
	}
	done := waitDone(t, orch, update.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("update failed: %s", done.Error)
	}
	report := done.Result.(*ingest.Report)
	if report.Removed != 0 {
		t.Errorf("update must not prune, removed %d", report.Removed)
	}
	if _, err := store.Get(context.Background(), "insurance/claim-triage"); err != nil {
		t.Errorf("skill pruned by update: %v", err)
	}

	// Setup is the pass that reconciles the stores with disk.
	resetup, _ := orch.Submit(TypeSetup, "")
	done = waitDone(t, orch, resetup.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("setup failed: %s", done.Error)
	}
	if _, err := store.Get(context.Background(), "insurance/claim-triage"); !errors.Is(err, catalog.ErrSkillNotFound) {
		t.Errorf("vanished skill still present after setup: %v", err)
	}
}

func TestSetup_AfterTeardownRecreatesSchema(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "claim-triage", triageSkill)
	orch, store := newOrchestrator(t, root)

	teardown, _ := orch.Submit(TypeTeardown, "")
	waitDone(t, orch, teardown.ID)

	setup, err := orch.Submit(TypeSetup, "")
	if err != nil {
		t.Fatalf("submit setup: %v", err)
	}
	done := waitDone(t, orch, setup.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("setup after teardown failed: %s", done.Error)
	}
	report := done.Result.(*ingest.Report)
	if report.Ingested != 1 || len(report.Failed) != 0 {
		t.Fatalf("report: %+v", report)
	}
	if _, err := store.Get(context.Background(), "insurance/claim-triage"); err != nil {
		t.Errorf("skill not re-ingested: %v", err)
	}
	if done.Progress != "synchronized 1/1 skills" {
		t.Errorf("progress: %q", done.Progress)
	}
}

func TestPoll_UnknownJob(t *testing.T) {
	orch, _ := newOrchestrator(t, t.TempDir())
	if _, err := orch.Poll("job_missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	orch, _ := newOrchestrator(t, t.TempDir())

	first, _ := orch.Submit(TypeTeardown, "")
	waitDone(t, orch, first.ID)
	time.Sleep(5 * time.Millisecond)
	second, _ := orch.Submit(TypeTeardown, "")
	waitDone(t, orch, second.ID)

	list := orch.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("newest not first: %s", list[0].ID)
	}
}

func TestParseCron(t *testing.T) {
	expr, err := ParseCron("*/15 * * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	if !expr.Matches(at) {
		t.Error("10:30 should match */15")
	}
	if expr.Matches(at.Add(time.Minute)) {
		t.Error("10:31 should not match */15")
	}

	if _, err := ParseCron("not a cron"); err == nil {
		t.Error("expected parse failure")
	}
}
