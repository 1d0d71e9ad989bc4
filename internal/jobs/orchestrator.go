package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dohr-michael/skillhub/internal/events"
	"github.com/dohr-michael/skillhub/internal/ingest"
)

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueFull is returned when the submission queue cannot accept
	// more work.
	ErrQueueFull = errors.New("job queue full")
)

const queueCapacity = 32

// completedRetention bounds how long finished jobs stay pollable.
const completedRetention = time.Hour

// Catalog is the store surface the orchestrator needs for setup and
// teardown.
type Catalog interface {
	EnsureSchema(ctx context.Context) error
	Teardown(ctx context.Context) (int, error)
}

// Index is the semantic index surface the orchestrator resets.
type Index interface {
	Reset() error
}

// Orchestrator owns the job registry and the single worker that drains it.
type Orchestrator struct {
	mu   sync.Mutex
	jobs map[string]*Job

	queue chan string
	done  chan struct{}
	wg    sync.WaitGroup

	scanner  *ingest.Scanner
	ingestor *ingest.Ingestor
	catalog  Catalog
	index    Index       // optional
	bus      *events.Bus // optional
}

// NewOrchestrator creates the orchestrator and starts its worker.
// index and bus may be nil.
func NewOrchestrator(scanner *ingest.Scanner, ingestor *ingest.Ingestor, catalog Catalog, index Index, bus *events.Bus) *Orchestrator {
	o := &Orchestrator{
		jobs:     make(map[string]*Job),
		queue:    make(chan string, queueCapacity),
		done:     make(chan struct{}),
		scanner:  scanner,
		ingestor: ingestor,
		catalog:  catalog,
		index:    index,
		bus:      bus,
	}
	o.wg.Add(1)
	go o.worker()
	return o
}

// Close stops the worker after the current job finishes.
func (o *Orchestrator) Close() {
	close(o.done)
	o.wg.Wait()
}

// Submit queues one administrative operation and returns immediately.
// folder scopes an update-skills job to one sub-folder of the skill root;
// empty means the whole root, other job types ignore it.
func (o *Orchestrator) Submit(jobType Type, folder string) (*Job, error) {
	switch jobType {
	case TypeSetup, TypeTeardown, TypeUpdateSkills:
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	if jobType != TypeUpdateSkills {
		folder = ""
	}

	job := &Job{
		ID:          GenerateJobID(),
		Type:        jobType,
		Status:      StatusPending,
		Folder:      folder,
		SubmittedAt: time.Now(),
	}

	o.mu.Lock()
	o.purgeLocked()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	select {
	case o.queue <- job.ID:
	default:
		o.mu.Lock()
		delete(o.jobs, job.ID)
		o.mu.Unlock()
		return nil, ErrQueueFull
	}

	slog.Info("job submitted", "job", job.ID, "type", jobType)
	o.publish(events.EventJobSubmitted, job)
	return snapshot(job), nil
}

// Poll returns the current state of a job.
func (o *Orchestrator) Poll(jobID string) (*Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	return snapshot(job), nil
}

// List returns every known job, newest first.
func (o *Orchestrator) List() []*Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, snapshot(job))
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].SubmittedAt.After(out[i].SubmittedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case jobID := <-o.queue:
			o.run(jobID)
		}
	}
}

func (o *Orchestrator) run(jobID string) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	jobType := job.Type
	folder := job.Folder
	o.mu.Unlock()

	ctx := context.Background()
	result, err := o.execute(ctx, jobType, folder, func(msg string) {
		o.mu.Lock()
		job.Progress = msg
		o.mu.Unlock()
	})

	o.mu.Lock()
	end := time.Now()
	job.CompletedAt = &end
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Result = result
	}
	done := snapshot(job)
	o.mu.Unlock()

	if err != nil {
		slog.Error("job failed", "job", jobID, "type", jobType, "error", err)
		o.publish(events.EventJobFailed, done)
		return
	}
	slog.Info("job completed", "job", jobID, "type", jobType, "duration", end.Sub(*done.StartedAt))
	o.publish(events.EventJobCompleted, done)
}

func (o *Orchestrator) execute(ctx context.Context, jobType Type, folder string, progress func(string)) (any, error) {
	switch jobType {
	case TypeSetup:
		return o.setup(ctx, progress)
	case TypeTeardown:
		return o.teardown(ctx, progress)
	case TypeUpdateSkills:
		return o.updateSkills(ctx, folder, progress)
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
}

// setup builds from a clean slate: the store schema is ensured, the
// semantic index rebuilt, and every skill under the root synchronized in.
// Stored skills whose directory disappeared are pruned here.
func (o *Orchestrator) setup(ctx context.Context, progress func(string)) (any, error) {
	progress("ensuring store schema")
	if err := o.catalog.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if o.index != nil {
		if err := o.index.Reset(); err != nil {
			return nil, fmt.Errorf("reset index: %w", err)
		}
	}
	scanned, err := o.scanner.Scan()
	if err != nil {
		return nil, err
	}
	return o.ingestor.Sync(ctx, scanned, ingest.SyncOptions{PruneOrphans: true, Progress: progress})
}

// updateSkills merges one folder into the stores: scanned skills are
// upserted in place, skills outside the folder stay untouched. An empty
// folder refreshes the whole root, still without pruning.
func (o *Orchestrator) updateSkills(ctx context.Context, folder string, progress func(string)) (any, error) {
	dir := o.scanner.Root()
	if folder != "" {
		if filepath.IsAbs(folder) {
			dir = folder
		} else {
			dir = filepath.Join(dir, folder)
		}
	}
	scanned, err := o.scanner.ScanDir(dir)
	if err != nil {
		return nil, err
	}
	return o.ingestor.Sync(ctx, scanned, ingest.SyncOptions{Progress: progress})
}

// teardown wipes both record stores and the semantic index. Running it
// against an already-empty deployment reports zero deletions.
func (o *Orchestrator) teardown(ctx context.Context, progress func(string)) (any, error) {
	progress("deleting stored skills")
	deleted, err := o.catalog.Teardown(ctx)
	if err != nil {
		return nil, err
	}
	if o.index != nil {
		if err := o.index.Reset(); err != nil {
			return nil, fmt.Errorf("reset index: %w", err)
		}
	}
	return map[string]any{"skills_deleted": deleted}, nil
}

// purgeLocked drops finished jobs past retention. Caller holds the lock.
func (o *Orchestrator) purgeLocked() {
	cutoff := time.Now().Add(-completedRetention)
	for id, job := range o.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(o.jobs, id)
		}
	}
}

func (o *Orchestrator) publish(t events.EventType, job *Job) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.NewEvent(t, events.SourceJobs, map[string]any{
		"job_id": job.ID,
		"type":   string(job.Type),
		"status": string(job.Status),
	}))
}

// snapshot copies a job so callers never see later mutations.
func snapshot(job *Job) *Job {
	c := *job
	return &c
}
