package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cron "github.com/netresearch/go-cron"
)

// CronExpr wraps a parsed cron schedule.
type CronExpr struct {
	raw      string
	schedule cron.Schedule
}

// ParseCron parses a standard 5-field (minute-based) cron expression.
func ParseCron(expr string) (*CronExpr, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &CronExpr{raw: expr, schedule: schedule}, nil
}

// Next returns the next activation time after t.
func (c *CronExpr) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// Matches reports whether t falls within the same minute as an activation.
func (c *CronExpr) Matches(t time.Time) bool {
	truncated := t.Truncate(time.Minute)
	next := c.schedule.Next(truncated.Add(-time.Minute))
	return next.Equal(truncated)
}

func (c *CronExpr) String() string {
	return c.raw
}

// Refresher submits update-skills jobs on a cron schedule.
type Refresher struct {
	expr *CronExpr
	orch *Orchestrator

	mu      sync.Mutex
	lastRun time.Time
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRefresher parses the expression and prepares the refresher; call
// Start to begin scheduling.
func NewRefresher(expr string, orch *Orchestrator) (*Refresher, error) {
	parsed, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	return &Refresher{expr: parsed, orch: orch, done: make(chan struct{})}, nil
}

// Start launches the scheduling loop.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go r.loop()
	slog.Info("skill refresh scheduled", "cron", r.expr.String())
}

// Stop ends the scheduling loop.
func (r *Refresher) Stop() {
	close(r.done)
	r.wg.Wait()
}

func (r *Refresher) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.check(now)
		}
	}
}

func (r *Refresher) check(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.expr.Matches(now) {
		return
	}
	// At most one trigger per scheduled minute.
	if now.Sub(r.lastRun) < time.Minute {
		return
	}
	r.lastRun = now

	if _, err := r.orch.Submit(TypeUpdateSkills, ""); err != nil {
		if errors.Is(err, ErrQueueFull) {
			slog.Warn("refresh skipped, queue full", "cron", r.expr.String())
			return
		}
		slog.Error("refresh submission failed", "error", err)
	}
}
