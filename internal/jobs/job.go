// Package jobs runs the administrative operations — setup, teardown and
// skill refresh — as asynchronous jobs behind a submit/poll surface.
package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type names one administrative operation.
type Type string

const (
	TypeSetup        Type = "setup"
	TypeTeardown     Type = "teardown"
	TypeUpdateSkills Type = "update-skills"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one asynchronous administrative operation.
type Job struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	Folder      string     `json:"folder,omitempty"`
	Progress    string     `json:"progress,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GenerateJobID creates a unique job identifier.
func GenerateJobID() string {
	u := uuid.New().String()
	return "job_" + strings.ReplaceAll(u[:8], "-", "")
}
