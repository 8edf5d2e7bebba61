// Package repository stores job and step execution metadata so runs can be
// audited and failed runs restarted from their last committed chunk.
package repository

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a job or step execution.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusAbandoned Status = "ABANDONED"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// JobInstance identifies one logical run: a job name plus a run id.
type JobInstance struct {
	ID         string
	JobName    string
	RunID      int64
	CreateTime time.Time
}

// JobExecution is one attempt at running a JobInstance.
type JobExecution struct {
	ID          string
	InstanceID  string
	JobName     string
	RunID       int64
	Attempt     int
	Status      Status
	StartTime   time.Time
	EndTime     time.Time
	ReadCount   int64
	WriteCount  int64
	ExitMessage string
}

// StepExecution is the bookkeeping of one step inside a JobExecution.
type StepExecution struct {
	ID             string
	JobExecutionID string
	StepName       string
	Status         Status
	ReadCount      int64
	WriteCount     int64
	CommitCount    int64
	RollbackCount  int64
	SkipCount      int64
	// ReadPosition is the reader position at the last commit.
	ReadPosition int64
	StartTime    time.Time
	EndTime      time.Time
	ExitMessage  string
}

// Repository persists run metadata. Implementations assign ids on create
// when the ID field is empty.
type Repository interface {
	NextRunID(ctx context.Context, jobName string) (int64, error)
	GetOrCreateInstance(ctx context.Context, jobName string, runID int64) (*JobInstance, error)
	LastJobExecution(ctx context.Context, instanceID string) (*JobExecution, error)
	CreateJobExecution(ctx context.Context, exec *JobExecution) error
	UpdateJobExecution(ctx context.Context, exec *JobExecution) error
	CreateStepExecution(ctx context.Context, exec *StepExecution) error
	UpdateStepExecution(ctx context.Context, exec *StepExecution) error
	LastStepExecution(ctx context.Context, instanceID, stepName string) (*StepExecution, error)
	StepExecutions(ctx context.Context, jobExecutionID string) ([]StepExecution, error)
}
