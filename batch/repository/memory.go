package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps run metadata in process memory. It is meant for tests and
// for runs that do not need an audit trail.
type Memory struct {
	mu        sync.RWMutex
	instances map[string]*JobInstance
	jobExecs  []*JobExecution
	stepExecs []*StepExecution
}

func NewMemory() *Memory {
	return &Memory{instances: make(map[string]*JobInstance)}
}

func instanceKey(jobName string, runID int64) string {
	return fmt.Sprintf("%s#%d", jobName, runID)
}

func (m *Memory) NextRunID(ctx context.Context, jobName string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for _, inst := range m.instances {
		if inst.JobName == jobName && inst.RunID > max {
			max = inst.RunID
		}
	}
	return max + 1, nil
}

func (m *Memory) GetOrCreateInstance(ctx context.Context, jobName string, runID int64) (*JobInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instanceKey(jobName, runID)
	if inst, ok := m.instances[key]; ok {
		cp := *inst
		return &cp, nil
	}
	inst := &JobInstance{ID: uuid.New().String(), JobName: jobName, RunID: runID, CreateTime: time.Now()}
	m.instances[key] = inst
	cp := *inst
	return &cp, nil
}

func (m *Memory) LastJobExecution(ctx context.Context, instanceID string) (*JobExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *JobExecution
	for _, e := range m.jobExecs {
		if e.InstanceID == instanceID && (last == nil || e.Attempt > last.Attempt) {
			last = e
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	for _, inst := range m.instances {
		if inst.ID == instanceID {
			cp.JobName, cp.RunID = inst.JobName, inst.RunID
		}
	}
	return &cp, nil
}

func (m *Memory) CreateJobExecution(ctx context.Context, exec *JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	cp := *exec
	m.jobExecs = append(m.jobExecs, &cp)
	return nil
}

func (m *Memory) UpdateJobExecution(ctx context.Context, exec *JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.jobExecs {
		if e.ID == exec.ID {
			cp := *exec
			m.jobExecs[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("job execution %s: %w", exec.ID, ErrNotFound)
}

func (m *Memory) CreateStepExecution(ctx context.Context, exec *StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	cp := *exec
	m.stepExecs = append(m.stepExecs, &cp)
	return nil
}

func (m *Memory) UpdateStepExecution(ctx context.Context, exec *StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.stepExecs {
		if e.ID == exec.ID {
			cp := *exec
			m.stepExecs[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("step execution %s: %w", exec.ID, ErrNotFound)
}

func (m *Memory) LastStepExecution(ctx context.Context, instanceID, stepName string) (*StepExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attempts := make(map[string]int)
	for _, e := range m.jobExecs {
		if e.InstanceID == instanceID {
			attempts[e.ID] = e.Attempt
		}
	}
	var last *StepExecution
	lastAttempt := -1
	for _, s := range m.stepExecs {
		a, ok := attempts[s.JobExecutionID]
		if !ok || s.StepName != stepName {
			continue
		}
		if a > lastAttempt {
			last, lastAttempt = s, a
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	return &cp, nil
}

func (m *Memory) StepExecutions(ctx context.Context, jobExecutionID string) ([]StepExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StepExecution
	for _, s := range m.stepExecs {
		if s.JobExecutionID == jobExecutionID {
			out = append(out, *s)
		}
	}
	return out, nil
}
