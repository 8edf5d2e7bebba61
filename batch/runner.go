package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emptyOVO/batchkit-go/batch/repository"
	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// BatchStatus is the terminal or current state of an execution.
type BatchStatus = repository.Status

const (
	StatusStarted   = repository.StatusStarted
	StatusCompleted = repository.StatusCompleted
	StatusFailed    = repository.StatusFailed
	StatusAbandoned = repository.StatusAbandoned
)

// RunParams selects the job instance to run. A zero RunID asks for the next one.
type RunParams struct {
	RunID int64
}

// RunResult is the outcome of one Job.Run.
type RunResult struct {
	JobName     string
	RunID       int64
	ExecutionID string
	Attempt     int
	Status      BatchStatus
	ReadCount   int64
	WriteCount  int64
	StartTime   time.Time
	EndTime     time.Time
	Err         error
}

// Job runs its steps in order and records every execution in Repo.
type Job struct {
	Name    string
	Steps   []Step
	Repo    repository.Repository
	LockDir string
}

func NewJob(name string, repo repository.Repository, steps ...Step) *Job {
	if repo == nil {
		repo = repository.NewMemory()
	}
	return &Job{Name: name, Repo: repo, Steps: steps}
}

// Run executes one job instance. The returned error is the cause of a FAILED
// run, or a launch error when nothing was executed.
func (j *Job) Run(ctx context.Context, params RunParams) (RunResult, error) {
	result := RunResult{JobName: j.Name, RunID: params.RunID, Status: StatusFailed}
	fail := func(err error) (RunResult, error) {
		result.Err = err
		return result, err
	}
	if len(j.Steps) == 0 {
		return fail(fmt.Errorf("job %s has no steps", j.Name))
	}

	exec, runLock, err := j.start(ctx, params)
	if err != nil {
		return fail(err)
	}
	defer runLock.Unlock()

	result.RunID = exec.RunID
	result.ExecutionID = exec.ID
	result.Attempt = exec.Attempt
	result.StartTime = exec.StartTime
	logger := log.WithFields(log.Fields{"job": j.Name, "run_id": exec.RunID, "execution": exec.ID, "attempt": exec.Attempt})
	logger.Info("[Job] Start")

	runErr := j.runSteps(ctx, exec, logger)

	// bookkeeping must survive a cancelled run context
	saveCtx := context.WithoutCancel(ctx)
	exec.EndTime = time.Now().UTC()
	if runErr != nil {
		exec.Status = StatusFailed
		exec.ExitMessage = runErr.Error()
	} else {
		exec.Status = StatusCompleted
	}
	if err := j.Repo.UpdateJobExecution(saveCtx, exec); err != nil {
		logger.WithError(err).Error("[Job] Save execution")
		if runErr == nil {
			runErr = fmt.Errorf("save job execution: %w", err)
			exec.Status = StatusFailed
		}
	}

	result.Status = exec.Status
	result.ReadCount = exec.ReadCount
	result.WriteCount = exec.WriteCount
	result.EndTime = exec.EndTime
	result.Err = runErr

	fields := log.Fields{"status": exec.Status, "read": exec.ReadCount, "written": exec.WriteCount, "duration": exec.EndTime.Sub(exec.StartTime)}
	if runErr != nil {
		logger.WithFields(fields).WithError(runErr).Error("[Job] Finish")
		return result, runErr
	}
	logger.WithFields(fields).Info("[Job] Finish")
	return result, nil
}

// start resolves the job instance and registers a new execution while
// holding the run lock of that instance.
func (j *Job) start(ctx context.Context, params RunParams) (*repository.JobExecution, *flock.Flock, error) {
	jobLock, err := lockJob(ctx, j.LockDir, j.Name)
	if err != nil {
		return nil, nil, err
	}
	defer jobLock.Unlock()

	runID := params.RunID
	if runID <= 0 {
		if runID, err = j.Repo.NextRunID(ctx, j.Name); err != nil {
			return nil, nil, fmt.Errorf("next run id: %w", err)
		}
	}
	inst, err := j.Repo.GetOrCreateInstance(ctx, j.Name, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("job instance: %w", err)
	}

	runLock, ok, err := tryLockRun(j.LockDir, j.Name, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock run %d: %w", runID, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("job %s run %d: %w", j.Name, runID, ErrJobAlreadyRunning)
	}

	exec, err := j.newExecution(ctx, inst)
	if err != nil {
		runLock.Unlock()
		return nil, nil, err
	}
	return exec, runLock, nil
}

func (j *Job) newExecution(ctx context.Context, inst *repository.JobInstance) (*repository.JobExecution, error) {
	attempt := 1
	last, err := j.Repo.LastJobExecution(ctx, inst.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("last job execution: %w", err)
	default:
		attempt = last.Attempt + 1
		switch last.Status {
		case StatusCompleted:
			return nil, fmt.Errorf("job %s run %d: %w", j.Name, inst.RunID, ErrJobAlreadyComplete)
		case StatusStarted:
			// Still STARTED while nobody holds the run lock: its process died.
			last.Status = StatusAbandoned
			last.EndTime = time.Now().UTC()
			last.ExitMessage = "abandoned: run lock was not held"
			if err := j.Repo.UpdateJobExecution(ctx, last); err != nil {
				return nil, fmt.Errorf("abandon execution %s: %w", last.ID, err)
			}
			log.WithFields(log.Fields{"job": j.Name, "run_id": inst.RunID, "execution": last.ID}).Warn("[Job] Abandon stale execution")
		}
	}

	exec := &repository.JobExecution{
		InstanceID: inst.ID,
		JobName:    inst.JobName,
		RunID:      inst.RunID,
		Attempt:    attempt,
		Status:     StatusStarted,
		StartTime:  time.Now().UTC(),
	}
	if err := j.Repo.CreateJobExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create job execution: %w", err)
	}
	return exec, nil
}

func (j *Job) runSteps(ctx context.Context, exec *repository.JobExecution, logger *log.Entry) error {
	for _, step := range j.Steps {
		var restartAt int64
		if exec.Attempt > 1 {
			prev, err := j.Repo.LastStepExecution(ctx, exec.InstanceID, step.Name())
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return fmt.Errorf("last step execution: %w", err)
			case prev.Status == StatusCompleted:
				logger.WithField("step", step.Name()).Info("[Job] Step already completed, skip")
				continue
			default:
				restartAt = prev.ReadPosition
			}
		}

		// carries the committed position forward even if this attempt fails before reading
		se := &StepExecution{
			JobExecutionID: exec.ID,
			StepName:       step.Name(),
			Status:         StatusStarted,
			ReadPosition:   restartAt,
			StartTime:      time.Now().UTC(),
		}
		if err := j.Repo.CreateStepExecution(ctx, se); err != nil {
			return fmt.Errorf("create step execution: %w", err)
		}
		sc := &StepContext{
			Execution:       se,
			RestartPosition: restartAt,
			Checkpoint: func(ctx context.Context) error {
				return j.Repo.UpdateStepExecution(ctx, se)
			},
		}

		stepLog := logger.WithField("step", step.Name())
		stepLog.Info("[Step] Start")
		stepErr := step.Execute(ctx, sc)

		se.EndTime = time.Now().UTC()
		se.Status = StatusCompleted
		if stepErr != nil {
			se.Status = StatusFailed
			se.ExitMessage = stepErr.Error()
		}
		exec.ReadCount += se.ReadCount
		exec.WriteCount += se.WriteCount
		if err := j.Repo.UpdateStepExecution(context.WithoutCancel(ctx), se); err != nil && stepErr == nil {
			stepErr = fmt.Errorf("save step execution: %w", err)
		}

		fields := log.Fields{
			"status":    se.Status,
			"read":      se.ReadCount,
			"written":   se.WriteCount,
			"commits":   se.CommitCount,
			"rollbacks": se.RollbackCount,
			"skipped":   se.SkipCount,
		}
		if stepErr != nil {
			stepLog.WithFields(fields).WithError(stepErr).Error("[Step] Failed")
			return stepErr
		}
		stepLog.WithFields(fields).Info("[Step] Finish")
	}
	return nil
}
