package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emptyOVO/batchkit-go/batch/file_batch"
	"github.com/emptyOVO/batchkit-go/batch/repository"
	"github.com/emptyOVO/batchkit-go/batch/sql_batch"
	"github.com/emptyOVO/batchkit-go/person"
)

// Flow is a wired person load job together with the connections it owns.
type Flow struct {
	Job    *Job
	sinkDB *sql.DB
	repoDB *sql.DB
}

// Close releases the sink and repository connections.
func (f *Flow) Close() error {
	var errs []error
	if f.sinkDB != nil {
		errs = append(errs, f.sinkDB.Close())
	}
	if f.repoDB != nil {
		errs = append(errs, f.repoDB.Close())
	}
	return errors.Join(errs...)
}

// BuildPersonJob constructs reader, writer, chunk step and job from cfg.
// The repository connection is dialed here; the sink is dialed when the step
// starts so an unreachable sink fails the run instead of the build.
func BuildPersonJob(ctx context.Context, cfg JobConfig, listeners ...ChunkListener) (*Flow, error) {
	cfg.withDefaults()
	if err := ValidateJobConfig(cfg); err != nil {
		return nil, err
	}

	flow := &Flow{}
	var repo repository.Repository
	if cfg.RepositoryDB.Driver == DriverMemory {
		repo = repository.NewMemory()
	} else {
		repoDB, d, err := openDB(ctx, cfg.RepositoryDB)
		if err != nil {
			return nil, fmt.Errorf("open job repository: %w", err)
		}
		flow.repoDB = repoDB
		if repo, err = repository.NewSQL(ctx, repoDB, d); err != nil {
			flow.Close()
			return nil, err
		}
	}

	sinkDB, d, err := newDB(cfg.SinkDB)
	if err != nil {
		flow.Close()
		return nil, fmt.Errorf("sink: %w", err)
	}
	flow.sinkDB = sinkDB

	reader := file_batch.NewFlatFileReader[person.Record](cfg.Reader, person.MapFieldSet)
	writer, err := sql_batch.NewBatchItemWriter[person.Record](cfg.Writer, d)
	if err != nil {
		flow.Close()
		return nil, err
	}
	if len(listeners) == 0 {
		listeners = []ChunkListener{LoggingChunkListener{}}
	}
	step := NewChunkStep[person.Record](cfg.Step, reader, writer, sinkDB, listeners...)

	flow.Job = NewJob(cfg.Name, repo, step)
	flow.Job.LockDir = cfg.LockDir
	return flow, nil
}

// RunFlow builds the person load job, runs it once and releases its connections.
func RunFlow(ctx context.Context, cfg JobConfig, params RunParams) (RunResult, error) {
	flow, err := BuildPersonJob(ctx, cfg)
	if err != nil {
		return RunResult{JobName: cfg.Name, Status: StatusFailed, Err: err}, err
	}
	defer flow.Close()
	return flow.Job.Run(ctx, params)
}
