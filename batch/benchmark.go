package batch

import (
	"context"
	"time"
)

// BenchmarkConfig configures benchmark workflow.
type BenchmarkConfig struct {
	Job         JobConfig
	Prepare     bool
	PrepareC    PrepareConfig
	CreateTable bool
	// Replace empties the sink table before the run so validation compares
	// against this load only.
	Replace bool
}

// BenchmarkResult captures stage durations.
type BenchmarkResult struct {
	PrepareDuration  time.Duration
	RunDuration      time.Duration
	ValidateDuration time.Duration
	TotalDuration    time.Duration
	Run              RunResult
}

// RunBenchmark optionally generates the source file, runs the load once and
// validates the sink row count.
func RunBenchmark(ctx context.Context, cfg BenchmarkConfig) (BenchmarkResult, error) {
	var result BenchmarkResult
	startAll := time.Now()
	cfg.Job.withDefaults()

	db, d, err := openDB(ctx, cfg.Job.SinkDB)
	if err != nil {
		return result, err
	}
	defer db.Close()

	if cfg.Prepare {
		s := time.Now()
		cfg.PrepareC.Path = cfg.Job.Reader.Path
		cfg.PrepareC.Delimiter = cfg.Job.Reader.Delimiter
		if len(cfg.Job.Reader.Comments) > 0 {
			cfg.PrepareC.CommentPrefix = cfg.Job.Reader.Comments[0]
		}
		if err := PrepareSyntheticSource(ctx, cfg.PrepareC); err != nil {
			return result, err
		}
		result.PrepareDuration = time.Since(s)
	}
	if cfg.CreateTable {
		if err := PrepareSinkTable(ctx, db, d, cfg.Job.Writer.Table); err != nil {
			return result, err
		}
	}

	if cfg.Replace {
		if err := TruncateSinkTable(ctx, db, d, cfg.Job.Writer.Table); err != nil {
			return result, err
		}
	}

	s := time.Now()
	run, err := RunFlow(ctx, cfg.Job, RunParams{})
	result.Run = run
	if err != nil {
		return result, err
	}
	result.RunDuration = time.Since(s)

	s = time.Now()
	if err := ValidateLoad(ctx, db, d, ValidateConfig{Source: cfg.Job.Reader, Table: cfg.Job.Writer.Table}); err != nil {
		return result, err
	}
	result.ValidateDuration = time.Since(s)

	result.TotalDuration = time.Since(startAll)
	return result, nil
}
