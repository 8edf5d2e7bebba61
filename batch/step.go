package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/emptyOVO/batchkit-go/batch/repository"
	"github.com/emptyOVO/batchkit-go/batch/sql_batch"
	log "github.com/sirupsen/logrus"
)

// ItemReader yields items one at a time and returns io.EOF when exhausted.
type ItemReader[T any] interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (T, error)
	Close() error
}

// ItemStream is implemented by readers that can resume at a committed position.
type ItemStream interface {
	Position() int64
	Restore(pos int64) error
}

// Validator is implemented by readers that can check their configuration
// before any resource is touched.
type Validator interface {
	Validate() error
}

// ItemWriter persists one chunk inside a transaction it does not own.
type ItemWriter[T any] interface {
	Write(ctx context.Context, tx sql_batch.Execer, items []T) error
}

// TxBeginner is the sink connection. *sql.DB satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
}

// StepConfig configures a chunk step.
type StepConfig struct {
	Name      string `yaml:"name" json:"name"`
	ChunkSize int    `yaml:"chunk_size" json:"chunk_size"`
	// SkipLimit is how many malformed records may be skipped. Zero fails on the first one.
	SkipLimit int `yaml:"skip_limit" json:"skip_limit"`
}

func (c *StepConfig) withDefaults() {
	if c.Name == "" {
		c.Name = "step01"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 200
	}
}

type StepExecution = repository.StepExecution

// StepContext carries the execution a step reports into.
type StepContext struct {
	Execution *StepExecution
	// RestartPosition is the reader position committed by a previous attempt.
	RestartPosition int64
	// Checkpoint persists Execution. It is called after every commit.
	Checkpoint func(ctx context.Context) error
}

// Step is one unit of work of a Job.
type Step interface {
	Name() string
	Execute(ctx context.Context, sc *StepContext) error
}

// ChunkStep reads items into chunks of at most ChunkSize and writes each
// chunk in its own transaction. Chunks are strictly sequential: a chunk is
// committed before the next one is read. The first read or write error
// rolls back the in-flight chunk and ends the step.
type ChunkStep[T any] struct {
	cfg       StepConfig
	reader    ItemReader[T]
	writer    ItemWriter[T]
	db        TxBeginner
	listeners []ChunkListener
}

func NewChunkStep[T any](cfg StepConfig, reader ItemReader[T], writer ItemWriter[T], db TxBeginner, listeners ...ChunkListener) *ChunkStep[T] {
	cfg.withDefaults()
	return &ChunkStep[T]{cfg: cfg, reader: reader, writer: writer, db: db, listeners: listeners}
}

func (s *ChunkStep[T]) Name() string { return s.cfg.Name }

func (s *ChunkStep[T]) Execute(ctx context.Context, sc *StepContext) (err error) {
	exec := sc.Execution
	if v, ok := s.reader.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.cfg.Name, err)
		}
	}
	if err := s.db.PingContext(ctx); err != nil {
		return &ResourceUnavailableError{Resource: "sink", Err: err}
	}
	if err := s.reader.Open(ctx); err != nil {
		return &ResourceUnavailableError{Resource: "source", Err: err}
	}
	defer func() {
		if cerr := s.reader.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close reader: %w", cerr)
		}
	}()

	stream, _ := s.reader.(ItemStream)
	if sc.RestartPosition > 0 {
		if stream == nil {
			return fmt.Errorf("step %s cannot restart: reader does not track its position", s.cfg.Name)
		}
		if err := stream.Restore(sc.RestartPosition); err != nil {
			return fmt.Errorf("restore reader: %w", err)
		}
		exec.ReadPosition = sc.RestartPosition
		log.WithFields(log.Fields{"step": s.cfg.Name, "position": sc.RestartPosition}).Info("[Step] Resume from last commit")
	}

	chunk := make([]T, 0, s.cfg.ChunkSize)
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk = chunk[:0]
		done, err := s.fill(ctx, &chunk, exec)
		cc := ChunkContext{Step: s.cfg.Name, Chunk: n, Items: len(chunk)}
		if err != nil {
			exec.RollbackCount++
			s.chunkError(ctx, cc, exec, err)
			return err
		}
		if len(chunk) == 0 {
			return nil
		}

		s.beforeChunk(ctx, cc, exec)
		if err := s.writeChunk(ctx, chunk); err != nil {
			exec.RollbackCount++
			wf := &WriteFailure{Step: s.cfg.Name, Chunk: n, Items: len(chunk), Err: err}
			s.chunkError(ctx, cc, exec, wf)
			return wf
		}
		exec.WriteCount += int64(len(chunk))
		exec.CommitCount++
		if stream != nil {
			exec.ReadPosition = stream.Position()
		}
		if sc.Checkpoint != nil {
			if err := sc.Checkpoint(ctx); err != nil {
				return fmt.Errorf("checkpoint after chunk %d: %w", n, err)
			}
		}
		s.afterChunk(ctx, cc, exec)
		if done {
			return nil
		}
	}
}

// fill reads until the chunk is full or the reader is exhausted.
func (s *ChunkStep[T]) fill(ctx context.Context, chunk *[]T, exec *StepExecution) (bool, error) {
	for len(*chunk) < s.cfg.ChunkSize {
		item, err := s.reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			var mre *MalformedRecordError
			if !errors.As(err, &mre) || s.cfg.SkipLimit == 0 {
				return false, err
			}
			if exec.SkipCount >= int64(s.cfg.SkipLimit) {
				return false, fmt.Errorf("skip limit %d exceeded: %w", s.cfg.SkipLimit, err)
			}
			exec.SkipCount++
			log.WithFields(log.Fields{"step": s.cfg.Name, "line": mre.Line}).Warn("[Step] Skip malformed record")
			continue
		}
		*chunk = append(*chunk, item)
		exec.ReadCount++
	}
	return false, nil
}

func (s *ChunkStep[T]) writeChunk(ctx context.Context, items []T) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.writer.Write(ctx, tx, items); err != nil {
		return err
	}
	return tx.Commit()
}
