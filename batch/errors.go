package batch

import (
	"errors"
	"fmt"

	"github.com/emptyOVO/batchkit-go/batch/file_batch"
)

// MalformedRecordError is raised by the flat file reader for undecodable lines.
type MalformedRecordError = file_batch.MalformedRecordError

var (
	// ErrJobAlreadyRunning means another execution holds the run lock of the same job instance.
	ErrJobAlreadyRunning = errors.New("job instance is already running")
	// ErrJobAlreadyComplete means the requested run id already finished successfully.
	ErrJobAlreadyComplete = errors.New("job instance already completed")
)

// WriteFailure reports a chunk the sink rejected. The chunk was rolled back.
type WriteFailure struct {
	Step  string
	Chunk int
	Items int
	Err   error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("step %s: chunk %d (%d items) rolled back: %v", e.Step, e.Chunk, e.Items, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// ResourceUnavailableError reports a source or sink that could not be reached
// before the first chunk.
type ResourceUnavailableError struct {
	Resource string
	Err      error
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Resource, e.Err)
}

func (e *ResourceUnavailableError) Unwrap() error { return e.Err }
