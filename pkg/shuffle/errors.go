package shuffle

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. IO failures are wrapped
// filesystem errors and carry no sentinel of their own; callers classify
// them as "anything else" after checking these.
var (
	// ErrMemoryExceeded indicates a chunk could not be materialized
	// within the configured memory budget.
	ErrMemoryExceeded = errors.New("chunk exceeds memory budget")

	// ErrInterrupted indicates the operator cancelled the run.
	ErrInterrupted = errors.New("shuffle interrupted")

	// ErrInvalidConfig indicates a non-positive or nonsensical
	// configuration value.
	ErrInvalidConfig = errors.New("invalid shuffle configuration")
)

// Stage names used in error reporting.
const (
	stageSplit   = "split"
	stageShuffle = "shuffle"
	stageMerge   = "merge"
)

// StageError identifies which pipeline stage and chunk an error occurred
// in. Chunk is -1 for errors not tied to a specific chunk.
type StageError struct {
	Stage string
	Chunk int
	Err   error
}

func (e *StageError) Error() string {
	if e.Chunk < 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: chunk %d: %v", e.Stage, e.Chunk, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// stageErr wraps err with stage and chunk identification. Pass chunk -1
// for stage-wide errors.
func stageErr(stage string, chunk int, err error) error {
	return &StageError{Stage: stage, Chunk: chunk, Err: err}
}
