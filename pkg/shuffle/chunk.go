// Package shuffle implements an external-memory uniform line shuffle:
// the input is split into bounded chunks, each chunk is permuted in
// memory with Fisher-Yates, and the shuffled chunks are interleaved
// into the output by drawing from each chunk with probability
// proportional to its remaining records.
package shuffle

import (
	"fmt"
	"sync/atomic"
)

// State tracks a chunk through its lifecycle. Transitions are forward
// only; a chunk is owned by exactly one stage at a time.
type State int32

const (
	StateUnwritten State = iota
	StateWritten
	StateShuffled
	StateMerged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnwritten:
		return "unwritten"
	case StateWritten:
		return "written"
	case StateShuffled:
		return "shuffled"
	case StateMerged:
		return "merged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Chunk is a bounded partition of the input. It owns one temporary file
// for its lifetime; the file is replaced when the chunk is shuffled and
// removed when it is merged or the run is cleaned up.
type Chunk struct {
	// Index is the sequence index assigned at creation.
	Index int

	// Path is the chunk's current temporary file.
	Path string

	// Records is the number of records in the chunk.
	Records int64

	// Bytes is the chunk's size on disk, including record terminators.
	Bytes int64

	state atomic.Int32
}

// State returns the chunk's current lifecycle state.
func (c *Chunk) State() State {
	return State(c.state.Load())
}

// transition moves the chunk from one state to the next. The state
// machine only moves forward; a violated transition is a programming
// error surfaced as an error rather than a panic so the run can abort
// cleanly.
func (c *Chunk) transition(from, to State) error {
	if to <= from {
		return fmt.Errorf("chunk %d: invalid state transition %s -> %s", c.Index, from, to)
	}
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("chunk %d: expected state %s, found %s", c.Index, from, c.State())
	}
	return nil
}

// markFailed flags the chunk so it is excluded from later stages.
func (c *Chunk) markFailed() {
	c.state.Store(int32(StateFailed))
}
