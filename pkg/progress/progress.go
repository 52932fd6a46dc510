// Package progress tracks pipeline progress with lock-free counters.
//
// The shuffle pipeline updates a Tracker from its hot path; a separate
// control goroutine takes snapshots on demand (for example when the
// operator presses Enter). Counters are atomics so a snapshot never
// blocks or slows the pipeline.
package progress

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stage identifies the pipeline stage currently running.
type Stage int32

const (
	StageIdle Stage = iota
	StageSplit
	StageShuffle
	StageMerge
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageSplit:
		return "split"
	case StageShuffle:
		return "shuffle"
	case StageMerge:
		return "merge"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Tracker is a concurrently updatable set of progress counters.
// All methods are safe to call from any goroutine. A zero Tracker is
// ready to use.
type Tracker struct {
	stage atomic.Int32

	totalBytes     atomic.Int64
	bytesRead      atomic.Int64
	recordsRead    atomic.Int64
	recordsWritten atomic.Int64

	totalChunks    atomic.Int64
	chunksWritten  atomic.Int64
	chunksShuffled atomic.Int64
	chunksMerged   atomic.Int64

	startNanos atomic.Int64
}

// Snapshot is a point-in-time copy of the tracker counters.
type Snapshot struct {
	Stage          Stage
	TotalBytes     int64
	BytesRead      int64
	RecordsRead    int64
	RecordsWritten int64
	TotalChunks    int64
	ChunksWritten  int64
	ChunksShuffled int64
	ChunksMerged   int64
	Elapsed        time.Duration
}

// Start records the run start time and resets the stage.
func (t *Tracker) Start(totalBytes int64) {
	t.startNanos.Store(time.Now().UnixNano())
	t.totalBytes.Store(totalBytes)
	t.stage.Store(int32(StageSplit))
}

// SetStage transitions the tracker to the given stage.
func (t *Tracker) SetStage(s Stage) {
	t.stage.Store(int32(s))
}

// Stage returns the current pipeline stage.
func (t *Tracker) Stage() Stage {
	return Stage(t.stage.Load())
}

// AddRead accounts for bytes and records consumed from the input.
func (t *Tracker) AddRead(bytes, records int64) {
	t.bytesRead.Add(bytes)
	t.recordsRead.Add(records)
}

// AddWritten accounts for records emitted to the final output.
func (t *Tracker) AddWritten(records int64) {
	t.recordsWritten.Add(records)
}

// SetTotalChunks records the chunk count once splitting is complete.
func (t *Tracker) SetTotalChunks(n int64) {
	t.totalChunks.Store(n)
}

// ChunkWritten increments the written-chunk counter.
func (t *Tracker) ChunkWritten() {
	t.chunksWritten.Add(1)
}

// ChunkShuffled increments the shuffled-chunk counter.
func (t *Tracker) ChunkShuffled() {
	t.chunksShuffled.Add(1)
}

// ChunkMerged increments the merged-chunk counter.
func (t *Tracker) ChunkMerged() {
	t.chunksMerged.Add(1)
}

// Snapshot returns a point-in-time copy of all counters. It never blocks
// the pipeline; freshness is whatever the atomics held when called.
func (t *Tracker) Snapshot() Snapshot {
	var elapsed time.Duration
	if start := t.startNanos.Load(); start != 0 {
		elapsed = time.Duration(time.Now().UnixNano() - start)
	}

	return Snapshot{
		Stage:          Stage(t.stage.Load()),
		TotalBytes:     t.totalBytes.Load(),
		BytesRead:      t.bytesRead.Load(),
		RecordsRead:    t.recordsRead.Load(),
		RecordsWritten: t.recordsWritten.Load(),
		TotalChunks:    t.totalChunks.Load(),
		ChunksWritten:  t.chunksWritten.Load(),
		ChunksShuffled: t.chunksShuffled.Load(),
		ChunksMerged:   t.chunksMerged.Load(),
		Elapsed:        elapsed,
	}
}

// String renders the snapshot for interactive status output.
func (s Snapshot) String() string {
	pct := 0.0
	if s.TotalBytes > 0 {
		pct = float64(s.BytesRead) / float64(s.TotalBytes) * 100
	}

	switch s.Stage {
	case StageSplit:
		return fmt.Sprintf("stage=split bytes=%d/%d (%.1f%%) records=%d chunks=%d elapsed=%s",
			s.BytesRead, s.TotalBytes, pct, s.RecordsRead, s.ChunksWritten, s.Elapsed.Round(time.Second))
	case StageShuffle:
		return fmt.Sprintf("stage=shuffle chunks=%d/%d elapsed=%s",
			s.ChunksShuffled, s.TotalChunks, s.Elapsed.Round(time.Second))
	case StageMerge:
		return fmt.Sprintf("stage=merge records=%d/%d chunks=%d/%d elapsed=%s",
			s.RecordsWritten, s.RecordsRead, s.ChunksMerged, s.TotalChunks, s.Elapsed.Round(time.Second))
	case StageDone:
		return fmt.Sprintf("stage=done records=%d chunks=%d elapsed=%s",
			s.RecordsWritten, s.TotalChunks, s.Elapsed.Round(time.Second))
	default:
		return "stage=" + s.Stage.String()
	}
}
