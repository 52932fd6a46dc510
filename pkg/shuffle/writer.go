package shuffle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/bigshuf/internal/logger"
	"github.com/marmos91/bigshuf/pkg/cleanup"
	"github.com/marmos91/bigshuf/pkg/metrics"
	"github.com/marmos91/bigshuf/pkg/progress"
)

const (
	// readBufferSize is the bufio buffer for the input stream.
	readBufferSize = 256 << 10

	// writeBufferSize is the bufio buffer for chunk and output files.
	writeBufferSize = 256 << 10

	// cancelCheckInterval is how many records are processed between
	// context checks on the hot path.
	cancelCheckInterval = 4096
)

// Writer partitions an input stream of newline-delimited records into
// bounded chunk files. Every record lands in exactly one chunk; chunk
// files are registered for cleanup before any data is written to them.
type Writer struct {
	maxBytes   int64
	maxRecords int64
	cleanup    *cleanup.Manager
	tracker    *progress.Tracker
	metrics    *metrics.ShuffleMetrics

	// createFile is swappable for failure-injection tests.
	createFile func(path string) (*os.File, error)
}

// NewWriter creates a chunk writer. maxBytes bounds each chunk's size on
// disk; maxRecords additionally bounds the record count when positive.
func NewWriter(maxBytes, maxRecords int64, cm *cleanup.Manager, tr *progress.Tracker, sm *metrics.ShuffleMetrics) *Writer {
	return &Writer{
		maxBytes:   maxBytes,
		maxRecords: maxRecords,
		cleanup:    cm,
		tracker:    tr,
		metrics:    sm,
		createFile: func(path string) (*os.File, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		},
	}
}

// openChunk tracks the chunk currently being filled.
type openChunk struct {
	chunk *Chunk
	file  *os.File
	buf   *bufio.Writer
}

// Split consumes the input stream and returns the ordered chunk handles.
// Records are opaque byte sequences terminated by '\n'; a final record
// missing its terminator is normalized to end with one.
func (w *Writer) Split(ctx context.Context, r io.Reader) ([]*Chunk, error) {
	br := bufio.NewReaderSize(r, readBufferSize)

	var (
		chunks  []*Chunk
		current *openChunk
		sinceCk int
	)

	for {
		sinceCk++
		if sinceCk >= cancelCheckInterval {
			sinceCk = 0
			if err := ctx.Err(); err != nil {
				w.abandon(current)
				return nil, stageErr(stageSplit, -1, ErrInterrupted)
			}
		}

		record, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			w.abandon(current)
			return nil, stageErr(stageSplit, -1, fmt.Errorf("failed to read input: %w", err))
		}
		if len(record) == 0 {
			break // clean EOF
		}
		if record[len(record)-1] != '\n' {
			record = append(record, '\n')
		}

		if current != nil && w.full(current.chunk, int64(len(record))) {
			if ferr := w.finish(current); ferr != nil {
				return nil, ferr
			}
			chunks = append(chunks, current.chunk)
			current = nil
		}

		if current == nil {
			oc, cerr := w.newChunk(len(chunks))
			if cerr != nil {
				return nil, cerr
			}
			current = oc
		}

		if _, werr := current.buf.Write(record); werr != nil {
			idx := current.chunk.Index
			w.abandon(current)
			return nil, stageErr(stageSplit, idx, fmt.Errorf("failed to write chunk: %w", werr))
		}
		current.chunk.Records++
		current.chunk.Bytes += int64(len(record))
		w.tracker.AddRead(int64(len(record)), 1)
		w.metrics.AddBytesRead(int64(len(record)))
		w.metrics.AddRecordsRead(1)

		if errors.Is(err, io.EOF) {
			break
		}
	}

	if current != nil {
		if err := w.finish(current); err != nil {
			return nil, err
		}
		chunks = append(chunks, current.chunk)
	}

	return chunks, nil
}

// full reports whether adding a record of the given size would overflow
// the chunk's byte budget or record bound. A chunk always accepts at
// least one record regardless of budget.
func (w *Writer) full(c *Chunk, recordLen int64) bool {
	if c.Records == 0 {
		return false
	}
	if w.maxRecords > 0 && c.Records >= w.maxRecords {
		return true
	}
	return c.Bytes+recordLen > w.maxBytes
}

// newChunk allocates the next chunk temp file. The path is registered
// with the cleanup manager before the file is created so a crash
// mid-write still leaves a cleanable artifact.
func (w *Writer) newChunk(index int) (*openChunk, error) {
	path := filepath.Join(w.cleanup.Dir(), fmt.Sprintf("chunk_%06d", index))
	w.cleanup.Register(path)

	f, err := w.createFile(path)
	if err != nil {
		return nil, stageErr(stageSplit, index, fmt.Errorf("failed to create chunk file: %w", err))
	}

	return &openChunk{
		chunk: &Chunk{Index: index, Path: path},
		file:  f,
		buf:   bufio.NewWriterSize(f, writeBufferSize),
	}, nil
}

// finish flushes the chunk to stable storage and marks it Written.
func (w *Writer) finish(oc *openChunk) error {
	idx := oc.chunk.Index
	if err := oc.buf.Flush(); err != nil {
		w.abandon(oc)
		return stageErr(stageSplit, idx, fmt.Errorf("failed to flush chunk: %w", err))
	}
	if err := oc.file.Sync(); err != nil {
		w.abandon(oc)
		return stageErr(stageSplit, idx, fmt.Errorf("failed to sync chunk: %w", err))
	}
	if err := oc.file.Close(); err != nil {
		return stageErr(stageSplit, idx, fmt.Errorf("failed to close chunk: %w", err))
	}
	if err := oc.chunk.transition(StateUnwritten, StateWritten); err != nil {
		return stageErr(stageSplit, idx, err)
	}

	w.tracker.ChunkWritten()
	w.metrics.ChunkCompleted("written")
	logger.Debug("Chunk written",
		"chunk", idx,
		"records", oc.chunk.Records,
		"bytes", oc.chunk.Bytes)
	return nil
}

// abandon closes a partially written chunk; its file stays registered
// with the cleanup manager.
func (w *Writer) abandon(oc *openChunk) {
	if oc == nil {
		return
	}
	oc.chunk.markFailed()
	_ = oc.file.Close()
}
