package shuffle

import (
	"bufio"
	"context"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/marmos91/bigshuf/internal/logger"
	"github.com/marmos91/bigshuf/pkg/cleanup"
	"github.com/marmos91/bigshuf/pkg/metrics"
	"github.com/marmos91/bigshuf/pkg/progress"
)

// Merger interleaves shuffled chunks into the final output. At each step
// a chunk is drawn with probability proportional to its remaining record
// count and its next record is emitted, so chunk boundaries are not
// visible in the output and every interleaving consistent with the
// per-chunk shuffles is reachable.
type Merger struct {
	cleanup *cleanup.Manager
	tracker *progress.Tracker
	metrics *metrics.ShuffleMetrics
}

// NewMerger creates a merge scheduler.
func NewMerger(cm *cleanup.Manager, tr *progress.Tracker, sm *metrics.ShuffleMetrics) *Merger {
	return &Merger{cleanup: cm, tracker: tr, metrics: sm}
}

// mergeSource is one shuffled chunk participating in the draw pool.
type mergeSource struct {
	chunk     *Chunk
	file      *os.File
	reader    *bufio.Reader
	remaining int64
}

// Merge writes the interleaved output to outPath. The output is staged
// as a registered ".partial" file and renamed into place only on
// success, so no partial output survives a failed run.
func (m *Merger) Merge(ctx context.Context, chunks []*Chunk, rng *rand.Rand, outPath string) error {
	partial := outPath + ".partial"
	m.cleanup.Register(partial)

	out, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return stageErr(stageMerge, -1, fmt.Errorf("failed to create output: %w", err))
	}
	bw := bufio.NewWriterSize(out, writeBufferSize)

	sources, total, err := m.openSources(chunks)
	if err != nil {
		_ = out.Close()
		closeSources(sources)
		return err
	}

	sinceCk := 0
	for total > 0 {
		sinceCk++
		if sinceCk >= cancelCheckInterval {
			sinceCk = 0
			if ctx.Err() != nil {
				_ = out.Close()
				closeSources(sources)
				return stageErr(stageMerge, -1, ErrInterrupted)
			}
		}

		// Draw a chunk weighted by its remaining record count.
		pick := rng.Int64N(total)
		idx := 0
		for pick >= sources[idx].remaining {
			pick -= sources[idx].remaining
			idx++
		}
		src := sources[idx]

		record, rerr := src.reader.ReadBytes('\n')
		if len(record) == 0 || record[len(record)-1] != '\n' {
			_ = out.Close()
			closeSources(sources)
			if rerr == nil {
				rerr = fmt.Errorf("truncated record")
			}
			return stageErr(stageMerge, src.chunk.Index,
				fmt.Errorf("failed to read shuffled chunk: %w", rerr))
		}

		if _, werr := bw.Write(record); werr != nil {
			_ = out.Close()
			closeSources(sources)
			return stageErr(stageMerge, src.chunk.Index,
				fmt.Errorf("failed to write output: %w", werr))
		}

		m.tracker.AddWritten(1)
		m.metrics.AddRecordsWritten(1)

		src.remaining--
		total--
		if src.remaining == 0 {
			if err := m.retire(src); err != nil {
				_ = out.Close()
				closeSources(sources)
				return err
			}
			sources[idx] = sources[len(sources)-1]
			sources = sources[:len(sources)-1]
		}
	}

	if err := bw.Flush(); err != nil {
		_ = out.Close()
		return stageErr(stageMerge, -1, fmt.Errorf("failed to flush output: %w", err))
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return stageErr(stageMerge, -1, fmt.Errorf("failed to sync output: %w", err))
	}
	if err := out.Close(); err != nil {
		return stageErr(stageMerge, -1, fmt.Errorf("failed to close output: %w", err))
	}

	if err := os.Rename(partial, outPath); err != nil {
		return stageErr(stageMerge, -1, fmt.Errorf("failed to move output into place: %w", err))
	}
	m.cleanup.Unregister(partial)

	return nil
}

// openSources opens every shuffled chunk and returns the draw pool and
// total remaining records. Chunks in any other state are a bug in the
// pipeline sequencing.
func (m *Merger) openSources(chunks []*Chunk) ([]*mergeSource, int64, error) {
	sources := make([]*mergeSource, 0, len(chunks))
	var total int64

	for _, c := range chunks {
		if c.State() != StateShuffled {
			closeSources(sources)
			return nil, 0, stageErr(stageMerge, c.Index,
				fmt.Errorf("chunk in state %s cannot be merged", c.State()))
		}
		f, err := os.Open(c.Path)
		if err != nil {
			closeSources(sources)
			return nil, 0, stageErr(stageMerge, c.Index,
				fmt.Errorf("failed to open shuffled chunk: %w", err))
		}
		sources = append(sources, &mergeSource{
			chunk:     c,
			file:      f,
			reader:    bufio.NewReaderSize(f, readBufferSize),
			remaining: c.Records,
		})
		total += c.Records
	}

	return sources, total, nil
}

// retire closes an exhausted source, removes its temp file, and marks
// the chunk Merged.
func (m *Merger) retire(src *mergeSource) error {
	_ = src.file.Close()
	if err := m.cleanup.Remove(src.chunk.Path); err != nil {
		logger.Warn("Failed to remove merged chunk", "chunk", src.chunk.Index, "error", err)
	}
	if err := src.chunk.transition(StateShuffled, StateMerged); err != nil {
		return stageErr(stageMerge, src.chunk.Index, err)
	}
	m.tracker.ChunkMerged()
	m.metrics.ChunkCompleted("merged")
	return nil
}

func closeSources(sources []*mergeSource) {
	for _, s := range sources {
		if s.file != nil {
			_ = s.file.Close()
		}
	}
}
