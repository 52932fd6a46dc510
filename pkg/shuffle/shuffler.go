package shuffle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/marmos91/bigshuf/internal/bytesize"
	"github.com/marmos91/bigshuf/internal/logger"
	"github.com/marmos91/bigshuf/pkg/cleanup"
	"github.com/marmos91/bigshuf/pkg/metrics"
	"github.com/marmos91/bigshuf/pkg/progress"
)

// Shuffler permutes written chunks uniformly at random. Each chunk is
// materialized in memory, shuffled with Fisher-Yates, and rewritten to a
// fresh temp file. Chunks are independent, so shuffling runs on a
// semaphore-bounded worker pool; the memory ceiling is workers times the
// per-chunk budget.
type Shuffler struct {
	chunkBudget int64 // max bytes a single chunk may materialize
	seed        uint64
	cleanup     *cleanup.Manager
	tracker     *progress.Tracker
	metrics     *metrics.ShuffleMetrics
}

// NewShuffler creates a chunk shuffler. chunkBudget caps the bytes any
// single chunk may occupy in memory; seed is the run's master seed.
func NewShuffler(chunkBudget int64, seed uint64, cm *cleanup.Manager, tr *progress.Tracker, sm *metrics.ShuffleMetrics) *Shuffler {
	return &Shuffler{
		chunkBudget: chunkBudget,
		seed:        seed,
		cleanup:     cm,
		tracker:     tr,
		metrics:     sm,
	}
}

// ShuffleAll shuffles every chunk using up to workers goroutines. The
// first failure cancels the remaining work and is returned; the failed
// chunk is marked so it cannot reach the merge stage.
func (s *Shuffler) ShuffleAll(ctx context.Context, chunks []*Chunk, workers int) error {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, workers)

	for _, c := range chunks {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func(c *Chunk) {
				defer wg.Done()
				defer func() { <-sem }()

				if err := s.shuffleChunk(ctx, c); err != nil {
					c.markFailed()
					mu.Lock()
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					mu.Unlock()
				}
			}(c)
		}
		if ctx.Err() != nil {
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return stageErr(stageShuffle, -1, ErrInterrupted)
	}
	return nil
}

// shuffleChunk materializes one chunk, permutes it, and replaces its
// file with the shuffled version.
func (s *Shuffler) shuffleChunk(ctx context.Context, c *Chunk) error {
	if err := ctx.Err(); err != nil {
		return stageErr(stageShuffle, c.Index, ErrInterrupted)
	}

	if c.Bytes > s.chunkBudget {
		return stageErr(stageShuffle, c.Index,
			fmt.Errorf("%w: chunk is %s, budget is %s",
				ErrMemoryExceeded,
				bytesize.ByteSize(c.Bytes).HumanReadable(),
				bytesize.ByteSize(s.chunkBudget).HumanReadable()))
	}

	records, err := readRecords(c.Path, c.Records)
	if err != nil {
		return stageErr(stageShuffle, c.Index, err)
	}

	// Sub-seed derived from the run seed and chunk index, so results do
	// not depend on worker scheduling.
	rng := rand.New(rand.NewPCG(s.seed, uint64(c.Index)+1))
	shuffleRecords(rng, records)

	shuffledPath := c.Path + ".shuffled"
	if err := s.writeShuffled(shuffledPath, records); err != nil {
		return stageErr(stageShuffle, c.Index, err)
	}

	if err := s.cleanup.Remove(c.Path); err != nil {
		logger.Warn("Failed to remove unshuffled chunk", "chunk", c.Index, "error", err)
	}
	c.Path = shuffledPath

	if err := c.transition(StateWritten, StateShuffled); err != nil {
		return stageErr(stageShuffle, c.Index, err)
	}

	s.tracker.ChunkShuffled()
	s.metrics.ChunkCompleted("shuffled")
	logger.Debug("Chunk shuffled", "chunk", c.Index, "records", len(records))
	return nil
}

// shuffleRecords applies a uniform Fisher-Yates permutation.
func shuffleRecords(rng *rand.Rand, records [][]byte) {
	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
}

// readRecords loads a chunk file fully into memory.
func readRecords(path string, expected int64) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk: %w", err)
	}
	defer f.Close()

	records := make([][]byte, 0, expected)
	br := bufio.NewReaderSize(f, readBufferSize)
	for {
		record, err := br.ReadBytes('\n')
		if len(record) > 0 {
			records = append(records, record)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk: %w", err)
		}
	}
	return records, nil
}

// writeShuffled writes the permuted records to a fresh temp file,
// registered for cleanup before any data lands on disk.
func (s *Shuffler) writeShuffled(path string, records [][]byte) error {
	s.cleanup.Register(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create shuffled chunk: %w", err)
	}

	bw := bufio.NewWriterSize(f, writeBufferSize)
	for _, record := range records {
		if _, err := bw.Write(record); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write shuffled chunk: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush shuffled chunk: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync shuffled chunk: %w", err)
	}
	return f.Close()
}
