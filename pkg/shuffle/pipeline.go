package shuffle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/bigshuf/internal/bytesize"
	"github.com/marmos91/bigshuf/internal/logger"
	"github.com/marmos91/bigshuf/internal/telemetry"
	"github.com/marmos91/bigshuf/pkg/cleanup"
	"github.com/marmos91/bigshuf/pkg/metrics"
	"github.com/marmos91/bigshuf/pkg/progress"
)

// Config controls a shuffle run. ChunkMaxBytes is the operator's memory
// knob: peak memory is roughly Workers x ChunkMaxBytes, clamped under
// MemoryLimit.
type Config struct {
	// ChunkMaxBytes bounds each chunk's size on disk and therefore in
	// memory during shuffling.
	ChunkMaxBytes int64

	// ChunkMaxRecords additionally bounds the records per chunk when
	// positive (0 = byte-bounded only).
	ChunkMaxRecords int64

	// Workers is the number of chunks shuffled concurrently.
	Workers int

	// MemoryLimit caps Workers x ChunkMaxBytes; Workers is reduced to
	// fit.
	MemoryLimit int64

	// Seed makes runs reproducible when non-zero; 0 derives a seed from
	// the clock.
	Seed uint64
}

// Report summarizes a completed run.
type Report struct {
	Chunks   int
	Records  int64
	Bytes    int64
	Seed     uint64
	Duration time.Duration
}

// Pipeline runs split, shuffle, and merge under a single context and
// random source, with all temporary state owned by one cleanup manager.
type Pipeline struct {
	cfg     Config
	seed    uint64
	cleanup *cleanup.Manager
	tracker *progress.Tracker
	metrics *metrics.ShuffleMetrics
}

// New validates the configuration and creates a pipeline.
func New(cfg Config, cm *cleanup.Manager, tr *progress.Tracker, sm *metrics.ShuffleMetrics) (*Pipeline, error) {
	if cfg.ChunkMaxBytes <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, cfg.ChunkMaxBytes)
	}
	if cfg.ChunkMaxRecords < 0 {
		return nil, fmt.Errorf("%w: chunk record bound must not be negative, got %d", ErrInvalidConfig, cfg.ChunkMaxRecords)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, cfg.Workers)
	}
	if cfg.MemoryLimit <= 0 {
		return nil, fmt.Errorf("%w: memory limit must be positive, got %d", ErrInvalidConfig, cfg.MemoryLimit)
	}
	if cfg.ChunkMaxBytes > cfg.MemoryLimit {
		return nil, fmt.Errorf("%w: chunk size %s exceeds memory limit %s",
			ErrInvalidConfig,
			bytesize.ByteSize(cfg.ChunkMaxBytes).HumanReadable(),
			bytesize.ByteSize(cfg.MemoryLimit).HumanReadable())
	}

	// Clamp parallelism so concurrently materialized chunks stay under
	// the memory ceiling.
	if maxWorkers := int(cfg.MemoryLimit / cfg.ChunkMaxBytes); cfg.Workers > maxWorkers {
		logger.Warn("Reducing workers to fit memory limit",
			"requested", cfg.Workers,
			"workers", maxWorkers,
			"chunk_size", bytesize.ByteSize(cfg.ChunkMaxBytes).String(),
			"memory_limit", bytesize.ByteSize(cfg.MemoryLimit).String())
		cfg.Workers = maxWorkers
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Pipeline{
		cfg:     cfg,
		seed:    seed,
		cleanup: cm,
		tracker: tr,
		metrics: sm,
	}, nil
}

// Seed returns the seed in effect for this run.
func (p *Pipeline) Seed() uint64 {
	return p.seed
}

// Run shuffles inputPath into outputPath. The output file appears only
// on success; on any failure or cancellation the caller's cleanup
// manager removes every artifact this run created.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string) (*Report, error) {
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "bigshuf.run",
		trace.WithAttributes(attribute.String("input", inputPath)))
	defer span.End()

	in, err := os.Open(inputPath)
	if err != nil {
		err = stageErr(stageSplit, -1, fmt.Errorf("failed to open input: %w", err))
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		err = stageErr(stageSplit, -1, fmt.Errorf("failed to stat input: %w", err))
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	p.tracker.Start(info.Size())
	logger.Info("Shuffle started",
		"input", inputPath,
		"size", bytesize.ByteSize(info.Size()).HumanReadable(),
		"chunk_size", bytesize.ByteSize(p.cfg.ChunkMaxBytes).String(),
		"workers", p.cfg.Workers,
		"seed", p.seed)

	chunks, err := p.split(ctx, in)
	if err != nil {
		err = p.classify(ctx, err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	p.tracker.SetTotalChunks(int64(len(chunks)))

	if err := p.shuffleChunks(ctx, chunks); err != nil {
		err = p.classify(ctx, err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	if err := p.merge(ctx, chunks, outputPath); err != nil {
		err = p.classify(ctx, err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	p.tracker.SetStage(progress.StageDone)

	snap := p.tracker.Snapshot()
	report := &Report{
		Chunks:   len(chunks),
		Records:  snap.RecordsWritten,
		Bytes:    snap.BytesRead,
		Seed:     p.seed,
		Duration: time.Since(start),
	}
	logger.Info("Shuffle complete",
		"output", outputPath,
		"records", report.Records,
		"chunks", report.Chunks,
		"duration", report.Duration.Round(time.Millisecond))
	return report, nil
}

func (p *Pipeline) split(ctx context.Context, in *os.File) ([]*Chunk, error) {
	stageStart := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "bigshuf.split")
	defer span.End()

	p.tracker.SetStage(progress.StageSplit)
	writer := NewWriter(p.cfg.ChunkMaxBytes, p.cfg.ChunkMaxRecords, p.cleanup, p.tracker, p.metrics)
	chunks, err := writer.Split(ctx, in)
	if err != nil {
		return nil, err
	}

	p.metrics.ObserveStageDuration("split", time.Since(stageStart).Seconds())
	logger.Info("Input split into chunks", "chunks", len(chunks))
	return chunks, nil
}

func (p *Pipeline) shuffleChunks(ctx context.Context, chunks []*Chunk) error {
	stageStart := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "bigshuf.shuffle",
		trace.WithAttributes(attribute.Int("chunks", len(chunks))))
	defer span.End()

	p.tracker.SetStage(progress.StageShuffle)

	// Each worker may materialize one chunk, so a chunk's in-memory
	// budget is its share of the memory limit. This is at least
	// ChunkMaxBytes, which lets an oversized single-record chunk through
	// as long as it fits the share.
	budget := p.cfg.MemoryLimit / int64(p.cfg.Workers)
	shuffler := NewShuffler(budget, p.seed, p.cleanup, p.tracker, p.metrics)
	if err := shuffler.ShuffleAll(ctx, chunks, p.cfg.Workers); err != nil {
		return err
	}

	p.metrics.ObserveStageDuration("shuffle", time.Since(stageStart).Seconds())
	return nil
}

func (p *Pipeline) merge(ctx context.Context, chunks []*Chunk, outputPath string) error {
	stageStart := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "bigshuf.merge")
	defer span.End()

	p.tracker.SetStage(progress.StageMerge)

	// The merge draws from its own stream of the run's random source,
	// offset so it does not replay any chunk's sub-sequence.
	rng := rand.New(rand.NewPCG(p.seed, ^uint64(0)))
	merger := NewMerger(p.cleanup, p.tracker, p.metrics)
	if err := merger.Merge(ctx, chunks, rng, outputPath); err != nil {
		return err
	}

	p.metrics.ObserveStageDuration("merge", time.Since(stageStart).Seconds())
	return nil
}

// classify maps context cancellation onto ErrInterrupted so callers see
// the operator's intent rather than a bare context error.
func (p *Pipeline) classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrInterrupted) {
		return err
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return stageErr(p.tracker.Stage().String(), -1, ErrInterrupted)
	}
	return err
}
