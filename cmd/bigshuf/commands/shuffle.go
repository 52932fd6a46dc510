package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/bigshuf/internal/bytesize"
	"github.com/marmos91/bigshuf/internal/cli/output"
	"github.com/marmos91/bigshuf/internal/cli/prompt"
	"github.com/marmos91/bigshuf/internal/logger"
	"github.com/marmos91/bigshuf/internal/telemetry"
	"github.com/marmos91/bigshuf/pkg/cleanup"
	"github.com/marmos91/bigshuf/pkg/config"
	"github.com/marmos91/bigshuf/pkg/metrics"
	"github.com/marmos91/bigshuf/pkg/progress"
	"github.com/marmos91/bigshuf/pkg/shuffle"
)

var (
	shuffleChunkSize   string
	shuffleRecords     int64
	shuffleWorkers     int
	shuffleMemoryLimit string
	shuffleTempDir     string
	shuffleSeed        uint64
	shuffleForce       bool
)

var shuffleCmd = &cobra.Command{
	Use:   "shuffle <input> <output>",
	Short: "Shuffle the lines of a file",
	Long: `Shuffle the lines of a file into a new file using bounded memory.

The input is split into chunks of at most --chunk-size bytes, each chunk is
shuffled in memory, and the chunks are interleaved into the output. Peak
memory use is roughly --workers x --chunk-size.

The output file only appears once the whole run succeeds; interrupted or
failed runs leave no partial output and no temporary files behind.

Examples:
  # Shuffle with defaults (64Mi chunks, 4 workers)
  bigshuf shuffle corpus.txt corpus.shuffled.txt

  # Bound memory tightly on a small machine
  bigshuf shuffle --chunk-size 16Mi --workers 2 corpus.txt out.txt

  # Reproducible shuffle
  bigshuf shuffle --seed 42 corpus.txt out.txt

  # Use environment variable overrides
  BIGSHUF_SHUFFLE_WORKERS=8 bigshuf shuffle corpus.txt out.txt`,
	Args: cobra.ExactArgs(2),
	RunE: runShuffle,
}

func init() {
	shuffleCmd.Flags().StringVar(&shuffleChunkSize, "chunk-size", "", "Maximum chunk size, e.g. 64Mi or 1GB")
	shuffleCmd.Flags().Int64Var(&shuffleRecords, "records", 0, "Maximum records per chunk (0 = byte-bounded only)")
	shuffleCmd.Flags().IntVarP(&shuffleWorkers, "workers", "w", 0, "Number of chunks shuffled concurrently")
	shuffleCmd.Flags().StringVar(&shuffleMemoryLimit, "memory-limit", "", "Upper bound on shuffle memory, e.g. 1Gi")
	shuffleCmd.Flags().StringVar(&shuffleTempDir, "temp-dir", "", "Directory for temporary chunk files")
	shuffleCmd.Flags().Uint64Var(&shuffleSeed, "seed", 0, "Fixed seed for reproducible runs (0 = random)")
	shuffleCmd.Flags().BoolVarP(&shuffleForce, "force", "f", false, "Overwrite the output file without asking")
}

func runShuffle(cmd *cobra.Command, args []string) error {
	inputPath, outputPath := args[0], args[1]

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := applyShuffleFlags(cmd, &cfg.Shuffle); err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("cannot read input file %s: %w", inputPath, err)
	}

	if _, err := os.Stat(outputPath); err == nil {
		if !shuffleForce && !logger.IsTerminal(os.Stdin.Fd()) {
			return fmt.Errorf("output file %s exists (use --force to overwrite)", outputPath)
		}
		ok, err := prompt.ConfirmWithForce(
			fmt.Sprintf("Output file %s exists, overwrite?", outputPath), shuffleForce)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "bigshuf",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	// Initialize metrics (if enabled)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		metricsServer.Start()
		defer metricsServer.Stop(context.Background())
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}
	shuffleMetrics := metrics.NewShuffleMetrics()

	tempDir := cfg.Shuffle.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	cm, err := cleanup.NewManager(tempDir)
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer cm.Cleanup()

	tracker := &progress.Tracker{}
	pipeline, err := shuffle.New(shuffle.Config{
		ChunkMaxBytes:   int64(cfg.Shuffle.ChunkSize),
		ChunkMaxRecords: cfg.Shuffle.ChunkRecords,
		Workers:         cfg.Shuffle.Workers,
		MemoryLimit:     int64(cfg.Shuffle.MemoryLimit),
		Seed:            cfg.Shuffle.Seed,
	}, cm, tracker, shuffleMetrics)
	if err != nil {
		return err
	}

	// Report progress on Enter when running interactively.
	if logger.IsTerminal(os.Stdin.Fd()) {
		go reportOnEnter(tracker)
		fmt.Fprintln(os.Stderr, "Shuffling. Press Enter for a progress snapshot, Ctrl+C to abort.")
	}

	runDone := make(chan struct{})
	var report *shuffle.Report
	var runErr error
	go func() {
		defer close(runDone)
		report, runErr = pipeline.Run(ctx, inputPath, outputPath)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		signal.Stop(sigChan)
		logger.Warn("Shutdown signal received, aborting shuffle", "signal", sig.String())
		cancel()
		<-runDone
	case <-runDone:
		signal.Stop(sigChan)
	}

	if runErr != nil {
		return runErr
	}

	printSummary(outputPath, report)
	return nil
}

// applyShuffleFlags overlays explicitly set CLI flags onto the loaded
// configuration. Flags take precedence over file and environment values.
func applyShuffleFlags(cmd *cobra.Command, cfg *config.ShuffleConfig) error {
	if cmd.Flags().Changed("chunk-size") {
		size, err := bytesize.Parse(shuffleChunkSize)
		if err != nil {
			return fmt.Errorf("invalid --chunk-size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if cmd.Flags().Changed("memory-limit") {
		limit, err := bytesize.Parse(shuffleMemoryLimit)
		if err != nil {
			return fmt.Errorf("invalid --memory-limit: %w", err)
		}
		cfg.MemoryLimit = limit
	}
	if cmd.Flags().Changed("records") {
		cfg.ChunkRecords = shuffleRecords
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = shuffleWorkers
	}
	if cmd.Flags().Changed("temp-dir") {
		cfg.TempDir = shuffleTempDir
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = shuffleSeed
	}
	return nil
}

// reportOnEnter prints a progress snapshot each time the user presses
// Enter. Runs until stdin closes or the process exits.
func reportOnEnter(tracker *progress.Tracker) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fmt.Fprintln(os.Stderr, tracker.Snapshot().String())
	}
}

// printSummary renders the run report as a key-value table.
func printSummary(outputPath string, report *shuffle.Report) {
	fmt.Println()
	_ = output.SimpleTable(os.Stdout, [][2]string{
		{"Output", outputPath},
		{"Records", fmt.Sprintf("%d", report.Records)},
		{"Chunks", fmt.Sprintf("%d", report.Chunks)},
		{"Input size", bytesize.ByteSize(report.Bytes).HumanReadable()},
		{"Seed", fmt.Sprintf("%d", report.Seed)},
		{"Duration", report.Duration.Round(time.Millisecond).String()},
	})
}
