package shuffle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/bigshuf/pkg/cleanup"
	"github.com/marmos91/bigshuf/pkg/progress"
)

// testEnv bundles the collaborators every stage needs.
type testEnv struct {
	cleanup *cleanup.Manager
	tracker *progress.Tracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cm, err := cleanup.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(cm.Cleanup)
	return &testEnv{cleanup: cm, tracker: &progress.Tracker{}}
}

// inputLines builds newline-terminated test input "line_0".."line_{n-1}".
func inputLines(n int) (string, []string) {
	lines := make([]string, n)
	var b strings.Builder
	for i := range lines {
		lines[i] = fmt.Sprintf("line_%04d", i)
		b.WriteString(lines[i])
		b.WriteByte('\n')
	}
	return b.String(), lines
}

// chunkLines reads the records currently stored in a chunk file.
func chunkLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if len(data) == 0 {
		return nil
	}
	trimmed := strings.TrimSuffix(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// sortedCopy returns a sorted copy for multiset comparison.
func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func TestSplitPartitionsInput(t *testing.T) {
	tests := []struct {
		name       string
		records    int
		maxBytes   int64
		maxRecords int64
		wantChunks int
	}{
		{"two records per chunk", 6, 1 << 20, 2, 3},
		{"single chunk fits all", 6, 1 << 20, 0, 1},
		{"one record per chunk", 4, 1, 0, 4},
		{"uneven last chunk", 5, 1 << 20, 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			input, lines := inputLines(tt.records)

			w := NewWriter(tt.maxBytes, tt.maxRecords, env.cleanup, env.tracker, nil)
			chunks, err := w.Split(context.Background(), strings.NewReader(input))
			require.NoError(t, err)
			require.Len(t, chunks, tt.wantChunks)

			// Chunks partition the input losslessly and in order.
			var got []string
			var totalBytes int64
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, StateWritten, c.State())
				recs := chunkLines(t, c.Path)
				assert.Equal(t, int64(len(recs)), c.Records)
				got = append(got, recs...)
				totalBytes += c.Bytes
			}
			assert.Equal(t, lines, got, "concatenated chunks must equal the input")
			assert.Equal(t, int64(len(input)), totalBytes)
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	env := newTestEnv(t)

	w := NewWriter(1<<20, 0, env.cleanup, env.tracker, nil)
	chunks, err := w.Split(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitNormalizesMissingTerminator(t *testing.T) {
	env := newTestEnv(t)

	w := NewWriter(1<<20, 0, env.cleanup, env.tracker, nil)
	chunks, err := w.Split(context.Background(), strings.NewReader("a\nb\nc"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	data, err := os.ReadFile(chunks[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(data))
	assert.Equal(t, int64(3), chunks[0].Records)
}

func TestSplitRespectsByteBudget(t *testing.T) {
	env := newTestEnv(t)
	input, _ := inputLines(100) // 10 bytes per record

	w := NewWriter(35, 0, env.cleanup, env.tracker, nil)
	chunks, err := w.Split(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.Bytes, int64(35), "chunk %d over budget", c.Index)
	}
	// 3 records of 10 bytes fit in 35.
	assert.Equal(t, int64(3), chunks[0].Records)
}

func TestSplitOversizedRecordGetsOwnChunk(t *testing.T) {
	env := newTestEnv(t)
	input := "short\n" + strings.Repeat("x", 100) + "\nshort2\n"

	w := NewWriter(20, 0, env.cleanup, env.tracker, nil)
	chunks, err := w.Split(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, int64(1), chunks[1].Records)
	assert.Equal(t, int64(101), chunks[1].Bytes)
}

func TestSplitUpdatesProgress(t *testing.T) {
	env := newTestEnv(t)
	input, _ := inputLines(10)

	w := NewWriter(1<<20, 3, env.cleanup, env.tracker, nil)
	_, err := w.Split(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	snap := env.tracker.Snapshot()
	assert.Equal(t, int64(10), snap.RecordsRead)
	assert.Equal(t, int64(len(input)), snap.BytesRead)
	assert.Equal(t, int64(4), snap.ChunksWritten)
}

func TestSplitCreateFailure(t *testing.T) {
	env := newTestEnv(t)
	input, _ := inputLines(6)

	// Fail creation of the second chunk file.
	w := NewWriter(1<<20, 2, env.cleanup, env.tracker, nil)
	injected := errors.New("disk full")
	var created int
	w.createFile = func(path string) (*os.File, error) {
		created++
		if created == 2 {
			return nil, injected
		}
		return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	}

	_, err := w.Split(context.Background(), strings.NewReader(input))
	require.Error(t, err)
	assert.ErrorIs(t, err, injected)

	var stageE *StageError
	require.ErrorAs(t, err, &stageE)
	assert.Equal(t, "split", stageE.Stage)
	assert.Equal(t, 1, stageE.Chunk)

	// Everything written so far is removed by cleanup.
	dir := env.cleanup.Dir()
	env.cleanup.Cleanup()
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "temp dir must be gone after cleanup")
}

func TestSplitCancelled(t *testing.T) {
	env := newTestEnv(t)

	// Enough records to hit the periodic context check.
	var b bytes.Buffer
	for i := 0; i < 10000; i++ {
		fmt.Fprintf(&b, "record %d\n", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWriter(1<<20, 0, env.cleanup, env.tracker, nil)
	_, err := w.Split(ctx, &b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)
}
