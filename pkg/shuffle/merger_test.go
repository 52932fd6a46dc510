package shuffle

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shuffledChunks prepares Shuffled chunks from the given input.
func shuffledChunks(t *testing.T, env *testEnv, input string, maxRecords int64, seed uint64) []*Chunk {
	t.Helper()
	chunks := splitInput(t, env, input, maxRecords)
	s := NewShuffler(1<<20, seed, env.cleanup, env.tracker, nil)
	require.NoError(t, s.ShuffleAll(context.Background(), chunks, 2))
	return chunks
}

func TestMergePreservesMultiset(t *testing.T) {
	env := newTestEnv(t)
	input, lines := inputLines(50)
	chunks := shuffledChunks(t, env, input, 7, 11)

	out := filepath.Join(t.TempDir(), "out.txt")
	m := NewMerger(env.cleanup, env.tracker, nil)
	rng := rand.New(rand.NewPCG(1, 2))
	require.NoError(t, m.Merge(context.Background(), chunks, rng, out))

	got := chunkLines(t, out)
	assert.Equal(t, sortedCopy(lines), sortedCopy(got))
	assert.Len(t, got, 50)
}

func TestMergeRetiresChunks(t *testing.T) {
	env := newTestEnv(t)
	input, _ := inputLines(30)
	chunks := shuffledChunks(t, env, input, 10, 5)
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = c.Path
	}

	out := filepath.Join(t.TempDir(), "out.txt")
	m := NewMerger(env.cleanup, env.tracker, nil)
	require.NoError(t, m.Merge(context.Background(), chunks, rand.New(rand.NewPCG(3, 4)), out))

	for i, c := range chunks {
		assert.Equal(t, StateMerged, c.State())
		_, err := os.Stat(paths[i])
		assert.True(t, os.IsNotExist(err), "merged chunk file %d must be removed", i)
	}

	snap := env.tracker.Snapshot()
	assert.Equal(t, int64(len(chunks)), snap.ChunksMerged)
	assert.Equal(t, int64(30), snap.RecordsWritten)
}

func TestMergePreservesPerChunkOrder(t *testing.T) {
	env := newTestEnv(t)
	input, _ := inputLines(60)
	chunks := shuffledChunks(t, env, input, 20, 21)

	// Record each chunk's stored order before merging.
	stored := make(map[int][]string)
	for _, c := range chunks {
		stored[c.Index] = chunkLines(t, c.Path)
	}

	out := filepath.Join(t.TempDir(), "out.txt")
	m := NewMerger(env.cleanup, env.tracker, nil)
	require.NoError(t, m.Merge(context.Background(), chunks, rand.New(rand.NewPCG(8, 9)), out))

	merged := chunkLines(t, out)

	// Each chunk's records must appear in the output as a subsequence
	// in their shuffled order.
	for idx, want := range stored {
		pos := 0
		for _, line := range merged {
			if pos < len(want) && line == want[pos] {
				pos++
			}
		}
		assert.Equal(t, len(want), pos, "chunk %d records out of relative order", idx)
	}
}

func TestMergeNoChunks(t *testing.T) {
	env := newTestEnv(t)

	out := filepath.Join(t.TempDir(), "out.txt")
	m := NewMerger(env.cleanup, env.tracker, nil)
	require.NoError(t, m.Merge(context.Background(), nil, rand.New(rand.NewPCG(0, 1)), out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMergeSeededReproducible(t *testing.T) {
	run := func() string {
		env := newTestEnv(t)
		input, _ := inputLines(40)
		chunks := shuffledChunks(t, env, input, 10, 77)

		out := filepath.Join(t.TempDir(), "out.txt")
		m := NewMerger(env.cleanup, env.tracker, nil)
		require.NoError(t, m.Merge(context.Background(), chunks, rand.New(rand.NewPCG(5, 6)), out))

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		return string(data)
	}

	assert.Equal(t, run(), run())
}

func TestMergeRejectsUnshuffledChunk(t *testing.T) {
	env := newTestEnv(t)
	input, _ := inputLines(10)
	chunks := splitInput(t, env, input, 0) // Written, not Shuffled

	out := filepath.Join(t.TempDir(), "out.txt")
	m := NewMerger(env.cleanup, env.tracker, nil)
	err := m.Merge(context.Background(), chunks, rand.New(rand.NewPCG(1, 1)), out)
	require.Error(t, err)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no output may exist after a failed merge")
}

func TestMergeNoPartialOutputOnCancel(t *testing.T) {
	env := newTestEnv(t)
	input, _ := inputLines(10000)
	chunks := shuffledChunks(t, env, input, 0, 13)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outDir := t.TempDir()
	out := filepath.Join(outDir, "out.txt")
	m := NewMerger(env.cleanup, env.tracker, nil)
	err := m.Merge(ctx, chunks, rand.New(rand.NewPCG(2, 2)), out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)

	env.cleanup.Cleanup()

	entries, rerr := os.ReadDir(outDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "no output artifacts may remain after cancellation")
}
