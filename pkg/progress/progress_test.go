package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReflectsUpdates(t *testing.T) {
	var tr Tracker
	tr.Start(1000)

	tr.AddRead(500, 10)
	tr.ChunkWritten()
	tr.SetTotalChunks(3)

	snap := tr.Snapshot()
	assert.Equal(t, StageSplit, snap.Stage)
	assert.Equal(t, int64(1000), snap.TotalBytes)
	assert.Equal(t, int64(500), snap.BytesRead)
	assert.Equal(t, int64(10), snap.RecordsRead)
	assert.Equal(t, int64(1), snap.ChunksWritten)
	assert.Equal(t, int64(3), snap.TotalChunks)
}

func TestSnapshotMonotonic(t *testing.T) {
	var tr Tracker
	tr.Start(1 << 20)

	prev := tr.Snapshot()
	for i := 0; i < 100; i++ {
		tr.AddRead(128, 1)
		tr.AddWritten(1)

		snap := tr.Snapshot()
		require.GreaterOrEqual(t, snap.BytesRead, prev.BytesRead)
		require.GreaterOrEqual(t, snap.RecordsRead, prev.RecordsRead)
		require.GreaterOrEqual(t, snap.RecordsWritten, prev.RecordsWritten)
		prev = snap
	}
}

func TestConcurrentSnapshots(t *testing.T) {
	var tr Tracker
	tr.Start(0)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Writers hammer the counters while readers snapshot.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10000; j++ {
				tr.AddRead(64, 1)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = tr.Snapshot()
				}
			}
		}()
	}

	// Wait for writers, then stop readers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for tr.Snapshot().RecordsRead < 4*10000 {
		}
	}()
	<-done
	close(stop)
	wg.Wait()

	snap := tr.Snapshot()
	assert.Equal(t, int64(4*10000), snap.RecordsRead)
	assert.Equal(t, int64(4*10000*64), snap.BytesRead)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "split", StageSplit.String())
	assert.Equal(t, "shuffle", StageShuffle.String())
	assert.Equal(t, "merge", StageMerge.String())
	assert.Equal(t, "done", StageDone.String())
}
