package cleanup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupRemovesRegisteredFiles(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(m.Dir(), "chunk_"+string(rune('0'+i)))
		m.Register(paths[i])
		require.NoError(t, os.WriteFile(paths[i], []byte("data\n"), 0600))
	}

	m.Cleanup()

	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "file %s should be removed", p)
	}
	_, err = os.Stat(m.Dir())
	assert.True(t, os.IsNotExist(err), "run temp dir should be removed")
}

func TestCleanupIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	p := filepath.Join(m.Dir(), "chunk_0")
	m.Register(p)
	require.NoError(t, os.WriteFile(p, []byte("data\n"), 0600))

	m.Cleanup()
	m.Cleanup()
	m.Cleanup()
}

func TestCleanupToleratesMissingFiles(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	// Registered but never created.
	m.Register(filepath.Join(m.Dir(), "never_written"))
	m.Cleanup()
}

func TestUnregisterKeepsFile(t *testing.T) {
	base := t.TempDir()
	m, err := NewManager(base)
	require.NoError(t, err)

	// A file outside the run dir, e.g. a renamed output.
	kept := filepath.Join(base, "output.txt")
	m.Register(kept)
	require.NoError(t, os.WriteFile(kept, []byte("result\n"), 0600))
	m.Unregister(kept)

	m.Cleanup()

	_, err = os.Stat(kept)
	assert.NoError(t, err, "unregistered file must survive cleanup")
}

func TestRemoveSingle(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	defer m.Cleanup()

	p := filepath.Join(m.Dir(), "intermediate")
	m.Register(p)
	require.NoError(t, os.WriteFile(p, []byte("x\n"), 0600))

	require.NoError(t, m.Remove(p))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	// Removing again is not an error.
	require.NoError(t, m.Remove(p))
}
