package evlog

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitPrependsNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := Open(path, 1000, 7)
	require.NoError(t, err)

	require.NoError(t, l.Emit("first"))
	require.NoError(t, l.Emit("second"))

	lines := l.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "second")
	assert.Contains(t, lines[1], "first")
}

// Invariant 9: never more than max_lines lines.
func TestEmitTruncatesToMaxLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := Open(path, 5, 7)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Emit(fmt.Sprintf("line %d", i)))
	}
	assert.Equal(t, 5, l.Len())
}

func TestOpenSeedsFromExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := Open(path, 1000, 7)
	require.NoError(t, err)
	require.NoError(t, l.Emit("persisted line"))

	reopened, err := Open(path, 1000, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	assert.Contains(t, reopened.Lines()[0], "persisted line")
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	l, err := Open(path, 1000, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
}

func TestGCDropsLinesOlderThanMaxAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := Open(path, 1000, 7)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-10 * 24 * time.Hour).Format(timestampLayout)
	l.lines = []string{old + " stale entry"}
	l.gc(time.Now().UTC())
	assert.Empty(t, l.lines)
}

func TestGCKeepsUnparseableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := Open(path, 1000, 7)
	require.NoError(t, err)
	l.lines = []string{"not a timestamp at all"}
	l.gc(time.Now().UTC())
	assert.Len(t, l.lines, 1)
}
