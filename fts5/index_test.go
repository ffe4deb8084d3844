package fts5

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fts5go/fts5go/internal/segment"
)

func openIndex(t *testing.T) *Index {
	t.Helper()
	pages := segment.NewMemPageStore()
	path := filepath.Join(t.TempDir(), "structure.json")
	idx, err := Open(pages, path, DefaultConfig())
	require.NoError(t, err)
	return idx
}

func TestIndexWriteFlushPopulatesSegment(t *testing.T) {
	idx := openIndex(t)
	require.NoError(t, idx.Write([]byte("cat"), 1, 0, 0))
	require.NoError(t, idx.Write([]byte("dog"), 2, 0, 0))
	require.Equal(t, 2, idx.Hash().NumEntries())

	require.NoError(t, idx.Flush())
	require.Equal(t, 0, idx.Hash().NumEntries())
	require.Len(t, idx.Store().Structure().Levels[0].Segments, 1)
}

func TestIndexRollbackDiscardsPendingWrites(t *testing.T) {
	idx := openIndex(t)
	require.NoError(t, idx.Write([]byte("cat"), 1, 0, 0))
	idx.Rollback()
	require.Equal(t, 0, idx.Hash().NumEntries())
}

func TestIndexInterruptBlocksFurtherWrites(t *testing.T) {
	idx := openIndex(t)
	idx.Interrupt()
	err := idx.Write([]byte("cat"), 1, 0, 0)
	require.Error(t, err)
}

func TestIndexSavepointReleaseKeepsWrites(t *testing.T) {
	idx := openIndex(t)
	require.NoError(t, idx.Write([]byte("cat"), 1, 0, 0))
	require.NoError(t, idx.Savepoint(0))
	require.NoError(t, idx.Write([]byte("dog"), 2, 0, 0))
	require.NoError(t, idx.Release(0))
	require.Equal(t, 2, idx.Hash().NumEntries())
}

func TestIndexRollbackToEmptySavepointClearsHash(t *testing.T) {
	idx := openIndex(t)
	require.NoError(t, idx.Savepoint(0)) // opened with an empty hash
	require.NoError(t, idx.Write([]byte("cat"), 1, 0, 0))
	require.NoError(t, idx.RollbackTo(0))
	require.Equal(t, 0, idx.Hash().NumEntries())
}

func TestIndexRollbackToNonEmptySavepointKeepsPriorWritesDiscardsLater(t *testing.T) {
	idx := openIndex(t)
	require.NoError(t, idx.Write([]byte("cat"), 1, 0, 0))
	require.NoError(t, idx.Savepoint(0)) // opened with a non-empty hash
	require.NoError(t, idx.Write([]byte("dog"), 2, 0, 0))
	require.NoError(t, idx.RollbackTo(0))
	require.Equal(t, 1, idx.Hash().NumEntries(), "rollback must discard writes made after the savepoint")

	found := false
	for term, _ := range idx.Hash().Scan(nil) {
		if string(term) == "cat" {
			found = true
		}
	}
	require.True(t, found, "the write made before the savepoint must survive rollback")
}

func TestIndexRollbackToUndoesFlushedStructureChange(t *testing.T) {
	idx := openIndex(t)
	require.NoError(t, idx.Write([]byte("cat"), 1, 0, 0))
	require.NoError(t, idx.Flush())
	before := idx.Store().Snapshot()

	require.NoError(t, idx.Savepoint(0))
	require.NoError(t, idx.Write([]byte("dog"), 2, 0, 0))
	require.NoError(t, idx.Flush())
	require.Len(t, idx.Store().Structure().Levels[0].Segments, 2)

	require.NoError(t, idx.RollbackTo(0))
	require.Equal(t, before, idx.Store().Snapshot(), "rollback must undo a flush issued inside the savepoint")
}

func TestIndexReleaseUnknownSavepointErrors(t *testing.T) {
	idx := openIndex(t)
	require.Error(t, idx.Release(0))
}

func TestIndexReadsCounterAccumulates(t *testing.T) {
	idx := openIndex(t)
	require.Equal(t, int64(0), idx.ReadsCounter())
	idx.addReads(3)
	require.Equal(t, int64(3), idx.ReadsCounter())
}
