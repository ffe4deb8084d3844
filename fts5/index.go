// Package fts5 is the index façade (§4.6): it owns the pending hash
// and the segment store for one table, mediates flush/savepoint/
// rollback, and exposes the cursor/query-plan layer (§4.8) and the
// storage bridge (§4.9) on top of them.
package fts5

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/penhash"
	"github.com/fts5go/fts5go/internal/segment"
)

// Config mirrors the %_config-backed tunables (§6): pgsz, automerge,
// crisismerge, usermerge and the default rank function name.
type Config struct {
	PageSize     int
	AutoMerge    int // K, segments-per-level threshold
	CrisisMerge  int // forced merge threshold under memory pressure
	UserMerge    int // target for an explicit 'merge', n directive
	DefaultRank  string
}

// DefaultConfig matches the original implementation's documented
// defaults (SPEC_FULL.md §13 "Supplemented features").
func DefaultConfig() Config {
	return Config{PageSize: segment.DefaultPageSize, AutoMerge: 4, CrisisMerge: 16, UserMerge: 4, DefaultRank: "bm25"}
}

// savepointMark snapshots enough state to undo every write issued
// since the savepoint opened: a copy of the segment structure record
// and a full clone of the pending hash.
type savepointMark struct {
	structure segment.Structure
	hash      *penhash.Hash
}

// Index is one table's façade: the single writer's pending hash, the
// segment store, and the savepoint stack.
type Index struct {
	mu    sync.Mutex
	hash  *penhash.Hash
	store *segment.Store
	cfg   Config

	reads       atomic.Int64
	savepoints  []savepointMark
	interrupted atomic.Bool
}

// Open opens (or creates) the index backed by pages/structPath.
func Open(pages segment.PageStore, structPath string, cfg Config) (*Index, error) {
	store, err := segment.Open(pages, structPath, segment.Config{
		PageSize:            cfg.PageSize,
		MaxSegmentsPerLevel: cfg.AutoMerge,
	})
	if err != nil {
		return nil, errors.Wrap(err, "fts5: opening index")
	}
	return &Index{hash: penhash.New(), store: store, cfg: cfg}, nil
}

// Close releases no OS resources by itself (PageStore owns those) but
// exists so call sites have a symmetric open/close pair, matching the
// vtab module's xDisconnect.
func (idx *Index) Close() error { return nil }

// Interrupt sets the externally injected interrupt flag (§5
// "Cancellation & timeouts"); the next poll point aborts with
// base.ErrInterrupted.
func (idx *Index) Interrupt() { idx.interrupted.Store(true) }

func (idx *Index) checkInterrupt() error {
	if idx.interrupted.Load() {
		return base.ErrInterrupted
	}
	return nil
}

// ReadsCounter returns the monotonic count of on-disk page descents
// performed by queries, for the '*reads' diagnostic directive.
func (idx *Index) ReadsCounter() int64 { return idx.reads.Load() }

func (idx *Index) addReads(n int64) { idx.reads.Add(n) }

// BeginWrite starts a write transaction. Single-writer model (§5):
// the caller's host is responsible for serializing writers.
func (idx *Index) BeginWrite() error { return nil }

// Write records one (term, rowid, col, pos) tuple, or a delete
// sentinel when col < 0, into the pending hash.
func (idx *Index) Write(term []byte, rowid int64, col, pos int) error {
	if err := idx.checkInterrupt(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.hash.Write(term, rowid, col, pos)
}

// Flush drains the pending hash into a new segment, cascading merges.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.store.Flush(idx.hash)
}

// Rollback discards the pending hash without flushing (a transaction
// abort with no savepoints open).
func (idx *Index) Rollback() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.hash.Reset()
}

// Savepoint pushes a new savepoint mark (§4.6); i is the host's
// savepoint index and is not otherwise interpreted here, mirroring
// SQLite's own stack-by-position convention.
func (idx *Index) Savepoint(i int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.savepoints = append(idx.savepoints, savepointMark{
		structure: idx.store.Snapshot(),
		hash:      idx.hash.Clone(),
	})
	return nil
}

// Release pops savepoints down through and including i, keeping all
// writes made under them.
func (idx *Index) Release(i int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if i < 0 || i >= len(idx.savepoints) {
		return base.Misusef("fts5: release of unknown savepoint %d", i)
	}
	idx.savepoints = idx.savepoints[:i]
	return nil
}

// RollbackTo undoes every write issued since savepoint i opened
// (§4.6/§9): the pending hash reverts to its snapshot (discarding any
// entries or entry mutations made since, whether the hash was empty
// at that point or not) and the segment structure reverts to its
// snapshot, undoing any flush or directive (e.g. 'optimize') issued
// inside the savepoint.
func (idx *Index) RollbackTo(i int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if i < 0 || i >= len(idx.savepoints) {
		return base.Misusef("fts5: rollback to unknown savepoint %d", i)
	}
	mark := idx.savepoints[i]
	idx.savepoints = idx.savepoints[:i+1]
	idx.hash.Restore(mark.hash)
	if err := idx.store.Restore(mark.structure); err != nil {
		return errors.Wrap(err, "fts5: restoring structure record on rollback")
	}
	return nil
}

// LoadConfig returns the live tunable configuration.
func (idx *Index) LoadConfig() Config { return idx.cfg }

// Store exposes the underlying segment store for the cursor/plan layer
// and special-write directives (optimize, merge N, integrity-check).
func (idx *Index) Store() *segment.Store { return idx.store }

// Hash exposes the pending hash for the posting source adapter.
func (idx *Index) Hash() *penhash.Hash { return idx.hash }

func (idx *Index) storePages() segment.PageStore { return idx.store.Pages() }
