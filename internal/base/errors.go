// Package base holds the low-level types and error sentinels shared by
// every layer of the index: the pending hash, the segment store, the
// expression engine and the cursor.
package base

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors mirroring the abstract error codes of §6/§7: a host
// embedding this package maps these back onto its own result codes
// (e.g. SQLITE_NOMEM, SQLITE_CORRUPT) at the vtab boundary.
var (
	// ErrOutOfMemory is returned when a buffer append fails to grow.
	ErrOutOfMemory = errors.New("fts5go: out of memory")
	// ErrCorrupt signals a malformed varint, term-order violation, or
	// page checksum failure.
	ErrCorrupt = errors.New("fts5go: database disk image is malformed")
	// ErrRange is returned for out-of-bounds column/phrase indices.
	ErrRange = errors.New("fts5go: column index out of range")
	// ErrMisuse signals a caller contract violation (empty term,
	// non-monotonic poslist write, use-after-close).
	ErrMisuse = errors.New("fts5go: misuse")
	// ErrBusy signals the structure record could not be locked by the host.
	ErrBusy = errors.New("fts5go: busy")
	// ErrConstraint signals a duplicate rowid or NOT NULL violation.
	ErrConstraint = errors.New("fts5go: constraint failed")
	// ErrInterrupted is returned by writes once the index's interrupt
	// flag has been set (fts5.Index.Interrupt); no partial state is
	// committed. A cancelled context surfaces as the context's own error.
	ErrInterrupted = errors.New("fts5go: interrupted")
)

// Corruptf wraps ErrCorrupt with a formatted, redaction-safe message,
// mirroring base.CorruptionErrorf in the teacher's sstable package.
func Corruptf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorrupt, format, args...)
}

// Misusef wraps ErrMisuse with a formatted message.
func Misusef(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMisuse, format, args...)
}
