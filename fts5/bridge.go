package fts5

import (
	"github.com/cockroachdb/errors"
	"github.com/fts5go/fts5go/internal/base"
)

// Token is one tokenizer output: the term bytes plus the byte offsets
// of the source text it covers, zero-indexed within the column.
type Token struct {
	Term       []byte
	Start, End int
}

// Tokenizer splits column text into tokens, driven by the table's
// configured tokenizer (§4.8 "tokenize ... using the table's
// configured tokenizer").
type Tokenizer interface {
	Tokenize(text []byte, fn func(Token) error) error
}

// ContentStore is the host-side persistence the bridge writes through
// to: the %_content table (full row storage, skipped for a contentless
// table) and the %_docsize table (per-row, per-column token counts,
// needed to reconstruct postings on delete and for rank normalization).
type ContentStore interface {
	// InsertContent stores cols for rowid, or is a no-op for a
	// contentless table.
	InsertContent(rowid int64, cols [][]byte) error
	// DeleteContent removes rowid's stored row, or is a no-op for a
	// contentless table.
	DeleteContent(rowid int64) error
	// ReadContent returns rowid's stored columns, or ok=false if the
	// table is contentless (the caller must consult Docsize instead).
	ReadContent(rowid int64) (cols [][]byte, ok bool, err error)
	// SetDocsize records rowid's per-column token counts.
	SetDocsize(rowid int64, sizes []int) error
	// Docsize returns rowid's per-column token counts.
	Docsize(rowid int64) ([]int, error)
	// DeleteDocsize removes rowid's docsize row.
	DeleteDocsize(rowid int64) error
	// Contentless reports whether the table stores no row content of
	// its own (§4.9 "or a per-row size table if contentless").
	Contentless() bool
}

// Bridge implements the storage bridge (C9): translating row-level
// insert/delete/update calls into C4 writes and ContentStore updates.
type Bridge struct {
	idx       *Index
	content   ContentStore
	tokenizer Tokenizer
	numCols   int
}

// NewBridge builds a bridge over idx, storing/retokenizing through
// content using tokenizer, for a table with numCols indexed columns.
func NewBridge(idx *Index, content ContentStore, tokenizer Tokenizer, numCols int) *Bridge {
	return &Bridge{idx: idx, content: content, tokenizer: tokenizer, numCols: numCols}
}

// Contentless reports whether the table stores no row content of its
// own, for the vtab layer's special-write directive validation.
func (b *Bridge) Contentless() bool { return b.content.Contentless() }

// ReadContentFor exposes the underlying ContentStore read, for the
// 'rebuild' directive's re-tokenization pass.
func (b *Bridge) ReadContentFor(rowid int64) ([][]byte, bool, error) {
	return b.content.ReadContent(rowid)
}

// InsertRow stores cols (if contentful) and writes one posting per
// token of every indexed column (§4.9 "On insert").
func (b *Bridge) InsertRow(rowid int64, cols [][]byte) error {
	if rowid == 0 {
		return base.Misusef("fts5: rowid 0 is reserved")
	}
	if !b.content.Contentless() {
		if err := b.content.InsertContent(rowid, cols); err != nil {
			return errors.Wrap(err, "fts5: storing row content")
		}
	}
	sizes := make([]int, len(cols))
	for col, text := range cols {
		n := 0
		err := b.tokenizer.Tokenize(text, func(tok Token) error {
			n++
			return b.idx.Write(tok.Term, rowid, col, n-1)
		})
		if err != nil {
			return errors.Wrap(err, "fts5: tokenizing column")
		}
		sizes[col] = n
	}
	return errors.Wrap(b.content.SetDocsize(rowid, sizes), "fts5: recording docsize")
}

// DeleteRow reads back rowid's content to reproduce every token and
// writes a delete sentinel for each (§4.9 "On delete"). For a
// contentless table (or a rowid with no stored content) no sentinels
// are written; only the docsize row is removed.
func (b *Bridge) DeleteRow(rowid int64) error {
	cols, ok, err := b.content.ReadContent(rowid)
	if err != nil {
		return errors.Wrap(err, "fts5: reading row content for delete")
	}
	if ok {
		for col, text := range cols {
			err := b.tokenizer.Tokenize(text, func(tok Token) error {
				return b.idx.Write(tok.Term, rowid, -1, 0)
			})
			if err != nil {
				return errors.Wrap(err, "fts5: tokenizing column for delete")
			}
		}
		if err := b.content.DeleteContent(rowid); err != nil {
			return errors.Wrap(err, "fts5: deleting row content")
		}
	}
	// A contentless table cannot re-tokenize; it relies entirely on
	// explicit 'delete', rowid, val1, ... directives supplying the
	// original column text (wired in the vtab special-write dispatch).
	if err := b.content.DeleteDocsize(rowid); err != nil {
		return errors.Wrap(err, "fts5: deleting docsize")
	}
	return nil
}

// DeleteRowContentless writes delete sentinels from caller-supplied
// original column values, for the contentless 'delete' directive
// (§6 "'delete', rowid, val1, ... | Explicit PK-only delete for
// contentless tables").
func (b *Bridge) DeleteRowContentless(rowid int64, cols [][]byte) error {
	for col, text := range cols {
		err := b.tokenizer.Tokenize(text, func(tok Token) error {
			return b.idx.Write(tok.Term, rowid, -1, 0)
		})
		if err != nil {
			return errors.Wrap(err, "fts5: tokenizing column for contentless delete")
		}
	}
	return errors.Wrap(b.content.DeleteDocsize(rowid), "fts5: deleting docsize")
}

// Update deletes oldRowid (if nonzero) and inserts newCols under
// newRowid, matching the xUpdate contract of an UPDATE, whether or not
// it changes the rowid.
func (b *Bridge) Update(oldRowid, newRowid int64, newCols [][]byte) error {
	if oldRowid != 0 {
		if err := b.DeleteRow(oldRowid); err != nil {
			return err
		}
	}
	return b.InsertRow(newRowid, newCols)
}
