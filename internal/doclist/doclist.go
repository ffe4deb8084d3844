// Package doclist decodes and encodes the two doclist byte layouts
// used in this index (§3, §4.4): the "wide" layout the pending hash
// writes, which reserves a 4-byte back-patchable size slot per
// poslist, and the "compact" layout persisted in on-disk segments,
// which uses a plain scalar varint for the poslist size since the
// whole doclist is known up front when a segment is built.
package doclist

import (
	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/postbuf"
	"github.com/fts5go/fts5go/internal/varint"
)

// Entry is one (rowid, poslist) pair of a term's doclist. An empty
// Poslist (len 0, non-nil) represents a delete tombstone (§4.4
// "Deletion"): the reader drops any matching older posting for the
// same term+rowid when merging.
type Entry struct {
	Rowid   int64
	Poslist []byte
}

// Tombstone returns whether e represents a logical delete.
func (e Entry) Tombstone() bool { return e.Poslist != nil && len(e.Poslist) == 0 }

// DecodeWide decodes a pending-hash-format doclist: a sequence of
// (rowid_delta_varint, 4-byte poslist size, poslist bytes), where the
// first rowid is stored absolute (delta from 0).
func DecodeWide(raw []byte) ([]Entry, error) {
	var out []Entry
	pos := 0
	var rowid int64
	first := true
	for pos < len(raw) {
		delta, n, err := varint.Decode(raw[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		if first {
			rowid = int64(delta)
			first = false
		} else {
			if delta == 0 {
				return nil, base.Corruptf("doclist: non-positive rowid delta")
			}
			rowid += int64(delta)
		}
		if pos+4 > len(raw) {
			return nil, base.Corruptf("doclist: truncated size slot")
		}
		size, _ := varint.Get4(raw[pos : pos+4])
		pos += 4
		if pos+int(size) > len(raw) {
			return nil, base.Corruptf("doclist: poslist overruns buffer")
		}
		poslist := raw[pos : pos+int(size)]
		pos += int(size)
		out = append(out, Entry{Rowid: rowid, Poslist: poslist})
	}
	return out, nil
}

// DecodeCompact decodes an on-disk segment doclist: a sequence of
// (rowid_delta_varint, poslist_size_varint, poslist bytes).
func DecodeCompact(raw []byte) ([]Entry, error) {
	var out []Entry
	pos := 0
	var rowid int64
	first := true
	for pos < len(raw) {
		delta, n, err := varint.Decode(raw[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		if first {
			rowid = int64(delta)
			first = false
		} else {
			if delta == 0 {
				return nil, base.Corruptf("doclist: non-positive rowid delta")
			}
			rowid += int64(delta)
		}
		size, n, err := varint.Decode(raw[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		if pos+int(size) > len(raw) {
			return nil, base.Corruptf("doclist: poslist overruns buffer")
		}
		poslist := raw[pos : pos+int(size)]
		pos += int(size)
		out = append(out, Entry{Rowid: rowid, Poslist: poslist})
	}
	return out, nil
}

// EncodeCompact serializes entries (already sorted by strictly
// ascending Rowid, per invariant in §3) into an on-disk doclist.
func EncodeCompact(entries []Entry) []byte {
	buf := postbuf.New(32 * len(entries))
	var prev int64
	for i, e := range entries {
		if i == 0 {
			buf.AppendVarint(uint64(e.Rowid))
		} else {
			buf.AppendVarint(uint64(e.Rowid - prev))
		}
		prev = e.Rowid
		buf.AppendVarint(uint64(len(e.Poslist)))
		buf.AppendBytes(e.Poslist)
	}
	return buf.Bytes()
}
