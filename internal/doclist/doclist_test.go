package doclist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fts5go/fts5go/internal/postbuf"
	"github.com/fts5go/fts5go/internal/varint"
)

func encodeWide(entries []Entry) []byte {
	buf := postbuf.New(32)
	var prev int64
	for i, e := range entries {
		if i == 0 {
			buf.AppendVarint(uint64(e.Rowid))
		} else {
			buf.AppendVarint(uint64(e.Rowid - prev))
		}
		prev = e.Rowid
		var tmp [4]byte
		varint.Put4(tmp[:], uint32(len(e.Poslist)))
		buf.AppendBytes(tmp[:])
		buf.AppendBytes(e.Poslist)
	}
	return buf.Bytes()
}

func TestDecodeWideRoundTrip(t *testing.T) {
	entries := []Entry{
		{Rowid: 5, Poslist: []byte{1, 2, 3}},
		{Rowid: 9, Poslist: []byte{4, 5}},
		{Rowid: 20, Poslist: []byte{}},
	}
	raw := encodeWide(entries)
	got, err := DecodeWide(raw)
	require.NoError(t, err)
	require.Equal(t, entries, got)
	require.True(t, got[2].Tombstone())
}

func TestEncodeDecodeCompactRoundTrip(t *testing.T) {
	entries := []Entry{
		{Rowid: 1, Poslist: []byte{9, 9}},
		{Rowid: 4, Poslist: []byte{1}},
		{Rowid: 100, Poslist: []byte{}},
	}
	raw := EncodeCompact(entries)
	got, err := DecodeCompact(raw)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestDecodeCompactTruncated(t *testing.T) {
	entries := []Entry{{Rowid: 1, Poslist: []byte{1, 2, 3}}}
	raw := EncodeCompact(entries)
	_, err := DecodeCompact(raw[:len(raw)-1])
	require.Error(t, err)
}

func TestDecodeWideNonPositiveDeltaRejected(t *testing.T) {
	buf := postbuf.New(16)
	buf.AppendVarint(5)
	var tmp [4]byte
	varint.Put4(tmp[:], 0)
	buf.AppendBytes(tmp[:])
	buf.AppendVarint(0) // zero delta, disallowed after the first rowid
	varint.Put4(tmp[:], 0)
	buf.AppendBytes(tmp[:])

	_, err := DecodeWide(buf.Bytes())
	require.Error(t, err)
}
