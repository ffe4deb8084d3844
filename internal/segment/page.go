// Page format for one immutable segment (§4.5), grounded on the
// teacher's documented sstable block layout (sstable/table.go): a
// small fixed header, prefix-compressed keys within a page, and a
// trailer checksum over the payload. Where the teacher uses CRC32c,
// this port uses xxhash64 (§2 domain-stack substitution) — the
// teacher's own pack carries github.com/cespare/xxhash/v2 as a
// transitive dependency of its block package.
package segment

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/postbuf"
	"github.com/fts5go/fts5go/internal/varint"
)

type pageType byte

const (
	pageTypeLeaf         pageType = 0
	pageTypeInterior     pageType = 1
	pageTypeContinuation pageType = 2
)

const (
	flagHasNextPage byte = 0x1

	pageHeaderLen  = 6 // {pageType, flags, nextPage/rightmostChild uint32BE}
	pageTrailerLen = 8 // xxhash64 checksum
)

// checksum computes the page trailer over header+payload.
func checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// sealPage appends the trailer checksum to a fully-built page buffer
// and returns the final page bytes.
func sealPage(buf []byte) []byte {
	var trailer [pageTrailerLen]byte
	binary.BigEndian.PutUint64(trailer[:], checksum(buf))
	return append(buf, trailer[:]...)
}

// verifyPage checks the trailer checksum and returns the page with the
// trailer stripped, or base.ErrCorrupt.
func verifyPage(page []byte) ([]byte, error) {
	if len(page) < pageHeaderLen+pageTrailerLen {
		return nil, base.Corruptf("segment: page too short (%d bytes)", len(page))
	}
	body := page[:len(page)-pageTrailerLen]
	want := binary.BigEndian.Uint64(page[len(page)-pageTrailerLen:])
	if checksum(body) != want {
		return nil, base.Corruptf("segment: page checksum mismatch")
	}
	return body, nil
}

func pageHeader(t pageType, flags byte, link uint32) []byte {
	h := make([]byte, pageHeaderLen)
	h[0] = byte(t)
	h[1] = flags
	binary.BigEndian.PutUint32(h[2:6], link)
	return h
}

// leafEntry is one (term, doclist) record within a leaf page, using
// prefix compression against the previous key in the page (the same
// scheme as the teacher's documented block format: a varint shared
// prefix length followed by the literal suffix).
type leafEntry struct {
	sharedPrefixLen int
	suffix          []byte
	doclistTotalLen int
	chunk           []byte // bytes of the doclist stored in this page
}

func encodeLeafEntry(buf *postbuf.Buffer, e leafEntry) {
	buf.AppendVarint(uint64(e.sharedPrefixLen))
	buf.AppendVarint(uint64(len(e.suffix)))
	buf.AppendBytes(e.suffix)
	buf.AppendVarint(uint64(e.doclistTotalLen))
	buf.AppendVarint(uint64(len(e.chunk)))
	buf.AppendBytes(e.chunk)
}

type decodedLeafEntry struct {
	term            []byte
	doclistTotalLen int
	chunk           []byte
}

// decodeLeafPayload decodes every entry of a leaf page's payload,
// reconstructing full keys from the prefix-compression chain.
func decodeLeafPayload(payload []byte, prevKey []byte) ([]decodedLeafEntry, []byte, error) {
	var out []decodedLeafEntry
	pos := 0
	for pos < len(payload) {
		sharedLen, n, err := varint.Decode(payload[pos:])
		if err != nil {
			return nil, nil, err
		}
		pos += n
		suffixLen, n, err := varint.Decode(payload[pos:])
		if err != nil {
			return nil, nil, err
		}
		pos += n
		if pos+int(suffixLen) > len(payload) {
			return nil, nil, base.Corruptf("segment: leaf entry suffix overruns page")
		}
		suffix := payload[pos : pos+int(suffixLen)]
		pos += int(suffixLen)

		if int(sharedLen) > len(prevKey) {
			return nil, nil, base.Corruptf("segment: leaf entry shared-prefix longer than previous key")
		}
		term := make([]byte, 0, int(sharedLen)+len(suffix))
		term = append(term, prevKey[:sharedLen]...)
		term = append(term, suffix...)
		prevKey = term

		totalLen, n, err := varint.Decode(payload[pos:])
		if err != nil {
			return nil, nil, err
		}
		pos += n
		chunkLen, n, err := varint.Decode(payload[pos:])
		if err != nil {
			return nil, nil, err
		}
		pos += n
		if pos+int(chunkLen) > len(payload) {
			return nil, nil, base.Corruptf("segment: leaf entry chunk overruns page")
		}
		chunk := payload[pos : pos+int(chunkLen)]
		pos += int(chunkLen)

		out = append(out, decodedLeafEntry{term: term, doclistTotalLen: int(totalLen), chunk: chunk})
	}
	return out, prevKey, nil
}

// interiorEntry is a (separator, child page) pair. The final child of
// an interior page is stored as the page's right-most-child link
// rather than as an entry (§4.5).
type interiorEntry struct {
	separator []byte
	child     uint32
}

func encodeInteriorPayload(entries []interiorEntry) []byte {
	buf := postbuf.New(64)
	for _, e := range entries {
		buf.AppendVarint(uint64(len(e.separator)))
		buf.AppendBytes(e.separator)
		buf.AppendU32BE(e.child)
	}
	return buf.Bytes()
}

func decodeInteriorPayload(payload []byte) ([]interiorEntry, error) {
	var out []interiorEntry
	pos := 0
	for pos < len(payload) {
		keyLen, n, err := varint.Decode(payload[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		if pos+int(keyLen)+4 > len(payload) {
			return nil, base.Corruptf("segment: interior entry overruns page")
		}
		key := payload[pos : pos+int(keyLen)]
		pos += int(keyLen)
		child := binary.BigEndian.Uint32(payload[pos : pos+4])
		pos += 4
		out = append(out, interiorEntry{separator: key, child: child})
	}
	return out, nil
}
