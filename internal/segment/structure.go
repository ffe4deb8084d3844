package segment

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/natefinch/atomic"
)

func bytesReader(data []byte) io.Reader { return bytes.NewReader(data) }

// SegmentInfo is one entry of the structure record (§3 "Structure
// record"): enough to locate and age a segment without re-scanning
// its pages.
type SegmentInfo struct {
	ID        uint64 `json:"id"`
	FirstPage uint32 `json:"first_page"`
	LastPage  uint32 `json:"last_page"`
	RootPage  uint32 `json:"root_page"`
	DocCount  int64  `json:"doc_count"`
}

// Level holds every segment currently resident at one age tier. Higher
// levels are older/larger (GLOSSARY).
type Level struct {
	Segments []SegmentInfo `json:"segments"`
}

// Structure is the single persisted descriptor of all segments (§3).
// Its Version is bumped on every structural change; readers revalidate
// by re-reading it before trusting a cached copy.
type Structure struct {
	Levels   []Level `json:"levels"`
	Version  uint64  `json:"version"`
	NextSeg  uint64  `json:"next_segment_id"`
	TableTag string  `json:"table_tag,omitempty"` // logical name, see vtab Rename
}

// Clone returns a deep copy, used by cursors to take an immutable
// snapshot at xFilter time (§3 "Lifecycles") and by the façade to
// snapshot state for savepoint rollback (§4.6).
func (s Structure) Clone() Structure {
	out := Structure{Version: s.Version, NextSeg: s.NextSeg, TableTag: s.TableTag}
	out.Levels = make([]Level, len(s.Levels))
	for i, l := range s.Levels {
		out.Levels[i].Segments = append([]SegmentInfo(nil), l.Segments...)
	}
	return out
}

// LoadStructure reads a structure record from path. A missing file is
// treated as an empty (freshly created) structure rather than an
// error, matching a brand new FTS5 table with no flushed segments yet.
func LoadStructure(path string) (Structure, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Structure{NextSeg: 1}, nil
	}
	if err != nil {
		return Structure{}, errors.Wrap(err, "segment: reading structure record")
	}
	var s Structure
	if err := json.Unmarshal(data, &s); err != nil {
		return Structure{}, errors.Wrap(err, "segment: decoding structure record")
	}
	return s, nil
}

// SaveStructure atomically publishes s to path, so a crash mid-write
// never leaves a torn descriptor (§4.5 "Write failures ... leave it
// unnamed in the structure record"). Grounded on the pack's preference
// for atomic file publish (calvinalkan-agent-task's use of
// natefinch/atomic) rather than a raw os.Rename.
func SaveStructure(path string, s Structure) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "segment: encoding structure record")
	}
	r := bytesReader(data)
	if err := atomic.WriteFile(path, r); err != nil {
		return errors.Wrap(err, "segment: publishing structure record")
	}
	return nil
}
