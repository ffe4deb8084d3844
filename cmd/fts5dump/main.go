// Command fts5dump is a diagnostic tool that prints a structure
// record's segment layout, for use by tests and by hand during
// debugging. It is not part of the spec surface.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/fts5go/fts5go/internal/segment"
)

func main() {
	structPath := pflag.StringP("structure", "s", "", "path to the structure record JSON file")
	level := pflag.IntP("level", "l", -1, "only dump this level (-1 for all)")
	pflag.Parse()

	if *structPath == "" {
		fmt.Fprintln(os.Stderr, "fts5dump: --structure is required")
		os.Exit(2)
	}

	st, err := segment.LoadStructure(*structPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fts5dump: %v\n", err)
		os.Exit(1)
	}

	if err := dump(os.Stdout, st, *level); err != nil {
		fmt.Fprintf(os.Stderr, "fts5dump: %v\n", err)
		os.Exit(1)
	}
}

func dump(w *os.File, st segment.Structure, onlyLevel int) error {
	type levelView struct {
		Level    int                     `json:"level"`
		Segments []segment.SegmentInfo   `json:"segments"`
	}
	var views []levelView
	for i, lvl := range st.Levels {
		if onlyLevel >= 0 && i != onlyLevel {
			continue
		}
		views = append(views, levelView{Level: i, Segments: lvl.Segments})
	}

	out := struct {
		Version  uint64      `json:"version"`
		NextSeg  uint64      `json:"next_segment_id"`
		TableTag string      `json:"table_tag,omitempty"`
		Levels   []levelView `json:"levels"`
	}{Version: st.Version, NextSeg: st.NextSeg, TableTag: st.TableTag, Levels: views}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
