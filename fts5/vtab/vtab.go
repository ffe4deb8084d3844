// Package vtab implements the virtual-table adapter surface of §6:
// the operation list a host query engine dispatches against
// (create/connect/best_index/disconnect/destroy/open_cursor/
// close_cursor/filter/next/eof/column/rowid/update/begin/sync/commit/
// rollback/find_function/rename/savepoint/release/rollback_to), plus
// special-write directive dispatch, expressed as a plain Go interface
// rather than tied to any specific host's C ABI.
package vtab

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fts5go/fts5go/fts5"
	"github.com/fts5go/fts5go/internal/base"
)

// Host is the minimal capability a Module needs from the surrounding
// query engine: persisted option storage (the %_config table) and the
// ability to materialize rowids for a full scan (the %_docsize table,
// since there is no separate rowid index modeled here).
type Host interface {
	ScanRowids(ctx context.Context) ([]int64, error)
	SetOption(name, value string) error
}

// Module is one open FTS table: the façade index, the storage bridge,
// and the rank registry, wired together for the vtab surface.
type Module struct {
	Index    *fts5.Index
	Bridge   *fts5.Bridge
	Ranks    *fts5.RankRegistry
	Host     Host
	NumCols  int
	tableTag string
}

// NewModule wires an already-open index/bridge pair into a Module for
// one logical table named tag.
func NewModule(idx *fts5.Index, bridge *fts5.Bridge, host Host, numCols int, tag string) *Module {
	return &Module{Index: idx, Bridge: bridge, Ranks: fts5.NewRankRegistry(), Host: host, NumCols: numCols, tableTag: tag}
}

// Create and Connect are distinguished only by whether the backing
// storage already exists; since Index.Open already handles "create if
// missing", both map onto the same no-op here (the table was
// constructed by the caller via fts5.Open before NewModule).
func (m *Module) Create(ctx context.Context) error  { return nil }
func (m *Module) Connect(ctx context.Context) error { return nil }

// Disconnect drops in-memory state without touching storage.
func (m *Module) Disconnect(ctx context.Context) error { return m.Index.Close() }

// Destroy removes the table's storage entirely, implemented as
// dropping every posting (the same effect as 'delete-all', see
// SpecialWrite) since no separate catalog entry is modeled here.
func (m *Module) Destroy(ctx context.Context) error {
	return m.Index.Store().DropAll()
}

// BestIndex dispatches to the fixed cost table of §4.8.
func (m *Module) BestIndex(cs []fts5.Constraint, orderByRowidDesc bool) (fts5.Plan, float64) {
	return fts5.BestIndex(cs, orderByRowidDesc)
}

// OpenCursor opens a new cursor against this module's index.
func (m *Module) OpenCursor() *fts5.Cursor {
	return fts5.NewCursor(m.Index, m.Bridge, m.Ranks)
}

// Filter executes plan on cur, resolving a PlanScan's rowid set from
// the host (§4.8 "Scan(asc|desc): full rowid scan of the document-
// store").
func (m *Module) Filter(ctx context.Context, cur *fts5.Cursor, plan fts5.Plan) error {
	var rowids []int64
	if plan.Kind == fts5.PlanScan {
		rs, err := m.Host.ScanRowids(ctx)
		if err != nil {
			return errors.Wrap(err, "vtab: scanning rowids")
		}
		rowids = rs
	}
	return cur.Filter(ctx, plan, rowids)
}

// Update implements the xUpdate contract: oldRowid == 0 means insert,
// newRowid == 0 means delete, both set means an update (possibly
// changing the rowid).
func (m *Module) Update(oldRowid, newRowid int64, newCols [][]byte) error {
	switch {
	case oldRowid == 0:
		return m.Bridge.InsertRow(newRowid, newCols)
	case newRowid == 0:
		return m.Bridge.DeleteRow(oldRowid)
	default:
		return m.Bridge.Update(oldRowid, newRowid, newCols)
	}
}

func (m *Module) Begin(ctx context.Context) error  { return m.Index.BeginWrite() }
func (m *Module) Sync(ctx context.Context) error   { return m.Index.Flush() }
func (m *Module) Commit(ctx context.Context) error { return nil }
func (m *Module) Rollback(ctx context.Context) error {
	m.Index.Rollback()
	return nil
}

// FindFunction resolves an auxiliary SQL function name to a rank
// function, for the host's own function-lookup hook; not every SQL
// function the host exposes is a rank function, so ok is false for
// anything this module does not itself provide.
func (m *Module) FindFunction(name string) (fts5.RankFunc, bool) {
	return m.Ranks.Lookup(name)
}

// Rename retargets the table's logical name by recording it in the
// module and persisting it as the segment structure's TableTag. It
// does not rename the ContentStore's tables and does not notify the
// Host; the document-store side keeps whatever names the host gave it.
func (m *Module) Rename(newName string) error {
	m.tableTag = newName
	return m.Index.Store().SetTableTag(newName)
}

func (m *Module) Savepoint(i int) error   { return m.Index.Savepoint(i) }
func (m *Module) Release(i int) error     { return m.Index.Release(i) }
func (m *Module) RollbackTo(i int) error  { return m.Index.RollbackTo(i) }

// SpecialWrite dispatches an INSERT into the table's hidden column
// (§6 "Special writes").
func (m *Module) SpecialWrite(ctx context.Context, directive string, args []string) error {
	switch {
	case directive == "delete-all":
		if !m.Bridge.Contentless() {
			return base.Misusef("fts5: 'delete-all' requires a contentless table")
		}
		return m.Index.Store().DropAll()
	case directive == "rebuild":
		if m.Bridge.Contentless() {
			return base.Misusef("fts5: 'rebuild' requires a contentful table")
		}
		return m.rebuild(ctx)
	case directive == "optimize":
		return m.Index.Store().Optimize()
	case directive == "merge":
		if len(args) != 1 {
			return base.Misusef("fts5: 'merge' requires one integer argument")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return base.Misusef("fts5: invalid merge count %q", args[0])
		}
		return m.Index.Store().MergeUntil(n)
	case directive == "integrity-check":
		return m.Index.Store().IntegrityCheck()
	case directive == "delete":
		return m.specialDelete(args)
	default:
		return m.setTunable(directive, args)
	}
}

func (m *Module) rebuild(ctx context.Context) error {
	rowids, err := m.Host.ScanRowids(ctx)
	if err != nil {
		return err
	}
	if err := m.Index.Store().Optimize(); err != nil {
		return err
	}
	for _, rowid := range rowids {
		cols, ok, err := m.Bridge.ReadContentFor(rowid)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := m.Bridge.InsertRow(rowid, cols); err != nil {
			return err
		}
	}
	return m.Index.Flush()
}

func (m *Module) specialDelete(args []string) error {
	if len(args) < 1 {
		return base.Misusef("fts5: 'delete' requires a rowid")
	}
	rowid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return base.Misusef("fts5: invalid rowid %q", args[0])
	}
	cols := make([][]byte, len(args)-1)
	for i, v := range args[1:] {
		cols[i] = []byte(v)
	}
	return m.Bridge.DeleteRowContentless(rowid, cols)
}

func (m *Module) setTunable(name string, args []string) error {
	if len(args) != 1 {
		return base.Misusef("fts5: option %q requires one value", name)
	}
	switch strings.ToLower(name) {
	case "pgsz", "crisismerge", "automerge", "usermerge":
		if _, err := strconv.Atoi(args[0]); err != nil {
			return base.Misusef("fts5: option %q expects an integer", name)
		}
	case "rank":
		// accepted as-is; validated lazily at first use via RankRegistry
	default:
		return base.Misusef("fts5: unknown option %q", name)
	}
	if m.Host == nil {
		return nil
	}
	return m.Host.SetOption(name, args[0])
}
