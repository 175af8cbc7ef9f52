package denorm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"github.com/agentic-research/kgclose/api"
	"github.com/agentic-research/kgclose/internal/kgx"
	"github.com/agentic-research/kgclose/internal/table"
)

// Stored table names.
const (
	tableNodes             = "nodes"
	tableEdges             = "edges"
	tableClosure           = "closure"
	tableAncestorClosure   = "ancestor_closure"
	tableAncestorLabels    = "ancestor_labels"
	tableDescendantClosure = "descendant_closure"
	tableDescendantLabels  = "descendant_labels"
	tableDenormEdges       = "denormalized_edges"
	tableDenormNodes       = "denormalized_nodes"
)

// Store is the persistence boundary the pipeline runs against. Replace
// swaps a whole table in one transaction so re-runs never accumulate
// stale derived rows.
type Store interface {
	Load(ctx context.Context, name string) (*table.Table, error)
	Replace(ctx context.Context, t *table.Table) error
	HasTable(ctx context.Context, name string) (bool, error)
}

// Pipeline wires one denormalization run: inputs in, derived tables
// replaced in the store, flat files out.
type Pipeline struct {
	Store Store
	FS    billy.Filesystem
	Log   *zap.SugaredLogger
	Opts  api.Options
}

// Run executes the full denormalization sequence: graph acquisition,
// multivalued normalization, closure aggregation, edge and node
// denormalization, then the configured exports. Every derived table is
// persisted with Replace, so running twice on the same inputs leaves
// the store byte-identical.
func (p *Pipeline) Run(ctx context.Context) error {
	nodePlan, err := CompileNodePlan(p.Opts)
	if err != nil {
		return err
	}

	nodes, edges, err := p.loadGraph(ctx)
	if err != nil {
		return err
	}
	if nodes, err = withNamespace(nodes); err != nil {
		return err
	}
	if nodes, err = Normalize(nodes, p.Opts.MultivaluedFields, p.Log); err != nil {
		return fmt.Errorf("normalize %s: %w", tableNodes, err)
	}
	if edges, err = Normalize(edges, p.Opts.MultivaluedFields, p.Log); err != nil {
		return fmt.Errorf("normalize %s: %w", tableEdges, err)
	}
	if err = p.Store.Replace(ctx, nodes); err != nil {
		return fmt.Errorf("persist %s: %w", tableNodes, err)
	}
	if err = p.Store.Replace(ctx, edges); err != nil {
		return fmt.Errorf("persist %s: %w", tableEdges, err)
	}

	closure, err := p.loadClosure()
	if err != nil {
		return err
	}
	if err = p.Store.Replace(ctx, closure); err != nil {
		return fmt.Errorf("persist %s: %w", tableClosure, err)
	}
	cl, err := AggregateClosures(closure, nodes, p.Log)
	if err != nil {
		return err
	}
	for _, mt := range closureTables(cl) {
		if err = p.Store.Replace(ctx, mt); err != nil {
			return fmt.Errorf("persist %s: %w", mt.Name(), err)
		}
	}

	edgePlan := CompileEdgePlan(p.Opts, edges.Schema(), nodes.Schema(), p.Log)
	denormEdges, err := DenormalizeEdges(edges, nodes, cl, edgePlan, p.Log)
	if err != nil {
		return err
	}
	if err = p.Store.Replace(ctx, denormEdges); err != nil {
		return fmt.Errorf("persist %s: %w", tableDenormEdges, err)
	}

	denormNodes, err := DenormalizeNodes(nodes, denormEdges, cl, nodePlan, p.Log)
	if err != nil {
		return err
	}
	if err = p.Store.Replace(ctx, denormNodes); err != nil {
		return fmt.Errorf("persist %s: %w", tableDenormNodes, err)
	}

	if p.Opts.ExportEdges {
		if err = p.export(denormEdges, p.Opts.EdgesOutput); err != nil {
			return err
		}
	}
	if p.Opts.ExportNodes {
		if err = p.export(denormNodes, p.Opts.NodesOutput); err != nil {
			return err
		}
	}
	return nil
}

// loadGraph acquires the node and edge tables, either by unpacking a
// graph archive or by reading a previously populated database.
func (p *Pipeline) loadGraph(ctx context.Context) (nodes, edges *table.Table, err error) {
	if p.Opts.KGArchive != "" {
		f, err := p.FS.Open(p.Opts.KGArchive)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive %s: %w", p.Opts.KGArchive, err)
		}
		defer func() { _ = f.Close() }()
		nodes, edges, err = kgx.ReadArchive(f)
		if err != nil {
			return nil, nil, fmt.Errorf("read archive %s: %w", p.Opts.KGArchive, err)
		}
		p.Log.Infow("graph archive loaded",
			"archive", p.Opts.KGArchive,
			"nodes", nodes.NumRows(),
			"edges", edges.NumRows())
		return nodes, edges, nil
	}

	if nodes, err = p.Store.Load(ctx, tableNodes); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", tableNodes, err)
	}
	if edges, err = p.Store.Load(ctx, tableEdges); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", tableEdges, err)
	}
	p.Log.Infow("graph loaded from database",
		"database", p.Opts.Database,
		"nodes", nodes.NumRows(),
		"edges", edges.NumRows())
	return nodes, edges, nil
}

func (p *Pipeline) loadClosure() (*table.Table, error) {
	f, err := p.FS.Open(p.Opts.ClosureFile)
	if err != nil {
		return nil, fmt.Errorf("open closure %s: %w", p.Opts.ClosureFile, err)
	}
	defer func() { _ = f.Close() }()
	closure, err := kgx.ReadClosure(f, tableClosure)
	if err != nil {
		return nil, fmt.Errorf("read closure %s: %w", p.Opts.ClosureFile, err)
	}
	p.Log.Infow("closure loaded", "file", p.Opts.ClosureFile, "rows", closure.NumRows())
	return closure, nil
}

func (p *Pipeline) export(t *table.Table, path string) error {
	flat, err := FormatForExport(t)
	if err != nil {
		return err
	}
	if err := kgx.WriteTable(p.FS, path, flat); err != nil {
		return fmt.Errorf("export %s: %w", t.Name(), err)
	}
	p.Log.Infow("table exported", "table", t.Name(), "path", path, "rows", flat.NumRows())
	return nil
}

// withNamespace derives the namespace column from the curie prefix of
// each node id. Ids without a prefix get null. Any existing namespace
// column is replaced so the derivation stays idempotent.
func withNamespace(t *table.Table) (*table.Table, error) {
	idIdx := t.ColumnIndex("id")
	if idIdx < 0 {
		return t, nil
	}
	cells := make([]table.Value, t.NumRows())
	for row := range cells {
		v := t.At(row, idIdx)
		cells[row] = table.Null()
		if v.IsNull() || v.Kind != table.String {
			continue
		}
		if i := strings.IndexByte(v.Str, ':'); i > 0 {
			cells[row] = table.Text(v.Str[:i])
		}
	}
	return t.WithColumn(table.Column{Name: "namespace", Kind: table.String}, cells)
}

// closureTables materializes the four aggregated mappings as stored
// tables, one row per id, ids sorted for reproducible content.
func closureTables(cl *Closures) []*table.Table {
	build := func(name, col string, m map[string][]string) *table.Table {
		t := table.MustNew(name,
			table.Column{Name: "id", Kind: table.String},
			table.Column{Name: col, Kind: table.StringList},
		)
		ids := make([]string, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			// Keys always map to non-empty member sets.
			_ = t.AppendRow(table.Text(id), table.List(m[id]))
		}
		return t
	}
	return []*table.Table{
		build(tableAncestorClosure, "ancestors", cl.Ancestors),
		build(tableAncestorLabels, "labels", cl.AncestorLabels),
		build(tableDescendantClosure, "descendants", cl.Descendants),
		build(tableDescendantLabels, "labels", cl.DescendantLabels),
	}
}
