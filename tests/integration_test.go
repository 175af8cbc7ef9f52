package tests

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentic-research/kgclose/api"
	"github.com/agentic-research/kgclose/internal/denorm"
	"github.com/agentic-research/kgclose/internal/store"
	"github.com/agentic-research/kgclose/internal/table"
)

// testFixture bundles the shared state for integration tests: a KGX
// archive and closure file on disk, a real SQLite store, and the
// options the pipeline runs with.
type testFixture struct {
	dir  string
	db   *store.DB
	opts api.Options
}

const testNodesTSV = "id\tname\tcategory\tin_taxon\tin_taxon_label\n" +
	"MONDO:0001\tDravet syndrome\tbiolink:Disease\tNCBITaxon:9606\tHomo sapiens\n" +
	"MONDO:0002\tEpilepsy\tbiolink:Disease\tNCBITaxon:9606\tHomo sapiens\n" +
	"HP:0001\tSeizure\tbiolink:PhenotypicFeature\t\t\n" +
	"HP:0002\tAbnormal nervous system physiology\tbiolink:PhenotypicFeature\t\t\n" +
	"HP:0003\tMotor seizure\tbiolink:PhenotypicFeature\t\t\n" +
	"HGNC:100\tSCN1A\tbiolink:Gene\tNCBITaxon:9606\tHomo sapiens\n"

const testEdgesTSV = "id\tsubject\tpredicate\tobject\tnegated\thas_evidence\tpublications\n" +
	"uuid:1\tMONDO:0001\tbiolink:has_phenotype\tHP:0003\t\tECO:1|ECO:2\tPMID:1|PMID:2|PMID:3\n" +
	"uuid:2\tMONDO:0001\tbiolink:has_phenotype\tHP:0001\tTrue\tECO:1\t\n" +
	"uuid:3\tMONDO:0002\tbiolink:has_phenotype\tHP:0001\t\t\t\n" +
	"uuid:4\tHGNC:100\tbiolink:gene_associated_with_condition\tMONDO:0001\t\tECO:3\tPMID:9\n"

const testClosureTSV = "HP:0003\trdfs:subClassOf\tHP:0001\n" +
	"HP:0001\trdfs:subClassOf\tHP:0002\n" +
	"HP:0003\trdfs:subClassOf\tHP:0002\n" +
	"MONDO:0001\trdfs:subClassOf\tMONDO:0002\n"

// setup writes the archive and closure file into a temp dir, opens a
// fresh database there, and builds the same option set cmd/root.go
// would resolve for an archive-mode run.
func setup(t *testing.T) *testFixture {
	t.Helper()

	dir := t.TempDir()
	archive := filepath.Join(dir, "monarch-kg.tar.gz")
	writeArchive(t, archive, []archiveMember{
		{"monarch-kg/monarch-kg_nodes.tsv", testNodesTSV},
		{"monarch-kg/monarch-kg_edges.tsv", testEdgesTSV},
	})
	closure := filepath.Join(dir, "closure.tsv")
	require.NoError(t, os.WriteFile(closure, []byte(testClosureTSV), 0o644))

	db, err := store.Open(filepath.Join(dir, "kg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	opts := api.Defaults()
	opts.KGArchive = archive
	opts.Database = db.Path()
	opts.ClosureFile = closure
	opts.EdgesOutput = filepath.Join(dir, "denormalized_edges.tsv")
	opts.NodesOutput = filepath.Join(dir, "denormalized_nodes.tsv")
	opts.NodeFields = []string{"has_phenotype"}

	return &testFixture{dir: dir, db: db, opts: opts}
}

type archiveMember struct {
	name, body string
}

func writeArchive(t *testing.T, path string, members []archiveMember) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, m := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: m.name, Mode: 0o644, Size: int64(len(m.body)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

// run executes the pipeline the way cmd/root.go wires it: the real
// SQLite store and a billy view rooted at /.
func run(t *testing.T, fx *testFixture) {
	t.Helper()
	p := &denorm.Pipeline{
		Store: fx.db,
		FS:    osfs.New("/"),
		Log:   zap.NewNop().Sugar(),
		Opts:  fx.opts,
	}
	require.NoError(t, p.Run(context.Background()))
}

func cell(t *testing.T, tt *table.Table, row int, name string) table.Value {
	t.Helper()
	v, ok := tt.Value(row, name)
	require.True(t, ok, "column %s", name)
	return v
}

func TestPipelineEndToEnd(t *testing.T) {
	fx := setup(t)
	run(t, fx)
	ctx := context.Background()

	edges, err := fx.db.Load(ctx, "denormalized_edges")
	require.NoError(t, err)
	require.Equal(t, 4, edges.NumRows())
	byID := edges.KeyIndex("id")

	r1 := byID["uuid:1"]
	assert.Equal(t, "Dravet syndrome", cell(t, edges, r1, "subject_label").Str)
	assert.Equal(t, "MONDO", cell(t, edges, r1, "subject_namespace").Str)
	assert.Equal(t, "biolink:Disease", cell(t, edges, r1, "subject_category").Str)
	assert.Equal(t, []string{"NCBITaxon:9606"}, cell(t, edges, r1, "subject_taxon").List)
	assert.Equal(t, []string{"MONDO:0002"}, cell(t, edges, r1, "subject_closure").List)
	assert.Equal(t, []string{"Epilepsy"}, cell(t, edges, r1, "subject_closure_label").List)
	assert.Equal(t, "Motor seizure", cell(t, edges, r1, "object_label").Str)
	assert.Equal(t, []string{"HP:0001", "HP:0002"}, cell(t, edges, r1, "object_closure").List)
	assert.Equal(t, int64(5), cell(t, edges, r1, "evidence_count").Int)
	assert.Equal(t, "MONDO:0001🍪🍪biolink:has_phenotype🍪HP:0003",
		cell(t, edges, r1, "grouping_key").Str)

	r2 := byID["uuid:2"]
	assert.Equal(t, int64(1), cell(t, edges, r2, "evidence_count").Int)
	assert.Equal(t, "MONDO:0001🍪NOT🍪biolink:has_phenotype🍪HP:0001",
		cell(t, edges, r2, "grouping_key").Str)

	r3 := byID["uuid:3"]
	assert.Equal(t, int64(0), cell(t, edges, r3, "evidence_count").Int)
	assert.True(t, cell(t, edges, r3, "object_taxon").IsNull())

	nodes, err := fx.db.Load(ctx, "denormalized_nodes")
	require.NoError(t, err)
	require.Equal(t, 6, nodes.NumRows())
	byID = nodes.KeyIndex("id")

	disease := byID["MONDO:0001"]
	assert.Equal(t, []string{"HP:0003", "HP:0001"}, cell(t, nodes, disease, "has_phenotype").List)
	assert.Equal(t, []string{"Motor seizure", "Seizure"}, cell(t, nodes, disease, "has_phenotype_label").List)
	assert.Equal(t, int64(2), cell(t, nodes, disease, "has_phenotype_count").Int)
	assert.Equal(t, []string{"HP:0001", "HP:0002"}, cell(t, nodes, disease, "has_phenotype_closure").List)
	assert.Equal(t, []string{"Seizure", "Abnormal nervous system physiology"},
		cell(t, nodes, disease, "has_phenotype_closure_label").List)

	root := byID["HP:0002"]
	assert.Equal(t, []string{"HP:0003", "HP:0001"}, cell(t, nodes, root, "descendants").List)
	assert.Equal(t, []string{"Motor seizure", "Seizure"}, cell(t, nodes, root, "descendants_label").List)
	assert.Equal(t, int64(2), cell(t, nodes, root, "descendant_count").Int)

	gene := byID["HGNC:100"]
	assert.True(t, cell(t, nodes, gene, "has_phenotype_count").IsNull(),
		"no matching edges leaves the count null")
	assert.True(t, cell(t, nodes, gene, "descendants").IsNull())
	assert.Equal(t, int64(0), cell(t, nodes, gene, "descendant_count").Int)
}

func TestExportedFiles(t *testing.T) {
	fx := setup(t)
	run(t, fx)

	raw, err := os.ReadFile(fx.opts.EdgesOutput)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 5, "header plus one line per edge")
	assert.Contains(t, lines[0], "subject_closure")
	assert.Contains(t, lines[0], "grouping_key")

	var first string
	for _, l := range lines[1:] {
		if strings.HasPrefix(l, "uuid:1\t") {
			first = l
		}
	}
	require.NotEmpty(t, first)
	assert.Contains(t, first, "HP:0001|HP:0002", "arrays export pipe-joined")
	assert.Contains(t, first, "PMID:1|PMID:2|PMID:3")

	raw, err = os.ReadFile(fx.opts.NodesOutput)
	require.NoError(t, err)
	lines = strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], "has_phenotype_closure")
}

func TestRerunFromDatabase(t *testing.T) {
	fx := setup(t)
	run(t, fx)
	ctx := context.Background()

	first, err := fx.db.Load(ctx, "denormalized_edges")
	require.NoError(t, err)
	firstNodes, err := fx.db.Load(ctx, "denormalized_nodes")
	require.NoError(t, err)

	// Drop the archive so the second run reads the graph back from the
	// database, the way a re-closurization of an existing workspace does.
	fx.opts.KGArchive = ""
	run(t, fx)

	second, err := fx.db.Load(ctx, "denormalized_edges")
	require.NoError(t, err)
	secondNodes, err := fx.db.Load(ctx, "denormalized_nodes")
	require.NoError(t, err)

	assertSameTable(t, first, second)
	assertSameTable(t, firstNodes, secondNodes)
}

func TestNodeFilterExcludesNegated(t *testing.T) {
	fx := setup(t)
	fx.opts.NodeFilter = "negated is null"
	run(t, fx)

	nodes, err := fx.db.Load(context.Background(), "denormalized_nodes")
	require.NoError(t, err)
	byID := nodes.KeyIndex("id")

	disease := byID["MONDO:0001"]
	assert.Equal(t, []string{"HP:0003"}, cell(t, nodes, disease, "has_phenotype").List)
	assert.Equal(t, int64(1), cell(t, nodes, disease, "has_phenotype_count").Int)
}

func assertSameTable(t *testing.T, want, got *table.Table) {
	t.Helper()
	require.Equal(t, want.Schema().Cols, got.Schema().Cols)
	require.Equal(t, want.NumRows(), got.NumRows())
	for row := 0; row < want.NumRows(); row++ {
		for col := 0; col < want.NumCols(); col++ {
			assert.Equal(t, want.At(row, col), got.At(row, col), "row %d col %d", row, col)
		}
	}
}
