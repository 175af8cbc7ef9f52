package kgx

import (
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/kgclose/internal/table"
)

func TestReadTable(t *testing.T) {
	in := "id\tname\tnegated\tweight\tcomment\n" +
		"e1\tfirst\tTrue\t10\t\n" +
		"e2\t\tfalse\t-3\t\n" +
		"e3\tthird\t\t0\t\n"

	tt, err := ReadTable(strings.NewReader(in), "edges")
	require.NoError(t, err)

	assert.Equal(t, "edges", tt.Name())
	require.Equal(t, 3, tt.NumRows())

	kinds := map[string]table.Kind{}
	for _, c := range tt.Schema().Cols {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, table.String, kinds["id"])
	assert.Equal(t, table.String, kinds["name"])
	assert.Equal(t, table.Bool, kinds["negated"], "True/false tokens infer boolean")
	assert.Equal(t, table.Int, kinds["weight"])
	assert.Equal(t, table.String, kinds["comment"], "all-empty columns stay text")

	v, ok := tt.Value(0, "negated")
	require.True(t, ok)
	assert.True(t, v.Bool)
	v, _ = tt.Value(1, "negated")
	assert.False(t, v.Bool)
	v, _ = tt.Value(2, "negated")
	assert.True(t, v.IsNull(), "empty cells read as null")

	v, _ = tt.Value(1, "weight")
	assert.Equal(t, int64(-3), v.Int)
	v, _ = tt.Value(1, "name")
	assert.True(t, v.IsNull())
}

func TestReadTablePipesStayScalar(t *testing.T) {
	in := "id\thas_evidence\n" +
		"e1\tECO:1|ECO:2\n"

	tt, err := ReadTable(strings.NewReader(in), "edges")
	require.NoError(t, err)

	v, ok := tt.Value(0, "has_evidence")
	require.True(t, ok)
	assert.Equal(t, table.String, v.Kind)
	assert.Equal(t, "ECO:1|ECO:2", v.Str, "array conversion is a separate step")
}

func TestReadTableMixedColumnIsText(t *testing.T) {
	in := "id\tflag\n" +
		"e1\tTrue\n" +
		"e2\t3\n"

	tt, err := ReadTable(strings.NewReader(in), "edges")
	require.NoError(t, err)

	v, _ := tt.Value(0, "flag")
	assert.Equal(t, table.String, v.Kind)
	assert.Equal(t, "True", v.Str)
	v, _ = tt.Value(1, "flag")
	assert.Equal(t, "3", v.Str)
}

func TestReadTableSkipsBlankLines(t *testing.T) {
	in := "id\n" +
		"e1\n" +
		"\n" +
		"e2\n"

	tt, err := ReadTable(strings.NewReader(in), "edges")
	require.NoError(t, err)
	assert.Equal(t, 2, tt.NumRows())
}

func TestReadTableRaggedRow(t *testing.T) {
	in := "id\tsubject\tobject\n" +
		"e1\tA:1\tB:1\n" +
		"e2\tA:2\n"

	_, err := ReadTable(strings.NewReader(in), "edges")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edges line 3: want 3 fields, got 2")
}

func TestReadTableEmptyInput(t *testing.T) {
	_, err := ReadTable(strings.NewReader(""), "nodes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty input")
}

func TestReadTableEmptyHeaderColumn(t *testing.T) {
	_, err := ReadTable(strings.NewReader("id\t\tname\n"), "nodes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header column 2 is empty")
}

func TestReadTableHeaderOnly(t *testing.T) {
	tt, err := ReadTable(strings.NewReader("id\tname\n"), "nodes")
	require.NoError(t, err)
	assert.Equal(t, 0, tt.NumRows())
	assert.Equal(t, 2, tt.NumCols())
}

func TestReadClosure(t *testing.T) {
	in := "HP:1\trdfs:subClassOf\tHP:2\n" +
		"\n" +
		"HP:2\trdfs:subClassOf\tHP:3\n" +
		"X:1\t\tHP:3\n"

	tt, err := ReadClosure(strings.NewReader(in), "closure")
	require.NoError(t, err)

	require.Equal(t, 3, tt.NumRows())
	require.Equal(t, 3, tt.NumCols())
	for _, c := range tt.Schema().Cols {
		assert.Equal(t, table.String, c.Kind)
	}

	v, ok := tt.Value(0, "id")
	require.True(t, ok)
	assert.Equal(t, "HP:1", v.Str)
	v, _ = tt.Value(0, "ancestor")
	assert.Equal(t, "HP:2", v.Str)
	v, _ = tt.Value(2, "predicate")
	assert.True(t, v.IsNull())
}

func TestReadClosureBadFieldCount(t *testing.T) {
	in := "HP:1\trdfs:subClassOf\tHP:2\n" +
		"HP:2\tHP:3\n"

	_, err := ReadClosure(strings.NewReader(in), "closure")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closure line 2: want 3 fields, got 2")
}

func TestReadClosureEmpty(t *testing.T) {
	tt, err := ReadClosure(strings.NewReader(""), "closure")
	require.NoError(t, err)
	assert.Equal(t, 0, tt.NumRows())
}

func TestWriteTable(t *testing.T) {
	tt := table.MustNew("out",
		table.Column{Name: "id", Kind: table.String},
		table.Column{Name: "negated", Kind: table.Bool},
		table.Column{Name: "evidence_count", Kind: table.Int},
		table.Column{Name: "closure", Kind: table.StringList},
	)
	require.NoError(t, tt.AppendRow(
		table.Text("e1"), table.Boolean(true), table.Integer(2), table.List([]string{"HP:1", "HP:2"})))
	require.NoError(t, tt.AppendRow(
		table.Text("e2"), table.Null(), table.Integer(0), table.Null()))

	fs := memfs.New()
	require.NoError(t, WriteTable(fs, "/out/table.tsv", tt))

	raw, err := util.ReadFile(fs, "/out/table.tsv")
	require.NoError(t, err)

	want := "id\tnegated\tevidence_count\tclosure\n" +
		"e1\tTrue\t2\tHP:1|HP:2\n" +
		"e2\t\t0\t\n"
	assert.Equal(t, want, string(raw))
}

func TestWriteTableRoundTrip(t *testing.T) {
	tt := table.MustNew("nodes",
		table.Column{Name: "id", Kind: table.String},
		table.Column{Name: "name", Kind: table.String},
	)
	require.NoError(t, tt.AppendRow(table.Text("HP:1"), table.Text("Abnormal gait")))

	fs := memfs.New()
	require.NoError(t, WriteTable(fs, "/nodes.tsv", tt))

	f, err := fs.Open("/nodes.tsv")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	back, err := ReadTable(f, "nodes")
	require.NoError(t, err)
	require.Equal(t, 1, back.NumRows())
	v, _ := back.Value(0, "name")
	assert.Equal(t, "Abnormal gait", v.Str)
}
