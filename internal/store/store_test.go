package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/kgclose/internal/table"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "kg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleTable(t *testing.T) *table.Table {
	t.Helper()
	tt := table.MustNew("edges",
		table.Column{Name: "id", Kind: table.String},
		table.Column{Name: "evidence_count", Kind: table.Int},
		table.Column{Name: "negated", Kind: table.Bool},
		table.Column{Name: "closure", Kind: table.StringList},
	)
	require.NoError(t, tt.AppendRow(
		table.Text("e1"), table.Integer(7), table.Boolean(true), table.List([]string{"HP:1", "HP:2"})))
	require.NoError(t, tt.AppendRow(
		table.Text("e2"), table.Null(), table.Null(), table.Null()))
	require.NoError(t, tt.AppendRow(
		table.Null(), table.Integer(-2), table.Boolean(false), table.List([]string{"HP:3"})))
	return tt
}

func TestReplaceLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	want := sampleTable(t)

	require.NoError(t, db.Replace(ctx, want))
	got, err := db.Load(ctx, "edges")
	require.NoError(t, err)

	require.Equal(t, want.NumRows(), got.NumRows())
	require.Equal(t, want.Schema().Cols, got.Schema().Cols)
	for row := 0; row < want.NumRows(); row++ {
		for col := 0; col < want.NumCols(); col++ {
			assert.Equal(t, want.At(row, col), got.At(row, col),
				"row %d col %d", row, col)
		}
	}
}

func TestReplaceSwapsWholesale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Replace(ctx, sampleTable(t)))

	next := table.MustNew("edges",
		table.Column{Name: "id", Kind: table.String},
		table.Column{Name: "grouping_key", Kind: table.String},
	)
	require.NoError(t, next.AppendRow(table.Text("e9"), table.Text("A🍪B")))
	require.NoError(t, db.Replace(ctx, next))

	got, err := db.Load(ctx, "edges")
	require.NoError(t, err)
	require.Equal(t, 1, got.NumRows())
	require.Equal(t, 2, got.NumCols())
	v, ok := got.Value(0, "grouping_key")
	require.True(t, ok)
	assert.Equal(t, "A🍪B", v.Str)
}

func TestReplaceEmptyTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	empty := table.MustNew("nodes",
		table.Column{Name: "id", Kind: table.String},
	)

	require.NoError(t, db.Replace(ctx, empty))
	got, err := db.Load(ctx, "nodes")
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumRows())
	assert.Equal(t, 1, got.NumCols())
}

func TestReplaceNoColumns(t *testing.T) {
	db := openTestDB(t)
	bare := table.MustNew("nothing")

	err := db.Replace(context.Background(), bare)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestLoadMissingTable(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Load(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoTable))
	assert.Contains(t, err.Error(), "absent")
}

func TestHasTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ok, err := db.HasTable(ctx, "edges")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Replace(ctx, sampleTable(t)))
	ok, err = db.HasTable(ctx, "edges")
	require.NoError(t, err)
	assert.True(t, ok)
}

// Tables written by other producers use their own type spellings; the
// loader maps them onto logical kinds.
func TestLoadForeignSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.db.ExecContext(ctx,
		`CREATE TABLE legacy (id VARCHAR(64), tags STRING_ARRAY, n BIGINT, flag BOOL)`)
	require.NoError(t, err)
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO legacy VALUES ('HP:1', '["a","b"]', 5, 1), ('HP:2', NULL, NULL, 0)`)
	require.NoError(t, err)

	got, err := db.Load(ctx, "legacy")
	require.NoError(t, err)

	want := []table.Column{
		{Name: "id", Kind: table.String},
		{Name: "tags", Kind: table.StringList},
		{Name: "n", Kind: table.Int},
		{Name: "flag", Kind: table.Bool},
	}
	require.Equal(t, want, got.Schema().Cols)

	v, _ := got.Value(0, "tags")
	assert.Equal(t, []string{"a", "b"}, v.List)
	v, _ = got.Value(0, "n")
	assert.Equal(t, int64(5), v.Int)
	v, _ = got.Value(0, "flag")
	assert.True(t, v.Bool)
	v, _ = got.Value(1, "tags")
	assert.True(t, v.IsNull())
	v, _ = got.Value(1, "flag")
	assert.False(t, v.Bool)
}

func TestLoadBadArrayCell(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.db.ExecContext(ctx, `CREATE TABLE bad (tags TEXT_ARRAY)`)
	require.NoError(t, err)
	_, err = db.db.ExecContext(ctx, `INSERT INTO bad VALUES ('{oops')`)
	require.NoError(t, err)

	_, err = db.Load(ctx, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse array")
}

func TestKindFromDecl(t *testing.T) {
	cases := []struct {
		decl string
		want table.Kind
	}{
		{"TEXT", table.String},
		{"VARCHAR(64)", table.String},
		{"  text  ", table.String},
		{"", table.String},
		{"DATETIME", table.String},
		{"INTEGER", table.Int},
		{"BIGINT", table.Int},
		{"int", table.Int},
		{"BOOLEAN", table.Bool},
		{"bool", table.Bool},
		{"TEXT_ARRAY", table.StringList},
		{"STRING_ARRAY", table.StringList},
		{"VARCHAR[]", table.StringList},
		{"TEXT[]", table.StringList},
		{"JSON", table.StringList},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, kindFromDecl(tc.decl), "decl %q", tc.decl)
	}
}

// Column names come from input headers, so reserved words and odd
// characters must survive quoting.
func TestQuotedIdentifiers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tt := table.MustNew("select",
		table.Column{Name: "order", Kind: table.String},
		table.Column{Name: `he"llo`, Kind: table.String},
		table.Column{Name: "group by", Kind: table.Int},
	)
	require.NoError(t, tt.AppendRow(table.Text("first"), table.Text("quoted"), table.Integer(1)))

	require.NoError(t, db.Replace(ctx, tt))
	got, err := db.Load(ctx, "select")
	require.NoError(t, err)

	require.Equal(t, tt.Schema().Cols, got.Schema().Cols)
	v, ok := got.Value(0, `he"llo`)
	require.True(t, ok)
	assert.Equal(t, "quoted", v.Str)
}

func TestPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kg.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	assert.Equal(t, path, db.Path())
}
