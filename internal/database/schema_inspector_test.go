package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Connection {
	t.Helper()
	conn, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSchemaInspector_ColumnsAndPrimaryKey(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.Exec(ctx, `CREATE TABLE tree (id INTEGER PRIMARY KEY, name TEXT, species TEXT)`)
	require.NoError(t, err)

	inspector := conn.Inspector()

	columns, err := inspector.Columns(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "name", Type: "TEXT"},
		{Name: "species", Type: "TEXT"},
	}, columns)

	pk, err := inspector.PrimaryKey(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, "id", pk)
}

func TestSchemaInspector_RowidTable(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.Exec(ctx, `CREATE TABLE tree (name TEXT, species TEXT)`)
	require.NoError(t, err)

	pk, err := conn.Inspector().PrimaryKey(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, RowidPK, pk)
}

func TestSchemaInspector_ForeignKeys(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.Exec(ctx, `CREATE TABLE species (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `CREATE TABLE tree (
   id INTEGER PRIMARY KEY,
   species_id INTEGER,
   FOREIGN KEY(species_id) REFERENCES species(id)
)`)
	require.NoError(t, err)

	fks, err := conn.Inspector().ForeignKeys(ctx, "tree")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, ForeignKey{Table: "tree", Column: "species_id", OtherTable: "species", OtherColumn: "id"}, fks[0])
}

func TestSchemaInspector_ExistsAndTableNotFound(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	exists, err := conn.Inspector().Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = conn.Inspector().Columns(ctx, "nope")
	require.Error(t, err)
	var notFound *TableNotFound
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.Table)
}

func TestRenderCreateTable(t *testing.T) {
	got := RenderCreateTable("tree", QuoteRewritten, []ColumnDef{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "name", Type: "TEXT"},
		{Name: "species_id", Type: "INTEGER"},
	}, []ForeignKey{
		{Table: "tree", Column: "species_id", OtherTable: "species", OtherColumn: "id"},
	})

	want := `CREATE TABLE "tree" (
   [id] INTEGER PRIMARY KEY,
   [name] TEXT,
   [species_id] INTEGER,
   FOREIGN KEY(species_id) REFERENCES species(id)
)`
	assert.Equal(t, want, got)
}
