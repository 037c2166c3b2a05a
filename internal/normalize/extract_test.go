package normalize

import (
	"context"
	"database/sql"
	"testing"

	"github.com/phaer/sqlitenorm/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExtractTestConn(t *testing.T) *database.Connection {
	t.Helper()
	conn, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func seedTree(t *testing.T, conn *database.Connection, rows [][2]string) {
	t.Helper()
	ctx := context.Background()
	_, err := conn.Exec(ctx, `CREATE TABLE tree (id INTEGER PRIMARY KEY, name TEXT, species TEXT)`)
	require.NoError(t, err)
	for i, r := range rows {
		_, err := conn.Exec(ctx, `INSERT INTO tree (id, name, species) VALUES (?, ?, ?)`, i+1, r[0], r[1])
		require.NoError(t, err)
	}
}

// TestExtract_SingleColumnDefaults covers scenario E1: four distinct
// species values get ids 1..4 in first-appearance order, and tree's
// schema gains species_id with its foreign key in place of species.
func TestExtract_SingleColumnDefaults(t *testing.T) {
	conn := newExtractTestConn(t)
	ctx := context.Background()
	species := []string{"Palm", "Spruce", "Mangrove", "Oak"}
	var rows [][2]string
	for i := 0; i < 40; i++ {
		rows = append(rows, [2]string{"tree" + string(rune('A'+i%26)), species[i%len(species)]})
	}
	seedTree(t, conn, rows)

	require.NoError(t, Extract(ctx, conn, "tree", []string{"species"}, ExtractOptions{}))

	var count int
	require.NoError(t, conn.DB().GetContext(ctx, &count, `SELECT COUNT(*) FROM species`))
	assert.Equal(t, 4, count)

	for i, name := range species {
		var id int
		require.NoError(t, conn.DB().GetContext(ctx, &id, `SELECT id FROM species WHERE species = ?`, name))
		assert.Equal(t, i+1, id)
	}

	schema, err := conn.Inspector().Schema(ctx, "tree")
	require.NoError(t, err)
	assert.Contains(t, schema, "[species_id] INTEGER")
	assert.Contains(t, schema, "FOREIGN KEY(species_id) REFERENCES species(id)")
	assert.NotContains(t, schema, "[species] TEXT")

	var rowCount int
	require.NoError(t, conn.DB().GetContext(ctx, &rowCount, `SELECT COUNT(*) FROM tree`))
	assert.Equal(t, 40, rowCount)
}

// TestExtract_InvalidColumn covers scenario E3: no schema change on
// failure.
func TestExtract_InvalidColumn(t *testing.T) {
	conn := newExtractTestConn(t)
	ctx := context.Background()
	seedTree(t, conn, [][2]string{{"a", "Palm"}})

	before, err := conn.Inspector().Schema(ctx, "tree")
	require.NoError(t, err)

	err = Extract(ctx, conn, "tree", []string{"bad_column"}, ExtractOptions{})
	require.Error(t, err)
	var invalid *database.InvalidColumns
	assert.ErrorAs(t, err, &invalid)

	after, err := conn.Inspector().Schema(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// TestExtract_RowidTable covers scenario E4.
func TestExtract_RowidTable(t *testing.T) {
	conn := newExtractTestConn(t)
	ctx := context.Background()
	_, err := conn.Exec(ctx, `CREATE TABLE tree (name TEXT, species TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO tree (name, species) VALUES ('a', 'Palm'), ('b', 'Oak')`)
	require.NoError(t, err)

	require.NoError(t, Extract(ctx, conn, "tree", []string{"species"}, ExtractOptions{}))

	pk, err := conn.Inspector().PrimaryKey(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, database.RowidPK, pk)

	var rowCount int
	require.NoError(t, conn.DB().GetContext(ctx, &rowCount, `SELECT COUNT(*) FROM tree`))
	assert.Equal(t, 2, rowCount)
}

// TestExtract_LookupReuse covers scenario E5: two tables extracting
// into the same lookup table share ids in global first-appearance
// order, and pre-existing rows keep their ids.
func TestExtract_LookupReuse(t *testing.T) {
	conn := newExtractTestConn(t)
	ctx := context.Background()

	_, err := conn.Exec(ctx, `CREATE TABLE dogs (id INTEGER PRIMARY KEY, name TEXT, species TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO dogs (name, species) VALUES ('Rex', 'Wolf'), ('Fido', 'Fox')`)
	require.NoError(t, err)
	require.NoError(t, Extract(ctx, conn, "dogs", []string{"species"}, ExtractOptions{}))

	_, err = conn.Exec(ctx, `CREATE TABLE cats (id INTEGER PRIMARY KEY, name TEXT, species TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO cats (name, species) VALUES ('Tom', 'Fox'), ('Jerry', 'Wolf')`)
	require.NoError(t, err)
	require.NoError(t, Extract(ctx, conn, "cats", []string{"species"}, ExtractOptions{}))

	var wolfID, foxID int
	require.NoError(t, conn.DB().GetContext(ctx, &wolfID, `SELECT id FROM species WHERE species = 'Wolf'`))
	require.NoError(t, conn.DB().GetContext(ctx, &foxID, `SELECT id FROM species WHERE species = 'Fox'`))
	assert.Equal(t, 1, wolfID)
	assert.Equal(t, 2, foxID)

	var count int
	require.NoError(t, conn.DB().GetContext(ctx, &count, `SELECT COUNT(*) FROM species`))
	assert.Equal(t, 2, count)
}

// TestExtract_IncompatibleExistingLookup covers scenario E6.
func TestExtract_IncompatibleExistingLookup(t *testing.T) {
	conn := newExtractTestConn(t)
	ctx := context.Background()
	seedTree(t, conn, [][2]string{{"a", "Palm"}})

	_, err := conn.Exec(ctx, `CREATE TABLE species (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	err = Extract(ctx, conn, "tree", []string{"species"}, ExtractOptions{})
	require.Error(t, err)
	var invalid *database.InvalidColumns
	assert.ErrorAs(t, err, &invalid)
}

// TestExtract_Idempotent verifies a re-run with the same arguments is
// a no-op once the FK column is already installed: the second call
// fails fast because species is no longer a source column.
func TestExtract_Idempotent(t *testing.T) {
	conn := newExtractTestConn(t)
	ctx := context.Background()
	seedTree(t, conn, [][2]string{{"a", "Palm"}, {"b", "Oak"}})

	require.NoError(t, Extract(ctx, conn, "tree", []string{"species"}, ExtractOptions{}))
	schemaAfterFirst, err := conn.Inspector().Schema(ctx, "tree")
	require.NoError(t, err)

	err = Extract(ctx, conn, "tree", []string{"species"}, ExtractOptions{})
	require.Error(t, err)

	schemaAfterSecond, err := conn.Inspector().Schema(ctx, "tree")
	require.NoError(t, err)
	assert.Equal(t, schemaAfterFirst, schemaAfterSecond)
}

// TestExtract_AllNilRowsGetNullFK verifies rows with every extracted
// column NULL get a NULL FK rather than a resolved lookup id.
func TestExtract_AllNilRowsGetNullFK(t *testing.T) {
	conn := newExtractTestConn(t)
	ctx := context.Background()
	_, err := conn.Exec(ctx, `CREATE TABLE tree (id INTEGER PRIMARY KEY, name TEXT, species TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO tree (id, name, species) VALUES (1, 'a', NULL), (2, 'b', 'Oak')`)
	require.NoError(t, err)

	require.NoError(t, Extract(ctx, conn, "tree", []string{"species"}, ExtractOptions{}))

	var fk sql.NullInt64
	require.NoError(t, conn.DB().GetContext(ctx, &fk, `SELECT species_id FROM tree WHERE id = 1`))
	assert.False(t, fk.Valid)
}
