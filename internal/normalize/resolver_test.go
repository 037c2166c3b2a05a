package normalize

import (
	"context"
	"testing"

	"github.com/phaer/sqlitenorm/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolverTestConn(t *testing.T) *database.Connection {
	t.Helper()
	conn, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestResolve_DerivesLookupTableAndFKColumn(t *testing.T) {
	conn := newResolverTestConn(t)
	ctx := context.Background()
	_, err := conn.Exec(ctx, `CREATE TABLE tree (id INTEGER PRIMARY KEY, name TEXT, species TEXT)`)
	require.NoError(t, err)

	plan, err := Resolve(ctx, conn.Inspector(), "tree", []string{"species"}, ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "species", plan.LookupTable)
	assert.Equal(t, "species_id", plan.FKColumn)
	assert.Equal(t, []string{"species"}, plan.EffectiveColumns)
}

func TestResolve_MultiColumnWithRename(t *testing.T) {
	conn := newResolverTestConn(t)
	ctx := context.Background()
	_, err := conn.Exec(ctx, `CREATE TABLE tree (id INTEGER PRIMARY KEY, common_name TEXT, latin_name TEXT)`)
	require.NoError(t, err)

	plan, err := Resolve(ctx, conn.Inspector(), "tree", []string{"common_name", "latin_name"}, ResolveOptions{
		Rename: map[string]string{"common_name": "name"},
	})
	require.NoError(t, err)
	assert.Equal(t, "common_name_latin_name", plan.LookupTable)
	assert.Equal(t, "common_name_latin_name_id", plan.FKColumn)
	assert.Equal(t, []string{"name", "latin_name"}, plan.EffectiveColumns)
}

func TestResolve_InvalidColumn(t *testing.T) {
	conn := newResolverTestConn(t)
	ctx := context.Background()
	_, err := conn.Exec(ctx, `CREATE TABLE tree (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	_, err = Resolve(ctx, conn.Inspector(), "tree", []string{"bad_column"}, ResolveOptions{})
	require.Error(t, err)
	var invalid *database.InvalidColumns
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"bad_column"}, invalid.Missing)
}

func TestResolve_RejectsAlreadyForeignKeyColumn(t *testing.T) {
	conn := newResolverTestConn(t)
	ctx := context.Background()
	_, err := conn.Exec(ctx, `CREATE TABLE species (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `CREATE TABLE tree (
   id INTEGER PRIMARY KEY,
   species_id INTEGER,
   FOREIGN KEY(species_id) REFERENCES species(id)
)`)
	require.NoError(t, err)

	_, err = Resolve(ctx, conn.Inspector(), "tree", []string{"species_id"}, ResolveOptions{})
	require.Error(t, err)
	var invalid *database.InvalidColumns
	assert.ErrorAs(t, err, &invalid)
}

func TestResolve_EmptyColumnsRejected(t *testing.T) {
	conn := newResolverTestConn(t)
	_, err := Resolve(context.Background(), conn.Inspector(), "tree", nil, ResolveOptions{})
	require.Error(t, err)
}

func TestResolve_DuplicateColumnsRejected(t *testing.T) {
	conn := newResolverTestConn(t)
	ctx := context.Background()
	_, err := conn.Exec(ctx, `CREATE TABLE tree (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	_, err = Resolve(ctx, conn.Inspector(), "tree", []string{"name", "name"}, ResolveOptions{})
	require.Error(t, err)
}
