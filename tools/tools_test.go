package tools_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sammcj/toolbridge/provider"
	"github.com/sammcj/toolbridge/tools"
	"github.com/sammcj/toolbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arithmeticRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	list, err := tools.Arithmetic()
	require.NoError(t, err)
	r := provider.NewRegistry()
	require.NoError(t, r.Register(list...))
	return r
}

func TestArithmetic(t *testing.T) {
	r := arithmeticRegistry(t)
	ctx := context.Background()

	descriptors, err := r.ListTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"add", "subtract", "multiply", "divide"}, names)

	tcases := []struct {
		tool string
		args string
		exp  any
	}{
		{"add", `{"a":25,"b":17}`, 42},
		{"subtract", `{"a":25,"b":17}`, 8},
		{"multiply", `{"a":6,"b":5}`, 30},
		{"divide", `{"a":7,"b":2}`, 3.5},
	}
	for _, tc := range tcases {
		res, err := r.CallTool(ctx, types.NewToolCallRequest("id-"+tc.tool, tc.tool, tc.args))
		require.NoError(t, err, tc.tool)
		assert.Equal(t, tc.exp, res.Content, tc.tool)
		assert.Equal(t, "id-"+tc.tool, res.CallID)
	}
}

func TestDivideByZero(t *testing.T) {
	r := arithmeticRegistry(t)

	_, err := r.CallTool(context.Background(), types.NewToolCallRequest("1", "divide", `{"a":1,"b":0}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrToolExecution))
	assert.True(t, errors.Is(err, tools.ErrDivisionByZero))
}

func TestDatabaseTool(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "example.db")
	require.NoError(t, tools.SeedExampleDB(ctx, path))
	// seeding twice keeps the same rows
	require.NoError(t, tools.SeedExampleDB(ctx, path))

	db, err := tools.NewDatabaseTool(path)
	require.NoError(t, err)
	defer db.Close()

	assert.Contains(t, db.Description(), "Table users:")
	assert.Contains(t, db.Description(), "Table orders:")

	rows, err := db.Execute(ctx, "SELECT name FROM users ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Alice Smith", rows[0]["name"])

	_, err = db.Execute(ctx, "DELETE FROM users")
	assert.EqualError(t, err, "invalid query: only SELECT queries are allowed")

	_, err = db.Execute(ctx, "SELECT 1; DROP TABLE users")
	assert.EqualError(t, err, "invalid query: multiple statements are not allowed")

	_, err = db.Execute(ctx, "SELECT * FROM missing")
	assert.EqualError(t, err, "invalid query: query must reference a valid table")

	tool, err := db.Tool()
	require.NoError(t, err)
	r := provider.NewRegistry()
	require.NoError(t, r.Register(tool))

	res, err := r.CallTool(ctx, types.NewToolCallRequest("q1", "query_database", `{"query":"SELECT COUNT(*) AS n FROM orders"}`))
	require.NoError(t, err)
	assert.Equal(t, `[{"n":4}]`, res.Text())

	_, err = r.CallTool(ctx, types.NewToolCallRequest("q2", "query_database", `{}`))
	assert.True(t, errors.Is(err, types.ErrInvalidArguments))
}
