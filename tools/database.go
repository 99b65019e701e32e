// tools/database.go
package tools

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sammcj/toolbridge/provider"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "tools")

// DatabaseTool runs read-only queries against a SQLite database
type DatabaseTool struct {
	db      *sql.DB
	schemas map[string]TableSchema
}

// TableSchema represents a database table schema
type TableSchema struct {
	Name    string
	Columns []ColumnSchema
}

// ColumnSchema represents a database column schema
type ColumnSchema struct {
	Name string
	Type string
}

// QueryArgs are the arguments of query_database
type QueryArgs struct {
	Query string `json:"query" jsonschema:"description=SELECT statement to execute"`
}

// NewDatabaseTool opens the database at dbPath in read-only mode
func NewDatabaseTool(dbPath string) (*DatabaseTool, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to ping database %s", dbPath)
	}

	tool := &DatabaseTool{
		db:      db,
		schemas: make(map[string]TableSchema),
	}

	if err := tool.loadSchemas(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to load schemas")
	}

	logger.KV(xlog.INFO, "status", "database_opened", "path", dbPath, "tables", len(tool.schemas))
	return tool, nil
}

// loadSchemas reads the database schema
func (t *DatabaseTool) loadSchemas() error {
	rows, err := t.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return errors.Wrap(err, "failed to list tables")
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return errors.Wrap(err, "failed to scan table name")
		}
		names = append(names, name)
	}
	rows.Close()

	for _, name := range names {
		schema, err := t.getTableSchema(name)
		if err != nil {
			return errors.Wrapf(err, "failed to get schema for %s", name)
		}
		t.schemas[name] = schema
	}

	return nil
}

// getTableSchema reads the schema for a specific table
func (t *DatabaseTool) getTableSchema(tableName string) (TableSchema, error) {
	schema := TableSchema{Name: tableName}

	rows, err := t.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", tableName))
	if err != nil {
		return schema, errors.Wrap(err, "failed to get table info")
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notNull, pk int
		var name, typ string
		var dflt any
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return schema, errors.Wrap(err, "failed to scan column info")
		}
		schema.Columns = append(schema.Columns, ColumnSchema{Name: name, Type: typ})
	}

	return schema, rows.Err()
}

// Description lists the available tables for the model
func (t *DatabaseTool) Description() string {
	names := make([]string, 0, len(t.schemas))
	for name := range t.schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Execute a read-only SQL query against the SQLite database. Available tables:")
	for _, name := range names {
		fmt.Fprintf(&b, "\nTable %s:", name)
		for _, col := range t.schemas[name].Columns {
			fmt.Fprintf(&b, "\n  - %s (%s)", col.Name, col.Type)
		}
	}
	return b.String()
}

// Tool returns the query_database provider tool
func (t *DatabaseTool) Tool() (*provider.Tool, error) {
	return provider.NewTool("query_database", t.Description(), func(ctx context.Context, in *QueryArgs) (any, error) {
		return t.Execute(ctx, in.Query)
	})
}

// Execute runs a SELECT query and returns one map per row
func (t *DatabaseTool) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	if err := t.validateQuery(query); err != nil {
		return nil, errors.Wrap(err, "invalid query")
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "query", "sql", query)

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get columns")
	}

	results := []map[string]any{}
	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			// text columns come back as []byte
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// validateQuery allows a single SELECT statement over known tables
func (t *DatabaseTool) validateQuery(query string) error {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.TrimSuffix(q, ";")

	if !strings.HasPrefix(q, "select") && !strings.HasPrefix(q, "with") {
		return errors.New("only SELECT queries are allowed")
	}
	if strings.Contains(q, ";") {
		return errors.New("multiple statements are not allowed")
	}

	for tableName := range t.schemas {
		if strings.Contains(q, strings.ToLower(tableName)) {
			return nil
		}
	}

	return errors.New("query must reference a valid table")
}

// Close releases database resources
func (t *DatabaseTool) Close() error {
	return t.db.Close()
}
