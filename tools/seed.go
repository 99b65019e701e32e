package tools

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

const seedSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY,
		user_id INTEGER,
		product TEXT NOT NULL,
		price DECIMAL(10,2),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
`

const seedData = `
	INSERT OR IGNORE INTO users (id, name, email) VALUES
	(1, 'Alice Smith', 'alice@example.com'),
	(2, 'Bob Jones', 'bob@example.com'),
	(3, 'Carol White', 'carol@example.com');

	INSERT OR IGNORE INTO orders (id, user_id, product, price) VALUES
	(1, 1, 'Laptop', 999.99),
	(2, 1, 'Mouse', 29.99),
	(3, 2, 'Keyboard', 89.99),
	(4, 3, 'Monitor', 299.99);
`

// SeedExampleDB creates the example users and orders tables at path.
// Seeding an existing database is a no-op for rows already present.
func SeedExampleDB(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer db.Close()

	if _, err = db.ExecContext(ctx, seedSchema); err != nil {
		return errors.Wrap(err, "failed to create tables")
	}
	if _, err = db.ExecContext(ctx, seedData); err != nil {
		return errors.Wrap(err, "failed to insert sample data")
	}

	logger.ContextKV(ctx, xlog.INFO, "status", "seeded", "path", path)
	return nil
}
