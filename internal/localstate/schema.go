package localstate

import (
	"context"
	"database/sql"
)

// EnsureSQLiteSchema creates the key-value table if it does not exist.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ClientState (
            StateKey TEXT PRIMARY KEY,
            StateValue TEXT NOT NULL,
            UpdateTime TIMESTAMP NOT NULL
        );`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
