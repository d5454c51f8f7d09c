package database

import (
	"context"
	"database/sql"
	"fmt"
)

// The statement is valid for both Postgres and SQLite.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS orders (
    order_id INTEGER PRIMARY KEY,
    car_id INTEGER NOT NULL,
    timestamp BIGINT NOT NULL DEFAULT 0
)`

func InitSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}
