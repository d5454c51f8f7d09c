package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

func NewDB(ctx context.Context, driver, uri string) (*sql.DB, error) {
	db, err := sql.Open(driver, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if driver == DriverSQLite {
		// single writer, avoids SQLITE_BUSY between the watcher and ledger calls
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return db, nil
}

func CloseDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Error("failed to close DB", "error", err)
	}
}
