package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"fleetnotify/internal/database"
	"fleetnotify/internal/model"
)

// LedgerService persists the orders the watcher still considers unfinished.
// Every operation is best-effort: failures are logged and never returned,
// a lost write only degrades restart recovery.
type LedgerService struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLedgerService(db *sql.DB, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{db: db, logger: logger}
}

// InitSchema creates the ledger table. Unlike the row operations its error
// is returned: the service cannot run without the table.
func (s *LedgerService) InitSchema(ctx context.Context) error {
	if err := database.InitSchema(ctx, s.db); err != nil {
		return fmt.Errorf("ledger schema init: %w", err)
	}
	return nil
}

// Upsert stores the order row, replacing car_id and timestamp on conflict.
func (s *LedgerService) Upsert(ctx context.Context, orderID, carID int, timestamp int64) {
	if err := s.upsert(ctx, orderID, carID, timestamp); err != nil {
		s.logger.Error("ledger upsert failed", "order_id", orderID, "car_id", carID, "error", err)
	}
}

func (s *LedgerService) upsert(ctx context.Context, orderID, carID int, timestamp int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, car_id, timestamp) VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO UPDATE SET car_id = excluded.car_id, timestamp = excluded.timestamp
	`, orderID, carID, timestamp)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}

	return tx.Commit()
}

func (s *LedgerService) Delete(ctx context.Context, orderID int) {
	if err := s.delete(ctx, orderID); err != nil {
		s.logger.Error("ledger delete failed", "order_id", orderID, "error", err)
	}
}

func (s *LedgerService) delete(ctx context.Context, orderID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM orders WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	return tx.Commit()
}

// List returns all rows ordered by order id; an empty slice on failure.
func (s *LedgerService) List(ctx context.Context) []model.LedgerOrder {
	orders, err := s.list(ctx)
	if err != nil {
		s.logger.Error("ledger list failed", "error", err)
		return []model.LedgerOrder{}
	}
	return orders
}

func (s *LedgerService) list(ctx context.Context) ([]model.LedgerOrder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT order_id, car_id, timestamp FROM orders ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []model.LedgerOrder{}
	for rows.Next() {
		var o model.LedgerOrder
		if err := rows.Scan(&o.OrderID, &o.CarID, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return orders, tx.Commit()
}
