package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"order-saga/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore implements the repository interfaces on PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to the database and returns a store
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *PostgresStore) GetDB() *sqlx.DB {
	return s.db
}

// UpsertItem inserts or updates an inventory item (seed catalog)
func (s *PostgresStore) UpsertItem(ctx context.Context, item *models.InventoryItem) error {
	query := `
		INSERT INTO inventory_items (product_id, product_name, available, reserved)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id) DO UPDATE
		SET product_name = EXCLUDED.product_name, updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, item, query,
		item.ProductID, item.ProductName, item.Available, item.Reserved)
}

// CountItems returns the number of catalog entries
func (s *PostgresStore) CountItems(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM inventory_items")
	return count, err
}

// FindItemByProductID retrieves an inventory item
func (s *PostgresStore) FindItemByProductID(ctx context.Context, productID string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM inventory_items WHERE product_id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ReserveStock checks and transfers stock inside a transaction (FOR UPDATE lock)
func (s *PostgresStore) ReserveStock(ctx context.Context, productID string, quantity int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var available int
	err = tx.GetContext(ctx, &available,
		"SELECT available FROM inventory_items WHERE product_id = $1 FOR UPDATE", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock inventory: %w", err)
	}

	if available < quantity {
		return fmt.Errorf("%w: product %s available=%d requested=%d",
			models.ErrInsufficientStock, productID, available, quantity)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE inventory_items SET available = available - $1, reserved = reserved + $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	return tx.Commit()
}

// CreateReservation persists a per-item reservation record
func (s *PostgresStore) CreateReservation(ctx context.Context, res *models.Reservation) error {
	query := `
		INSERT INTO reservations (reservation_id, order_id, product_id, quantity, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, res, query,
		res.ReservationID, res.OrderID, res.ProductID, res.Quantity, res.Status)
}

// ReservationsByOrderID retrieves all reservation records for an order
func (s *PostgresStore) ReservationsByOrderID(ctx context.Context, orderID string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE order_id = $1 ORDER BY id", orderID)
	return reservations, err
}

// ReleaseReservation flips RESERVED to RELEASED and restores available stock.
// The conditional UPDATE makes the operation idempotent.
func (s *PostgresStore) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var row struct {
		ProductID string `db:"product_id"`
		Quantity  int    `db:"quantity"`
	}
	err = tx.GetContext(ctx, &row, `
		UPDATE reservations SET status = $1, updated_at = NOW()
		WHERE reservation_id = $2 AND status = $3
		RETURNING product_id, quantity`,
		models.ReservationStatusReleased, reservationID, models.ReservationStatusReserved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to release reservation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE inventory_items SET available = available + $1, reserved = reserved - $1, updated_at = NOW() WHERE product_id = $2",
		row.Quantity, row.ProductID)
	if err != nil {
		return false, fmt.Errorf("failed to restore stock: %w", err)
	}

	return true, tx.Commit()
}

// CreateReservationFailure persists a whole-order failure record
func (s *PostgresStore) CreateReservationFailure(ctx context.Context, failure *models.ReservationFailure) error {
	query := `
		INSERT INTO reservation_failures (reservation_id, order_id, reason)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, failure, query,
		failure.ReservationID, failure.OrderID, failure.Reason)
}
