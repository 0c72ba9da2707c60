package store

import (
	"context"

	"order-saga/internal/models"
)

// OrderRepository persists orders and their line items
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
}

// PaymentRepository persists payment transactions
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPaymentByID(ctx context.Context, paymentID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID, status, transactionID string) error
}

// InventoryRepository persists stock levels and reservation records.
//
// ReserveStock is the one operation with a hard concurrency contract: the
// availability check and the available->reserved transfer must be atomic per
// product, so that concurrent reservations for the same product can never both
// pass the check against a stale read.
type InventoryRepository interface {
	UpsertItem(ctx context.Context, item *models.InventoryItem) error
	CountItems(ctx context.Context) (int, error)
	FindItemByProductID(ctx context.Context, productID string) (*models.InventoryItem, error)

	// ReserveStock atomically checks availability and transfers quantity
	// from available to reserved. Returns models.ErrProductNotFound or
	// models.ErrInsufficientStock on rejection, leaving stock unchanged.
	ReserveStock(ctx context.Context, productID string, quantity int) error

	CreateReservation(ctx context.Context, res *models.Reservation) error
	ReservationsByOrderID(ctx context.Context, orderID string) ([]models.Reservation, error)

	// ReleaseReservation flips a reservation from RESERVED to RELEASED and
	// restores the held quantity to available. Returns false when the
	// reservation was not in RESERVED state, making release idempotent.
	ReleaseReservation(ctx context.Context, reservationID string) (bool, error)

	CreateReservationFailure(ctx context.Context, failure *models.ReservationFailure) error
}
