package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-saga/internal/models"
)

// CreateOrder persists a new order with its line items
func (s *PostgresStore) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (order_id, customer_id, customer_email, total_amount, status, payment_id, reservation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.OrderID, order.CustomerID, order.CustomerEmail, order.TotalAmount,
		order.Status, order.PaymentID, order.ReservationID).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.OrderID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.Price).
			Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// FindOrderByID retrieves an order and its line items by business id
func (s *PostgresStore) FindOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// UpdateOrder saves mutable order fields (status, payment id, reservation id)
func (s *PostgresStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, payment_id = $2, reservation_id = $3, updated_at = NOW()
		WHERE order_id = $4`,
		order.Status, order.PaymentID, order.ReservationID, order.OrderID)
	return err
}

// CreatePayment persists a new payment record
func (s *PostgresStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (payment_id, order_id, customer_id, transaction_id, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.PaymentID, payment.OrderID, payment.CustomerID,
		payment.TransactionID, payment.Amount, payment.Status)
}

// FindPaymentByID retrieves a payment by business id
func (s *PostgresStore) FindPaymentByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE payment_id = $1", paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatus updates payment status and transaction id
func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, paymentID, status, transactionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, transaction_id = $2, updated_at = NOW() WHERE payment_id = $3",
		status, transactionID, paymentID)
	return err
}
