package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"order-saga/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProduct(t *testing.T, s *MemoryStore, productID string, available int) {
	t.Helper()
	err := s.UpsertItem(context.Background(), &models.InventoryItem{
		ProductID:   productID,
		ProductName: productID,
		Available:   available,
	})
	require.NoError(t, err)
}

func TestReserveStock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProduct(t, s, "P1", 10)

	err := s.ReserveStock(ctx, "P1", 4)
	require.NoError(t, err)

	item, err := s.FindItemByProductID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 6, item.Available)
	assert.Equal(t, 4, item.Reserved)
}

func TestReserveStockInsufficient(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProduct(t, s, "P1", 3)

	err := s.ReserveStock(ctx, "P1", 5)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	// A rejected attempt leaves stock unchanged.
	item, err := s.FindItemByProductID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, item.Available)
	assert.Equal(t, 0, item.Reserved)
}

func TestReserveStockUnknownProduct(t *testing.T) {
	s := NewMemoryStore()
	err := s.ReserveStock(context.Background(), "NOPE", 1)
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestReserveStockConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const stock = 10
	const attempts = 50
	seedProduct(t, s, "P1", stock)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ReserveStock(ctx, "P1", 1); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Concurrent attempts totaling more than the stock must admit at most
	// the stock, and the conservation invariant must hold.
	assert.Equal(t, stock, admitted)

	item, err := s.FindItemByProductID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 0, item.Available)
	assert.Equal(t, stock, item.Reserved)
}

func TestReleaseReservationIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProduct(t, s, "P1", 10)

	require.NoError(t, s.ReserveStock(ctx, "P1", 4))
	require.NoError(t, s.CreateReservation(ctx, &models.Reservation{
		ReservationID: "RES-1-P1",
		OrderID:       "ORD-1",
		ProductID:     "P1",
		Quantity:      4,
		Status:        models.ReservationStatusReserved,
	}))

	released, err := s.ReleaseReservation(ctx, "RES-1-P1")
	require.NoError(t, err)
	assert.True(t, released)

	// Second release is a no-op.
	released, err = s.ReleaseReservation(ctx, "RES-1-P1")
	require.NoError(t, err)
	assert.False(t, released)

	item, err := s.FindItemByProductID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, item.Available)
	assert.Equal(t, 0, item.Reserved)

	reservations, err := s.ReservationsByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, models.ReservationStatusReleased, reservations[0].Status)
}

func TestOrderRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	order := &models.Order{
		OrderID:     "ORD-42",
		CustomerID:  "CUST-1",
		TotalAmount: 99.5,
		Status:      models.OrderStatusPending,
		Items: []models.OrderItem{
			{ProductID: "P1", ProductName: "Widget", Quantity: 2, Price: 49.75},
		},
	}
	require.NoError(t, s.CreateOrder(ctx, order))
	assert.NotZero(t, order.ID)
	assert.False(t, order.CreatedAt.IsZero())

	got, err := s.FindOrderByID(ctx, "ORD-42")
	require.NoError(t, err)
	assert.Equal(t, order.CustomerID, got.CustomerID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "P1", got.Items[0].ProductID)

	got.Status = models.OrderStatusPaymentProcessing
	got.PaymentID = "PAY-1"
	require.NoError(t, s.UpdateOrder(ctx, got))

	again, err := s.FindOrderByID(ctx, "ORD-42")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaymentProcessing, again.Status)
	assert.Equal(t, "PAY-1", again.PaymentID)

	// Mutating a returned copy must not leak into the store.
	again.Status = "SCRIBBLE"
	fresh, err := s.FindOrderByID(ctx, "ORD-42")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaymentProcessing, fresh.Status)
}

func TestFindOrderNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.FindOrderByID(context.Background(), "ORD-missing")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestPaymentRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	payment := &models.Payment{
		PaymentID:  "PAY-7",
		OrderID:    "ORD-7",
		CustomerID: "CUST-7",
		Amount:     10,
		Status:     models.PaymentStatusPending,
	}
	require.NoError(t, s.CreatePayment(ctx, payment))

	require.NoError(t, s.UpdatePaymentStatus(ctx, "PAY-7", models.PaymentStatusCompleted, "TXN-7"))

	got, err := s.FindPaymentByID(ctx, "PAY-7")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, got.Status)
	assert.Equal(t, "TXN-7", got.TransactionID)

	_, err = s.FindPaymentByID(ctx, "PAY-missing")
	assert.ErrorIs(t, err, models.ErrPaymentNotFound)
}

func TestConcurrentReservationsAcrossProducts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const products = 8
	for i := 0; i < products; i++ {
		seedProduct(t, s, fmt.Sprintf("P%d", i), 100)
	}

	var wg sync.WaitGroup
	for i := 0; i < products; i++ {
		productID := fmt.Sprintf("P%d", i)
		for j := 0; j < 100; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.ReserveStock(ctx, productID, 1)
			}()
		}
	}
	wg.Wait()

	for i := 0; i < products; i++ {
		item, err := s.FindItemByProductID(ctx, fmt.Sprintf("P%d", i))
		require.NoError(t, err)
		assert.Equal(t, 0, item.Available)
		assert.Equal(t, 100, item.Reserved)
	}
}
