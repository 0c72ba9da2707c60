package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"order-saga/internal/models"
)

// MemoryStore implements the repository interfaces in memory. It backs tests
// and the "memory" store backend. Stock operations synchronize per product,
// not behind one store-wide lock, so reservations for different products
// proceed in parallel.
type MemoryStore struct {
	mu           sync.RWMutex
	orders       map[string]*models.Order
	payments     map[string]*models.Payment
	items        map[string]*memoryItem
	reservations map[string]*models.Reservation
	failures     []models.ReservationFailure
	nextID       int64
}

type memoryItem struct {
	mu   sync.Mutex
	item models.InventoryItem
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:       make(map[string]*models.Order),
		payments:     make(map[string]*models.Payment),
		items:        make(map[string]*memoryItem),
		reservations: make(map[string]*models.Reservation),
	}
}

func (s *MemoryStore) id() int64 {
	return atomic.AddInt64(&s.nextID, 1)
}

// CreateOrder persists a new order with its line items
func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderID]; exists {
		return fmt.Errorf("duplicate order id: %s", order.OrderID)
	}

	now := time.Now()
	order.ID = s.id()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].ID = s.id()
		order.Items[i].OrderID = order.OrderID
	}

	stored := cloneOrder(order)
	s.orders[order.OrderID] = stored
	return nil
}

// FindOrderByID retrieves an order and its line items by business id
func (s *MemoryStore) FindOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	return cloneOrder(order), nil
}

// UpdateOrder saves mutable order fields (status, payment id, reservation id)
func (s *MemoryStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[order.OrderID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, order.OrderID)
	}
	stored.Status = order.Status
	stored.PaymentID = order.PaymentID
	stored.ReservationID = order.ReservationID
	stored.UpdatedAt = time.Now()
	order.UpdatedAt = stored.UpdatedAt
	return nil
}

// CreatePayment persists a new payment record
func (s *MemoryStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	payment.ID = s.id()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	stored := *payment
	s.payments[payment.PaymentID] = &stored
	return nil
}

// FindPaymentByID retrieves a payment by business id
func (s *MemoryStore) FindPaymentByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}
	cp := *payment
	return &cp, nil
}

// UpdatePaymentStatus updates payment status and transaction id
func (s *MemoryStore) UpdatePaymentStatus(ctx context.Context, paymentID, status, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}
	payment.Status = status
	payment.TransactionID = transactionID
	payment.UpdatedAt = time.Now()
	return nil
}

// UpsertItem inserts or updates an inventory item (seed catalog)
func (s *MemoryStore) UpsertItem(ctx context.Context, item *models.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ProductID]
	if ok {
		existing.mu.Lock()
		existing.item.ProductName = item.ProductName
		existing.item.UpdatedAt = time.Now()
		existing.mu.Unlock()
		return nil
	}

	now := time.Now()
	item.ID = s.id()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.items[item.ProductID] = &memoryItem{item: *item}
	return nil
}

// CountItems returns the number of catalog entries
func (s *MemoryStore) CountItems(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

// FindItemByProductID retrieves an inventory item
func (s *MemoryStore) FindItemByProductID(ctx context.Context, productID string) (*models.InventoryItem, error) {
	s.mu.RLock()
	entry, ok := s.items[productID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	cp := entry.item
	return &cp, nil
}

// ReserveStock checks and transfers stock under the product's own lock
func (s *MemoryStore) ReserveStock(ctx context.Context, productID string, quantity int) error {
	s.mu.RLock()
	entry, ok := s.items[productID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.item.Available < quantity {
		return fmt.Errorf("%w: product %s available=%d requested=%d",
			models.ErrInsufficientStock, productID, entry.item.Available, quantity)
	}

	entry.item.Available -= quantity
	entry.item.Reserved += quantity
	entry.item.UpdatedAt = time.Now()
	return nil
}

// CreateReservation persists a per-item reservation record
func (s *MemoryStore) CreateReservation(ctx context.Context, res *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res.ID = s.id()
	res.CreatedAt = now
	res.UpdatedAt = now

	stored := *res
	s.reservations[res.ReservationID] = &stored
	return nil
}

// ReservationsByOrderID retrieves all reservation records for an order
func (s *MemoryStore) ReservationsByOrderID(ctx context.Context, orderID string) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reservations []models.Reservation
	for _, res := range s.reservations {
		if res.OrderID == orderID {
			reservations = append(reservations, *res)
		}
	}
	return reservations, nil
}

// ReleaseReservation flips RESERVED to RELEASED and restores available stock.
// The status flip under the store lock is the idempotency gate: a second
// release of the same reservation finds it already RELEASED and does nothing.
func (s *MemoryStore) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	s.mu.Lock()
	res, ok := s.reservations[reservationID]
	if !ok || res.Status != models.ReservationStatusReserved {
		s.mu.Unlock()
		return false, nil
	}
	res.Status = models.ReservationStatusReleased
	res.UpdatedAt = time.Now()
	productID, quantity := res.ProductID, res.Quantity
	entry := s.items[productID]
	s.mu.Unlock()

	if entry != nil {
		entry.mu.Lock()
		entry.item.Available += quantity
		entry.item.Reserved -= quantity
		entry.item.UpdatedAt = time.Now()
		entry.mu.Unlock()
	}
	return true, nil
}

// CreateReservationFailure persists a whole-order failure record
func (s *MemoryStore) CreateReservationFailure(ctx context.Context, failure *models.ReservationFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failure.ID = s.id()
	failure.CreatedAt = time.Now()
	s.failures = append(s.failures, *failure)
	return nil
}

// ReservationFailuresByOrderID retrieves failure records for an order
func (s *MemoryStore) ReservationFailuresByOrderID(ctx context.Context, orderID string) ([]models.ReservationFailure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failures []models.ReservationFailure
	for _, f := range s.failures {
		if f.OrderID == orderID {
			failures = append(failures, f)
		}
	}
	return failures, nil
}

func cloneOrder(order *models.Order) *models.Order {
	cp := *order
	cp.Items = make([]models.OrderItem, len(order.Items))
	copy(cp.Items, order.Items)
	return &cp
}
