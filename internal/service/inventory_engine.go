package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-saga/internal/broker"
	"order-saga/internal/models"
	"order-saga/internal/store"
	"order-saga/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Seed catalog loaded at bootstrap when the store is empty
var seedCatalog = []models.InventoryItem{
	{ProductID: "PROD-001", ProductName: "Laptop", Available: 100},
	{ProductID: "PROD-LAPTOP-001", ProductName: "Dell XPS 15 Laptop", Available: 50},
	{ProductID: "PROD-MONITOR-001", ProductName: "4K Monitor 27inch", Available: 75},
	{ProductID: "PROD-KEYBOARD-001", ProductName: "Mechanical Keyboard", Available: 200},
}

// InventoryEngine validates and reserves per-product stock for paid orders.
// The availability check and the available->reserved transfer are one atomic
// repository operation per product, so concurrent orders competing for the
// same product can never both pass the check against a stale read.
type InventoryEngine struct {
	inventory store.InventoryRepository
	publisher *broker.EventPublisher
	fault     OutcomeGenerator
	dedupe    Deduper
	delay     time.Duration
	logger    *zap.Logger
}

// NewInventoryEngine creates a new inventory engine
func NewInventoryEngine(
	inventory store.InventoryRepository,
	publisher *broker.EventPublisher,
	fault OutcomeGenerator,
	dedupe Deduper,
	delay time.Duration,
) *InventoryEngine {
	return &InventoryEngine{
		inventory: inventory,
		publisher: publisher,
		fault:     fault,
		dedupe:    dedupe,
		delay:     delay,
		logger:    util.GetLogger(),
	}
}

// SeedCatalog loads the sample catalog when the store holds no items
func (ie *InventoryEngine) SeedCatalog(ctx context.Context) error {
	count, err := ie.inventory.CountItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to count inventory items: %w", err)
	}
	if count > 0 {
		return nil
	}

	ie.logger.Info("Seeding sample inventory catalog")
	for i := range seedCatalog {
		item := seedCatalog[i]
		if err := ie.inventory.UpsertItem(ctx, &item); err != nil {
			return fmt.Errorf("failed to seed product %s: %w", item.ProductID, err)
		}
	}
	return nil
}

// ReserveInventory reserves stock for every line item of a paid order. Any
// failure (injected fault, unknown product, insufficient stock) fails the
// whole order: a failure record is persisted, items already reserved in the
// same batch are released again, and inventory-failed is published. Stock
// held by a partially reserved batch is always returned here; the saga's
// refund command only reverses the payment, never the stock.
func (ie *InventoryEngine) ReserveInventory(ctx context.Context, event *models.PaymentCompletedEvent) error {
	ctx, span := util.StartSpan(ctx, "InventoryEngine.ReserveInventory")
	defer span.End()

	dedupeKey := "reserve:" + event.OrderID
	processed, err := ie.dedupe.IsMarked(ctx, dedupeKey)
	if err != nil {
		return err
	}
	if processed {
		ie.logger.Info("Reservation already attempted for order",
			zap.String("order_id", event.OrderID))
		return nil
	}

	// An interrupted earlier attempt may have left holds behind; return them
	// before reserving again so a retry never stacks stock.
	if err := ie.ReleaseInventory(ctx, event.OrderID); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	reservationID := "RES-" + uuid.New().String()
	ie.logger.Info("Reserving inventory",
		zap.String("order_id", event.OrderID),
		zap.String("reservation_id", reservationID))

	if reserveErr := ie.reserveAll(ctx, event, reservationID); reserveErr != nil {
		if err := ie.failReservation(ctx, event.OrderID, reservationID, reserveErr); err != nil {
			return err
		}
		ie.markProcessed(ctx, dedupeKey)
		return nil
	}

	if err := ie.wait(ctx); err != nil {
		return err
	}

	util.InventoryReservationsTotal.Inc()
	reserved := &models.InventoryReservedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeInventoryReserved),
		OrderID:       event.OrderID,
		ReservationID: reservationID,
	}
	if err := ie.publisher.PublishInventoryReserved(ctx, reserved); err != nil {
		ie.logger.Error("Failed to publish InventoryReserved event",
			zap.String("order_id", event.OrderID), zap.Error(err))
	}

	ie.logger.Info("All inventory reserved",
		zap.String("order_id", event.OrderID),
		zap.String("reservation_id", reservationID))
	ie.markProcessed(ctx, dedupeKey)
	return nil
}

// markProcessed records the dedupe mark after the outcome is persisted and
// published. Marking last keeps an interrupted attempt redeliverable.
func (ie *InventoryEngine) markProcessed(ctx context.Context, key string) {
	if _, err := ie.dedupe.MarkOnce(ctx, key); err != nil {
		ie.logger.Error("Failed to record dedupe mark",
			zap.String("key", key), zap.Error(err))
	}
}

// reserveAll runs the fault injector, then checks and reserves each item
func (ie *InventoryEngine) reserveAll(ctx context.Context, event *models.PaymentCompletedEvent, reservationID string) error {
	// Fault injection runs before any real check so the compensation path
	// can be exercised deterministically.
	if !ie.fault.Succeeds() {
		return fmt.Errorf("%w: simulated inventory failure", models.ErrInjectedFault)
	}

	if len(event.Items) == 0 {
		return fmt.Errorf("no items to reserve for order %s", event.OrderID)
	}

	for _, item := range event.Items {
		if err := ie.inventory.ReserveStock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}

		res := &models.Reservation{
			ReservationID: reservationID + "-" + item.ProductID,
			OrderID:       event.OrderID,
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Status:        models.ReservationStatusReserved,
		}
		if err := ie.inventory.CreateReservation(ctx, res); err != nil {
			return err
		}

		ie.logger.Info("Reserved stock",
			zap.String("order_id", event.OrderID),
			zap.String("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity))
	}
	return nil
}

// failReservation records the whole-order failure, returns any partially
// reserved stock and publishes inventory-failed
func (ie *InventoryEngine) failReservation(ctx context.Context, orderID, reservationID string, cause error) error {
	ie.logger.Warn("Inventory reservation failed",
		zap.String("order_id", orderID),
		zap.Error(cause))
	util.InventoryReservationsFailed.WithLabelValues(failureReason(cause)).Inc()

	failure := &models.ReservationFailure{
		ReservationID: reservationID,
		OrderID:       orderID,
		Reason:        cause.Error(),
	}
	if err := ie.inventory.CreateReservationFailure(ctx, failure); err != nil {
		ie.logger.Error("Failed to persist reservation failure",
			zap.String("order_id", orderID), zap.Error(err))
	}

	if err := ie.ReleaseInventory(ctx, orderID); err != nil {
		ie.logger.Error("Failed to release partial reservation",
			zap.String("order_id", orderID), zap.Error(err))
	}

	failed := &models.InventoryFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeInventoryFailed),
		OrderID:   orderID,
		Reason:    cause.Error(),
	}
	if err := ie.publisher.PublishInventoryFailed(ctx, failed); err != nil {
		ie.logger.Error("Failed to publish InventoryFailed event",
			zap.String("order_id", orderID), zap.Error(err))
	}
	return nil
}

// ReleaseInventory releases every reservation still RESERVED for the order,
// restoring the held quantities to available stock. Idempotent: reservations
// already RELEASED or FAILED are untouched, so running it twice ends with
// the same stock levels as running it once.
func (ie *InventoryEngine) ReleaseInventory(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "InventoryEngine.ReleaseInventory")
	defer span.End()

	reservations, err := ie.inventory.ReservationsByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load reservations: %w", err)
	}

	for _, res := range reservations {
		if res.Status != models.ReservationStatusReserved {
			continue
		}
		released, err := ie.inventory.ReleaseReservation(ctx, res.ReservationID)
		if err != nil {
			return fmt.Errorf("failed to release reservation %s: %w", res.ReservationID, err)
		}
		if released {
			util.InventoryReleasesTotal.Inc()
			ie.logger.Info("Released reservation",
				zap.String("order_id", orderID),
				zap.String("reservation_id", res.ReservationID),
				zap.Int("quantity", res.Quantity))
		}
	}
	return nil
}

// wait simulates processing time without blocking past cancellation
func (ie *InventoryEngine) wait(ctx context.Context) error {
	if ie.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(ie.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInjectedFault):
		return "injected_fault"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrProductNotFound):
		return "unknown_product"
	default:
		return "error"
	}
}
