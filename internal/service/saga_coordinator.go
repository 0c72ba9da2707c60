package service

import (
	"context"
	"fmt"
	"time"

	"order-saga/internal/broker"
	"order-saga/internal/models"
	"order-saga/internal/store"
	"order-saga/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SagaCoordinator owns the order lifecycle. It creates orders, reacts to the
// events published by the other services, drives the status transitions and
// issues the compensating refund command when inventory fails after payment
// was captured.
//
// Every Handle* method is idempotent under redelivery: the transition is
// applied only when the order is still in the state the event targets, so a
// duplicate or out-of-order event can neither re-advance the state machine
// nor re-fire a side effect.
type SagaCoordinator struct {
	orders    store.OrderRepository
	publisher *broker.EventPublisher
	feed      *StatusFeed
	dedupe    Deduper
	logger    *zap.Logger
}

// NewSagaCoordinator creates a new coordinator
func NewSagaCoordinator(
	orders store.OrderRepository,
	publisher *broker.EventPublisher,
	feed *StatusFeed,
	dedupe Deduper,
) *SagaCoordinator {
	return &SagaCoordinator{
		orders:    orders,
		publisher: publisher,
		feed:      feed,
		dedupe:    dedupe,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest is the REST payload for creating an order
type CreateOrderRequest struct {
	CustomerID    string             `json:"customerId" binding:"required"`
	CustomerEmail string             `json:"customerEmail"`
	TotalAmount   float64            `json:"totalAmount" binding:"required"`
	Items         []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// OrderItemRequest is one requested line item
type OrderItemRequest struct {
	ProductID   string  `json:"productId" binding:"required"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity" binding:"required,min=1"`
	Price       float64 `json:"price"`
}

// OrderResponse is the order snapshot returned by the REST API
type OrderResponse struct {
	OrderID       string              `json:"orderId"`
	CustomerID    string              `json:"customerId"`
	CustomerEmail string              `json:"customerEmail,omitempty"`
	TotalAmount   float64             `json:"totalAmount"`
	Status        string              `json:"status"`
	PaymentID     string              `json:"paymentId,omitempty"`
	ReservationID string              `json:"reservationId,omitempty"`
	Items         []OrderItemResponse `json:"items"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// OrderItemResponse is one line item in an order snapshot
type OrderItemResponse struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// CreateOrder validates the request, persists the order, advances it to
// PAYMENT_PROCESSING and publishes order-created. The order id is a full
// UUID: collision-resistant under sustained load, unlike a truncated one.
func (sc *SagaCoordinator) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "SagaCoordinator.CreateOrder")
	defer span.End()

	if err := validateOrderRequest(req); err != nil {
		return nil, err
	}

	orderID := "ORD-" + uuid.New().String()

	order := &models.Order{
		OrderID:       orderID,
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		TotalAmount:   req.TotalAmount,
		Status:        models.OrderStatusPending,
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}

	if err := sc.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	sc.logger.Info("Order created",
		zap.String("order_id", orderID),
		zap.String("customer_id", req.CustomerID))

	// Synchronous first transition, before any event is consumed.
	if err := sc.advance(ctx, order, models.OrderStatusPaymentProcessing, "Payment processing started"); err != nil {
		return nil, err
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated),
		OrderID:       orderID,
		CustomerID:    order.CustomerID,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   order.TotalAmount,
		Items:         toEventItems(order.Items),
	}
	if err := sc.publisher.PublishOrderCreated(ctx, event); err != nil {
		sc.logger.Error("Failed to publish OrderCreated event",
			zap.String("order_id", orderID), zap.Error(err))
	}

	return toOrderResponse(order), nil
}

// GetOrder retrieves an order snapshot by business id
func (sc *SagaCoordinator) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	order, err := sc.orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toOrderResponse(order), nil
}

// HandlePaymentCompleted records the payment id and moves the order to the
// inventory reservation phase
func (sc *SagaCoordinator) HandlePaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaCoordinator.HandlePaymentCompleted")
	defer span.End()

	order, err := sc.orders.FindOrderByID(ctx, event.OrderID)
	if err != nil {
		return err
	}

	if order.Status != models.OrderStatusPaymentProcessing {
		sc.dropStale(event.EventType, order)
		return nil
	}

	sc.logger.Info("Payment completed",
		zap.String("order_id", event.OrderID),
		zap.String("payment_id", event.PaymentID))

	order.PaymentID = event.PaymentID
	if err := sc.advance(ctx, order, models.OrderStatusPaymentCompleted, "Payment completed successfully"); err != nil {
		return err
	}
	return sc.advance(ctx, order, models.OrderStatusInventoryReserving, "Reserving inventory")
}

// HandlePaymentFailed cancels the order. No compensation is needed because
// nothing was captured.
func (sc *SagaCoordinator) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaCoordinator.HandlePaymentFailed")
	defer span.End()

	order, err := sc.orders.FindOrderByID(ctx, event.OrderID)
	if err != nil {
		return err
	}

	if order.Status != models.OrderStatusPaymentProcessing {
		sc.dropStale(event.EventType, order)
		return nil
	}

	sc.logger.Warn("Payment failed",
		zap.String("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	if err := sc.advance(ctx, order, models.OrderStatusPaymentFailed, "Payment failed: "+event.Reason); err != nil {
		return err
	}
	if err := sc.advance(ctx, order, models.OrderStatusCancelled, "Order cancelled"); err != nil {
		return err
	}
	util.OrdersCancelledTotal.WithLabelValues("payment_failed").Inc()
	return nil
}

// HandleInventoryReserved records the reservation id and moves the order to
// the notification phase
func (sc *SagaCoordinator) HandleInventoryReserved(ctx context.Context, event *models.InventoryReservedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaCoordinator.HandleInventoryReserved")
	defer span.End()

	order, err := sc.orders.FindOrderByID(ctx, event.OrderID)
	if err != nil {
		return err
	}

	if order.Status != models.OrderStatusInventoryReserving {
		sc.dropStale(event.EventType, order)
		return nil
	}

	sc.logger.Info("Inventory reserved",
		zap.String("order_id", event.OrderID),
		zap.String("reservation_id", event.ReservationID))

	order.ReservationID = event.ReservationID
	if err := sc.advance(ctx, order, models.OrderStatusInventoryReserved, "Inventory reserved successfully"); err != nil {
		return err
	}
	return sc.advance(ctx, order, models.OrderStatusNotifying, "Sending confirmation")
}

// HandleInventoryFailed runs the compensation path: when a payment was
// captured, exactly one refund command is emitted before the order is
// cancelled
func (sc *SagaCoordinator) HandleInventoryFailed(ctx context.Context, event *models.InventoryFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaCoordinator.HandleInventoryFailed")
	defer span.End()

	order, err := sc.orders.FindOrderByID(ctx, event.OrderID)
	if err != nil {
		return err
	}

	if order.Status != models.OrderStatusInventoryReserving {
		sc.dropStale(event.EventType, order)
		return nil
	}

	sc.logger.Warn("Inventory reservation failed",
		zap.String("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	if err := sc.advance(ctx, order, models.OrderStatusInventoryFailed, "Inventory reservation failed: "+event.Reason); err != nil {
		return err
	}

	if order.PaymentID != "" {
		sc.refundPayment(ctx, order, event.Reason)
	}

	if err := sc.advance(ctx, order, models.OrderStatusCancelled, "Order cancelled. Payment refunded."); err != nil {
		return err
	}
	util.OrdersCancelledTotal.WithLabelValues("inventory_failed").Inc()
	return nil
}

// HandleNotificationSent completes the saga
func (sc *SagaCoordinator) HandleNotificationSent(ctx context.Context, event *models.NotificationSentEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaCoordinator.HandleNotificationSent")
	defer span.End()

	order, err := sc.orders.FindOrderByID(ctx, event.OrderID)
	if err != nil {
		return err
	}

	if order.Status != models.OrderStatusNotifying {
		sc.dropStale(event.EventType, order)
		return nil
	}

	if err := sc.advance(ctx, order, models.OrderStatusCompleted, "Order completed successfully!"); err != nil {
		return err
	}
	util.OrdersCompletedTotal.Inc()

	sc.logger.Info("Order completed", zap.String("order_id", event.OrderID))
	return nil
}

// refundPayment emits the compensating refund command at most once per
// order. The state guard in HandleInventoryFailed already makes a second
// emission unreachable in-process; the dedupe mark also covers the crash
// window between the status write and the publish.
func (sc *SagaCoordinator) refundPayment(ctx context.Context, order *models.Order, reason string) {
	first, err := sc.dedupe.MarkOnce(ctx, "refund:"+order.OrderID)
	if err != nil {
		sc.logger.Error("Failed to check refund dedupe mark",
			zap.String("order_id", order.OrderID), zap.Error(err))
		return
	}
	if !first {
		sc.logger.Info("Refund already emitted", zap.String("order_id", order.OrderID))
		return
	}

	cmd := &models.RefundPaymentCommand{
		BaseEvent: newBaseEvent(models.EventTypeRefundPayment),
		OrderID:   order.OrderID,
		PaymentID: order.PaymentID,
		Reason:    reason,
	}
	if err := sc.publisher.PublishRefundPayment(ctx, cmd); err != nil {
		sc.logger.Error("Failed to publish RefundPayment command",
			zap.String("order_id", order.OrderID), zap.Error(err))
		return
	}
	sc.logger.Info("Refund command sent",
		zap.String("order_id", order.OrderID),
		zap.String("payment_id", order.PaymentID))
}

// advance applies one legal transition, persists it and pushes the status
// message to the order's subscriber if one is connected
func (sc *SagaCoordinator) advance(ctx context.Context, order *models.Order, to, message string) error {
	if !models.CanTransition(order.Status, to) {
		return fmt.Errorf("illegal transition for order %s: %s -> %s", order.OrderID, order.Status, to)
	}

	order.Status = to
	if err := sc.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	util.OrderTransitionsTotal.WithLabelValues(to).Inc()
	sc.feed.Publish(order.OrderID, message)

	sc.logger.Info("Order status updated",
		zap.String("order_id", order.OrderID),
		zap.String("status", to))
	return nil
}

func (sc *SagaCoordinator) dropStale(eventType string, order *models.Order) {
	util.StaleEventsTotal.WithLabelValues(eventType).Inc()
	sc.logger.Info("Dropping stale event",
		zap.String("event_type", eventType),
		zap.String("order_id", order.OrderID),
		zap.String("status", order.Status))
}

func validateOrderRequest(req *CreateOrderRequest) error {
	if req.CustomerID == "" {
		return &models.ValidationError{Field: "customerId", Reason: "must not be empty"}
	}
	if len(req.Items) == 0 {
		return &models.ValidationError{Field: "items", Reason: "must contain at least one item"}
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return &models.ValidationError{Field: "items.productId", Reason: "must not be empty"}
		}
		if item.Quantity <= 0 {
			return &models.ValidationError{Field: "items.quantity", Reason: "must be positive"}
		}
	}
	return nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func toEventItems(items []models.OrderItem) []models.OrderItemData {
	out := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		out = append(out, models.OrderItemData{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	return out
}

func toOrderResponse(order *models.Order) *OrderResponse {
	resp := &OrderResponse{
		OrderID:       order.OrderID,
		CustomerID:    order.CustomerID,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   order.TotalAmount,
		Status:        order.Status,
		PaymentID:     order.PaymentID,
		ReservationID: order.ReservationID,
		Items:         make([]OrderItemResponse, 0, len(order.Items)),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	return resp
}
