package service

import (
	"context"
	"testing"

	"order-saga/internal/broker"
	"order-saga/internal/models"
	"order-saga/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*SagaCoordinator, *store.MemoryStore, *capturePublisher) {
	t.Helper()
	s := store.NewMemoryStore()
	cp := newCapturePublisher()
	publisher := broker.NewEventPublisher(cp, broker.DefaultTopics())
	coordinator := NewSagaCoordinator(s, publisher, NewStatusFeed(), NewMemoryDeduper())
	return coordinator, s, cp
}

func validRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerID:    "CUST-1",
		CustomerEmail: "cust@example.com",
		TotalAmount:   199.99,
		Items: []OrderItemRequest{
			{ProductID: "PROD-001", ProductName: "Laptop", Quantity: 1, Price: 199.99},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	coordinator, s, cp := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	assert.Contains(t, resp.OrderID, "ORD-")
	assert.Equal(t, models.OrderStatusPaymentProcessing, resp.Status)
	require.Len(t, resp.Items, 1)

	stored, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaymentProcessing, stored.Status)

	published := cp.byTopic(broker.TopicOrderCreated)
	require.Len(t, published, 1)
	event := published[0].payload.(*models.OrderCreatedEvent)
	assert.Equal(t, resp.OrderID, event.OrderID)
	assert.Equal(t, resp.OrderID, published[0].key)
	assert.Equal(t, models.EventTypeOrderCreated, event.EventType)
	assert.NotEmpty(t, event.EventID)
	require.Len(t, event.Items, 1)
	assert.Equal(t, "PROD-001", event.Items[0].ProductID)
}

func TestCreateOrderUniqueIDs(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		resp, err := coordinator.CreateOrder(ctx, validRequest())
		require.NoError(t, err)
		assert.False(t, seen[resp.OrderID], "duplicate order id %s", resp.OrderID)
		seen[resp.OrderID] = true
	}
}

func TestCreateOrderValidation(t *testing.T) {
	coordinator, _, cp := newTestCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		edit  func(*CreateOrderRequest)
		field string
	}{
		{"missing customer", func(r *CreateOrderRequest) { r.CustomerID = "" }, "customerId"},
		{"no items", func(r *CreateOrderRequest) { r.Items = nil }, "items"},
		{"blank product", func(r *CreateOrderRequest) { r.Items[0].ProductID = "" }, "items.productId"},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }, "items.quantity"},
		{"negative quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = -3 }, "items.quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.edit(req)

			_, err := coordinator.CreateOrder(ctx, req)
			require.Error(t, err)
			assert.True(t, models.IsValidation(err))

			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// Nothing was persisted or published for rejected requests.
	assert.Empty(t, cp.byTopic(broker.TopicOrderCreated))
}

func TestGetOrderNotFound(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t)

	_, err := coordinator.GetOrder(context.Background(), "ORD-missing")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestHandlePaymentCompleted(t *testing.T) {
	coordinator, s, _ := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	event := &models.PaymentCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCompleted),
		OrderID:   resp.OrderID,
		PaymentID: "PAY-1",
	}
	require.NoError(t, coordinator.HandlePaymentCompleted(ctx, event))

	order, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInventoryReserving, order.Status)
	assert.Equal(t, "PAY-1", order.PaymentID)

	// Redelivery is a no-op: the order already left PAYMENT_PROCESSING.
	require.NoError(t, coordinator.HandlePaymentCompleted(ctx, event))
	order, err = s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInventoryReserving, order.Status)
}

func TestHandlePaymentFailed(t *testing.T) {
	coordinator, s, cp := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	event := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		OrderID:   resp.OrderID,
		Reason:    "card declined",
	}
	require.NoError(t, coordinator.HandlePaymentFailed(ctx, event))

	order, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	// No payment was captured, so no refund command goes out.
	assert.Empty(t, cp.byTopic(broker.TopicRefundPayment))

	// Redelivery against a terminal order is dropped.
	require.NoError(t, coordinator.HandlePaymentFailed(ctx, event))
}

func TestHandleInventoryReserved(t *testing.T) {
	coordinator, s, _ := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandlePaymentCompleted(ctx, &models.PaymentCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCompleted),
		OrderID:   resp.OrderID,
		PaymentID: "PAY-1",
	}))

	event := &models.InventoryReservedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeInventoryReserved),
		OrderID:       resp.OrderID,
		ReservationID: "RES-1",
	}
	require.NoError(t, coordinator.HandleInventoryReserved(ctx, event))

	order, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNotifying, order.Status)
	assert.Equal(t, "RES-1", order.ReservationID)
}

func TestHandleInventoryReservedOutOfOrder(t *testing.T) {
	coordinator, s, _ := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	// Arrives while the order is still in PAYMENT_PROCESSING; must be dropped.
	event := &models.InventoryReservedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeInventoryReserved),
		OrderID:       resp.OrderID,
		ReservationID: "RES-1",
	}
	require.NoError(t, coordinator.HandleInventoryReserved(ctx, event))

	order, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaymentProcessing, order.Status)
	assert.Empty(t, order.ReservationID)
}

func TestHandleInventoryFailedRefundsOnce(t *testing.T) {
	coordinator, s, cp := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandlePaymentCompleted(ctx, &models.PaymentCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCompleted),
		OrderID:   resp.OrderID,
		PaymentID: "PAY-1",
	}))

	event := &models.InventoryFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeInventoryFailed),
		OrderID:   resp.OrderID,
		Reason:    "insufficient stock",
	}
	require.NoError(t, coordinator.HandleInventoryFailed(ctx, event))

	order, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	refunds := cp.byTopic(broker.TopicRefundPayment)
	require.Len(t, refunds, 1)
	cmd := refunds[0].payload.(*models.RefundPaymentCommand)
	assert.Equal(t, resp.OrderID, cmd.OrderID)
	assert.Equal(t, "PAY-1", cmd.PaymentID)
	assert.Equal(t, "insufficient stock", cmd.Reason)

	// Redelivery must not emit a second refund.
	require.NoError(t, coordinator.HandleInventoryFailed(ctx, event))
	assert.Len(t, cp.byTopic(broker.TopicRefundPayment), 1)
}

func TestHandleInventoryFailedWithoutPayment(t *testing.T) {
	coordinator, s, cp := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	// Force the order into INVENTORY_RESERVING without a recorded payment id.
	order, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	order.Status = models.OrderStatusInventoryReserving
	require.NoError(t, s.UpdateOrder(ctx, order))

	require.NoError(t, coordinator.HandleInventoryFailed(ctx, &models.InventoryFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeInventoryFailed),
		OrderID:   resp.OrderID,
		Reason:    "simulated",
	}))

	updated, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.Empty(t, cp.byTopic(broker.TopicRefundPayment))
}

func TestHandleNotificationSent(t *testing.T) {
	coordinator, s, _ := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandlePaymentCompleted(ctx, &models.PaymentCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCompleted),
		OrderID:   resp.OrderID,
		PaymentID: "PAY-1",
	}))
	require.NoError(t, coordinator.HandleInventoryReserved(ctx, &models.InventoryReservedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeInventoryReserved),
		OrderID:       resp.OrderID,
		ReservationID: "RES-1",
	}))

	event := &models.NotificationSentEvent{
		BaseEvent:      newBaseEvent(models.EventTypeNotificationSent),
		OrderID:        resp.OrderID,
		NotificationID: "NOTIF-1",
	}
	require.NoError(t, coordinator.HandleNotificationSent(ctx, event))

	order, err := s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)

	// A duplicate against the terminal order stays there.
	require.NoError(t, coordinator.HandleNotificationSent(ctx, event))
	order, err = s.FindOrderByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
}

func TestHandlerUnknownOrder(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	err := coordinator.HandlePaymentCompleted(ctx, &models.PaymentCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCompleted),
		OrderID:   "ORD-missing",
	})
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestStatusFeedReceivesTransitions(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	resp, err := coordinator.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	updates, cancel := coordinator.feed.Subscribe(resp.OrderID)
	defer cancel()

	require.NoError(t, coordinator.HandlePaymentCompleted(ctx, &models.PaymentCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCompleted),
		OrderID:   resp.OrderID,
		PaymentID: "PAY-1",
	}))

	var messages []string
	for len(updates) > 0 {
		messages = append(messages, <-updates)
	}
	assert.Equal(t, []string{"Payment completed successfully", "Reserving inventory"}, messages)
}
