package models

import "time"

// Event types
const (
	EventTypeOrderCreated      = "ORDER_CREATED"
	EventTypePaymentCompleted  = "PAYMENT_COMPLETED"
	EventTypePaymentFailed     = "PAYMENT_FAILED"
	EventTypeInventoryReserved = "INVENTORY_RESERVED"
	EventTypeInventoryFailed   = "INVENTORY_FAILED"
	EventTypeRefundPayment     = "REFUND_PAYMENT"
	EventTypePaymentRefunded   = "PAYMENT_REFUNDED"
	EventTypeNotificationSent  = "NOTIFICATION_SENT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderItemData represents item data carried in events
type OrderItemData struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// OrderCreatedEvent published by the coordinator when an order enters the saga
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerEmail string          `json:"customer_email"`
	TotalAmount   float64         `json:"total_amount"`
	Items         []OrderItemData `json:"items"`
}

// PaymentCompletedEvent published by the payment processor on capture.
// Items are forwarded on purpose: this event is the only channel by which
// the inventory engine learns order contents.
type PaymentCompletedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        float64         `json:"amount"`
	Items         []OrderItemData `json:"items"`
}

// PaymentFailedEvent published by the payment processor on decline
type PaymentFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// InventoryReservedEvent published by the inventory engine on a full reservation
type InventoryReservedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
}

// InventoryFailedEvent published by the inventory engine on any failure
type InventoryFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// RefundPaymentCommand emitted by the coordinator to compensate a captured payment
type RefundPaymentCommand struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

// PaymentRefundedEvent is an audit event with no current consumer,
// reserved for ledger reconciliation
type PaymentRefundedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

// NotificationSentEvent published by the notification dispatcher
type NotificationSentEvent struct {
	BaseEvent
	OrderID        string `json:"order_id"`
	NotificationID string `json:"notification_id"`
}
