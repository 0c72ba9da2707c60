package models

import "time"

// Order represents a customer order moving through the saga
type Order struct {
	ID            int64       `db:"id" json:"-"`
	OrderID       string      `db:"order_id" json:"order_id"`
	CustomerID    string      `db:"customer_id" json:"customer_id"`
	CustomerEmail string      `db:"customer_email" json:"customer_email,omitempty"`
	TotalAmount   float64     `db:"total_amount" json:"total_amount"`
	Status        string      `db:"status" json:"status"`
	PaymentID     string      `db:"payment_id" json:"payment_id,omitempty"`
	ReservationID string      `db:"reservation_id" json:"reservation_id,omitempty"`
	Items         []OrderItem `db:"-" json:"items"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem represents a line item in an order
type OrderItem struct {
	ID          int64   `db:"id" json:"-"`
	OrderID     string  `db:"order_id" json:"-"`
	ProductID   string  `db:"product_id" json:"product_id"`
	ProductName string  `db:"product_name" json:"product_name"`
	Quantity    int     `db:"quantity" json:"quantity"`
	Price       float64 `db:"price" json:"price"`
}

// InventoryItem represents per-product stock.
// Invariant: available + reserved is conserved across reserve/release.
type InventoryItem struct {
	ID          int64     `db:"id" json:"-"`
	ProductID   string    `db:"product_id" json:"product_id"`
	ProductName string    `db:"product_name" json:"product_name"`
	Available   int       `db:"available" json:"available"`
	Reserved    int       `db:"reserved" json:"reserved"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Reservation is one stock hold for one line item of an order
type Reservation struct {
	ID            int64     `db:"id" json:"-"`
	ReservationID string    `db:"reservation_id" json:"reservation_id"`
	OrderID       string    `db:"order_id" json:"order_id"`
	ProductID     string    `db:"product_id" json:"product_id"`
	Quantity      int       `db:"quantity" json:"quantity"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ReservationFailure records a whole-order reservation failure,
// kept separate from per-item Reservation rows
type ReservationFailure struct {
	ID            int64     `db:"id" json:"-"`
	ReservationID string    `db:"reservation_id" json:"reservation_id"`
	OrderID       string    `db:"order_id" json:"order_id"`
	Reason        string    `db:"reason" json:"reason"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Payment represents a payment transaction
type Payment struct {
	ID            int64     `db:"id" json:"-"`
	PaymentID     string    `db:"payment_id" json:"payment_id"`
	OrderID       string    `db:"order_id" json:"order_id"`
	CustomerID    string    `db:"customer_id" json:"customer_id"`
	TransactionID string    `db:"transaction_id" json:"transaction_id,omitempty"`
	Amount        float64   `db:"amount" json:"amount"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending            = "PENDING"
	OrderStatusPaymentProcessing  = "PAYMENT_PROCESSING"
	OrderStatusPaymentCompleted   = "PAYMENT_COMPLETED"
	OrderStatusInventoryReserving = "INVENTORY_RESERVING"
	OrderStatusInventoryReserved  = "INVENTORY_RESERVED"
	OrderStatusNotifying          = "NOTIFYING"
	OrderStatusCompleted          = "COMPLETED"
	OrderStatusPaymentFailed      = "PAYMENT_FAILED"
	OrderStatusInventoryFailed    = "INVENTORY_FAILED"
	OrderStatusCancelled          = "CANCELLED"
)

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

// Reservation statuses
const (
	ReservationStatusReserved = "RESERVED"
	ReservationStatusReleased = "RELEASED"
	ReservationStatusFailed   = "FAILED"
)

// orderTransitions is the legal order status graph.
// COMPLETED and CANCELLED are terminal.
var orderTransitions = map[string][]string{
	OrderStatusPending:            {OrderStatusPaymentProcessing},
	OrderStatusPaymentProcessing:  {OrderStatusPaymentCompleted, OrderStatusPaymentFailed},
	OrderStatusPaymentCompleted:   {OrderStatusInventoryReserving},
	OrderStatusInventoryReserving: {OrderStatusInventoryReserved, OrderStatusInventoryFailed},
	OrderStatusInventoryReserved:  {OrderStatusNotifying},
	OrderStatusNotifying:          {OrderStatusCompleted},
	OrderStatusPaymentFailed:      {OrderStatusCancelled},
	OrderStatusInventoryFailed:    {OrderStatusCancelled},
}

// CanTransition reports whether an order may move from one status to another
func CanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a status admits no further transitions
func IsTerminalStatus(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}
