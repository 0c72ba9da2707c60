package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"order-saga/internal/models"

	"github.com/segmentio/kafka-go"
)

// Default topic names, keyed by order id on the wire
const (
	TopicOrderCreated      = "order-created"
	TopicPaymentCompleted  = "payment-completed"
	TopicPaymentFailed     = "payment-failed"
	TopicInventoryReserved = "inventory-reserved"
	TopicInventoryFailed   = "inventory-failed"
	TopicRefundPayment     = "refund-payment"
	TopicPaymentRefunded   = "payment-refunded"
	TopicNotificationSent  = "notification-sent"
)

// Topics maps each saga event to its configured topic name
type Topics struct {
	OrderCreated      string
	PaymentCompleted  string
	PaymentFailed     string
	InventoryReserved string
	InventoryFailed   string
	RefundPayment     string
	PaymentRefunded   string
	NotificationSent  string
}

// DefaultTopics returns the standard topic layout
func DefaultTopics() Topics {
	return Topics{
		OrderCreated:      TopicOrderCreated,
		PaymentCompleted:  TopicPaymentCompleted,
		PaymentFailed:     TopicPaymentFailed,
		InventoryReserved: TopicInventoryReserved,
		InventoryFailed:   TopicInventoryFailed,
		RefundPayment:     TopicRefundPayment,
		PaymentRefunded:   TopicPaymentRefunded,
		NotificationSent:  TopicNotificationSent,
	}
}

// TopicPublisher publishes an event to a topic under a partition key.
// *Producer implements it against Kafka; tests substitute a loopback.
type TopicPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer TopicPublisher
	topics   Topics
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer TopicPublisher, topics Topics) *EventPublisher {
	return &EventPublisher{producer: producer, topics: topics}
}

// PublishOrderCreated publishes an OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.OrderCreated, event.OrderID, event)
}

// PublishPaymentCompleted publishes a PaymentCompleted event
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.PaymentCompleted, event.OrderID, event)
}

// PublishPaymentFailed publishes a PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.PaymentFailed, event.OrderID, event)
}

// PublishInventoryReserved publishes an InventoryReserved event
func (ep *EventPublisher) PublishInventoryReserved(ctx context.Context, event *models.InventoryReservedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.InventoryReserved, event.OrderID, event)
}

// PublishInventoryFailed publishes an InventoryFailed event
func (ep *EventPublisher) PublishInventoryFailed(ctx context.Context, event *models.InventoryFailedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.InventoryFailed, event.OrderID, event)
}

// PublishRefundPayment publishes a RefundPayment command
func (ep *EventPublisher) PublishRefundPayment(ctx context.Context, cmd *models.RefundPaymentCommand) error {
	return ep.producer.PublishEvent(ctx, ep.topics.RefundPayment, cmd.OrderID, cmd)
}

// PublishPaymentRefunded publishes a PaymentRefunded audit event
func (ep *EventPublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.PaymentRefunded, event.OrderID, event)
}

// PublishNotificationSent publishes a NotificationSent event
func (ep *EventPublisher) PublishNotificationSent(ctx context.Context, event *models.NotificationSentEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.NotificationSent, event.OrderID, event)
}

// EventHandler routes the coordinator's inbound events
type EventHandler struct {
	onPaymentCompleted  func(context.Context, *models.PaymentCompletedEvent) error
	onPaymentFailed     func(context.Context, *models.PaymentFailedEvent) error
	onInventoryReserved func(context.Context, *models.InventoryReservedEvent) error
	onInventoryFailed   func(context.Context, *models.InventoryFailedEvent) error
	onNotificationSent  func(context.Context, *models.NotificationSentEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentCompleted registers a handler for PaymentCompleted events
func (eh *EventHandler) OnPaymentCompleted(handler func(context.Context, *models.PaymentCompletedEvent) error) {
	eh.onPaymentCompleted = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// OnInventoryReserved registers a handler for InventoryReserved events
func (eh *EventHandler) OnInventoryReserved(handler func(context.Context, *models.InventoryReservedEvent) error) {
	eh.onInventoryReserved = handler
}

// OnInventoryFailed registers a handler for InventoryFailed events
func (eh *EventHandler) OnInventoryFailed(handler func(context.Context, *models.InventoryFailedEvent) error) {
	eh.onInventoryFailed = handler
}

// OnNotificationSent registers a handler for NotificationSent events
func (eh *EventHandler) OnNotificationSent(handler func(context.Context, *models.NotificationSentEvent) error) {
	eh.onNotificationSent = handler
}

// HandleMessage routes messages to the registered handlers by event type
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypePaymentCompleted:
		if eh.onPaymentCompleted != nil {
			var event models.PaymentCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentCompleted event: %w", err)
			}
			return eh.onPaymentCompleted(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	case models.EventTypeInventoryReserved:
		if eh.onInventoryReserved != nil {
			var event models.InventoryReservedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal InventoryReserved event: %w", err)
			}
			return eh.onInventoryReserved(ctx, &event)
		}

	case models.EventTypeInventoryFailed:
		if eh.onInventoryFailed != nil {
			var event models.InventoryFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal InventoryFailed event: %w", err)
			}
			return eh.onInventoryFailed(ctx, &event)
		}

	case models.EventTypeNotificationSent:
		if eh.onNotificationSent != nil {
			var event models.NotificationSentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal NotificationSent event: %w", err)
			}
			return eh.onNotificationSent(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
