package service

import (
	"context"
	"fmt"
	"sync"

	"order-saga/internal/broker"
	"order-saga/internal/models"
)

// capturePublisher records published events instead of writing to Kafka
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
	failOn map[string]error
}

type capturedEvent struct {
	topic   string
	key     string
	payload interface{}
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{failOn: make(map[string]error)}
}

func (cp *capturePublisher) PublishEvent(ctx context.Context, topic, key string, event interface{}) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if err, ok := cp.failOn[topic]; ok {
		return err
	}
	cp.events = append(cp.events, capturedEvent{topic: topic, key: key, payload: event})
	return nil
}

func (cp *capturePublisher) byTopic(topic string) []capturedEvent {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	var out []capturedEvent
	for _, e := range cp.events {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// loopbackBus routes published events synchronously to subscribed handlers,
// standing in for the broker in choreography tests. Handlers run in
// subscription order, which mirrors the per-key ordering the real bus
// guarantees.
type loopbackBus struct {
	mu       sync.Mutex
	handlers map[string][]func(ctx context.Context, event interface{}) error
	events   []capturedEvent
}

func newLoopbackBus() *loopbackBus {
	return &loopbackBus{handlers: make(map[string][]func(ctx context.Context, event interface{}) error)}
}

func (b *loopbackBus) subscribe(topic string, handler func(ctx context.Context, event interface{}) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

func (b *loopbackBus) PublishEvent(ctx context.Context, topic, key string, event interface{}) error {
	b.mu.Lock()
	b.events = append(b.events, capturedEvent{topic: topic, key: key, payload: event})
	handlers := append([]func(ctx context.Context, event interface{}) error(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return fmt.Errorf("loopback handler for %s: %w", topic, err)
		}
	}
	return nil
}

func (b *loopbackBus) byTopic(topic string) []capturedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []capturedEvent
	for _, e := range b.events {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// wireSaga connects all four services over the loopback bus the same way
// the Kafka workers do in production
func wireSaga(
	bus *loopbackBus,
	coordinator *SagaCoordinator,
	payment *PaymentProcessor,
	engine *InventoryEngine,
	notifier *NotificationDispatcher,
) {
	bus.subscribe(broker.TopicOrderCreated, func(ctx context.Context, event interface{}) error {
		return payment.ProcessPayment(ctx, event.(*models.OrderCreatedEvent))
	})
	// The coordinator sees payment-completed before the inventory engine,
	// matching the state machine's expectation that INVENTORY_RESERVING is
	// entered before inventory events arrive.
	bus.subscribe(broker.TopicPaymentCompleted, func(ctx context.Context, event interface{}) error {
		return coordinator.HandlePaymentCompleted(ctx, event.(*models.PaymentCompletedEvent))
	})
	bus.subscribe(broker.TopicPaymentCompleted, func(ctx context.Context, event interface{}) error {
		return engine.ReserveInventory(ctx, event.(*models.PaymentCompletedEvent))
	})
	bus.subscribe(broker.TopicPaymentFailed, func(ctx context.Context, event interface{}) error {
		return coordinator.HandlePaymentFailed(ctx, event.(*models.PaymentFailedEvent))
	})
	bus.subscribe(broker.TopicInventoryReserved, func(ctx context.Context, event interface{}) error {
		return coordinator.HandleInventoryReserved(ctx, event.(*models.InventoryReservedEvent))
	})
	bus.subscribe(broker.TopicInventoryReserved, func(ctx context.Context, event interface{}) error {
		return notifier.SendOrderConfirmation(ctx, event.(*models.InventoryReservedEvent))
	})
	bus.subscribe(broker.TopicInventoryFailed, func(ctx context.Context, event interface{}) error {
		return coordinator.HandleInventoryFailed(ctx, event.(*models.InventoryFailedEvent))
	})
	bus.subscribe(broker.TopicRefundPayment, func(ctx context.Context, event interface{}) error {
		return payment.RefundPayment(ctx, event.(*models.RefundPaymentCommand))
	})
	bus.subscribe(broker.TopicNotificationSent, func(ctx context.Context, event interface{}) error {
		return coordinator.HandleNotificationSent(ctx, event.(*models.NotificationSentEvent))
	})
}
