package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"order-saga/internal/broker"
	"order-saga/internal/models"
	"order-saga/internal/service"

	"github.com/segmentio/kafka-go"
)

// topicConsumer pairs a consumer with the handler for its topic. Each
// consumer runs its own fetch/handle/commit loop, so ordering within a
// partition key is preserved while different topics (and different
// partitions) proceed in parallel.
type topicConsumer struct {
	consumer *broker.Consumer
	handler  broker.MessageHandler
}

// Worker runs a set of topic consumers for one logical service
type Worker struct {
	name      string
	consumers []topicConsumer
	wg        sync.WaitGroup
}

// Start launches one consuming goroutine per topic and blocks until the
// context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	log.Printf("Starting %s worker with %d consumers...", w.name, len(w.consumers))

	for _, tc := range w.consumers {
		tc := tc
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := tc.consumer.StartConsuming(ctx, tc.handler); err != nil && ctx.Err() == nil {
				log.Printf("%s worker consumer error: %v", w.name, err)
			}
		}()
	}

	<-ctx.Done()
	w.wg.Wait()
	return ctx.Err()
}

// Stop closes all consumers
func (w *Worker) Stop() error {
	log.Printf("Stopping %s worker...", w.name)
	var firstErr error
	for _, tc := range w.consumers {
		if err := tc.consumer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ConsumerFactory builds a consumer for a topic and group id
type ConsumerFactory func(topic, groupID string) *broker.Consumer

// NewCoordinatorWorker consumes the five events that drive the saga state
// machine
func NewCoordinatorWorker(
	newConsumer ConsumerFactory,
	topics broker.Topics,
	groupID string,
	coordinator *service.SagaCoordinator,
) *Worker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentCompleted(coordinator.HandlePaymentCompleted)
	eventHandler.OnPaymentFailed(coordinator.HandlePaymentFailed)
	eventHandler.OnInventoryReserved(coordinator.HandleInventoryReserved)
	eventHandler.OnInventoryFailed(coordinator.HandleInventoryFailed)
	eventHandler.OnNotificationSent(coordinator.HandleNotificationSent)

	inbound := []string{
		topics.PaymentCompleted,
		topics.PaymentFailed,
		topics.InventoryReserved,
		topics.InventoryFailed,
		topics.NotificationSent,
	}

	w := &Worker{name: "coordinator"}
	for _, topic := range inbound {
		w.consumers = append(w.consumers, topicConsumer{
			consumer: newConsumer(topic, groupID),
			handler:  eventHandler.HandleMessage,
		})
	}
	return w
}

// NewPaymentWorker consumes order-created and refund-payment
func NewPaymentWorker(
	newConsumer ConsumerFactory,
	topics broker.Topics,
	groupID string,
	processor *service.PaymentProcessor,
) *Worker {
	return &Worker{
		name: "payment",
		consumers: []topicConsumer{
			{
				consumer: newConsumer(topics.OrderCreated, groupID),
				handler: func(ctx context.Context, msg kafka.Message) error {
					var event models.OrderCreatedEvent
					if err := json.Unmarshal(msg.Value, &event); err != nil {
						log.Printf("Failed to unmarshal OrderCreated event: %v", err)
						return nil
					}
					return processor.ProcessPayment(ctx, &event)
				},
			},
			{
				consumer: newConsumer(topics.RefundPayment, groupID),
				handler: func(ctx context.Context, msg kafka.Message) error {
					var cmd models.RefundPaymentCommand
					if err := json.Unmarshal(msg.Value, &cmd); err != nil {
						log.Printf("Failed to unmarshal RefundPayment command: %v", err)
						return nil
					}
					return processor.RefundPayment(ctx, &cmd)
				},
			},
		},
	}
}

// NewInventoryWorker consumes payment-completed independently of the
// coordinator, under its own group id
func NewInventoryWorker(
	newConsumer ConsumerFactory,
	topics broker.Topics,
	groupID string,
	engine *service.InventoryEngine,
) *Worker {
	return &Worker{
		name: "inventory",
		consumers: []topicConsumer{
			{
				consumer: newConsumer(topics.PaymentCompleted, groupID),
				handler: func(ctx context.Context, msg kafka.Message) error {
					var event models.PaymentCompletedEvent
					if err := json.Unmarshal(msg.Value, &event); err != nil {
						log.Printf("Failed to unmarshal PaymentCompleted event: %v", err)
						return nil
					}
					return engine.ReserveInventory(ctx, &event)
				},
			},
		},
	}
}

// NewNotificationWorker consumes inventory-reserved
func NewNotificationWorker(
	newConsumer ConsumerFactory,
	topics broker.Topics,
	groupID string,
	dispatcher *service.NotificationDispatcher,
) *Worker {
	return &Worker{
		name: "notification",
		consumers: []topicConsumer{
			{
				consumer: newConsumer(topics.InventoryReserved, groupID),
				handler: func(ctx context.Context, msg kafka.Message) error {
					var event models.InventoryReservedEvent
					if err := json.Unmarshal(msg.Value, &event); err != nil {
						log.Printf("Failed to unmarshal InventoryReserved event: %v", err)
						return nil
					}
					return dispatcher.SendOrderConfirmation(ctx, &event)
				},
			},
		},
	}
}
