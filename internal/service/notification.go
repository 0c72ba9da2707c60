package service

import (
	"context"
	"time"

	"order-saga/internal/broker"
	"order-saga/internal/models"
	"order-saga/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfirmationSender performs the external confirmation call (email in the
// real system). Injected so tests can force failures.
type ConfirmationSender func(ctx context.Context, orderID string) error

// NotificationDispatcher sends a best-effort confirmation after a successful
// reservation. Failures are absorbed and logged: there is no retry and no
// dead-letter routing. That limitation is deliberate and documented; a lost
// notification leaves the order parked in NOTIFYING.
type NotificationDispatcher struct {
	publisher *broker.EventPublisher
	sender    ConfirmationSender
	delay     time.Duration
	logger    *zap.Logger
}

// NewNotificationDispatcher creates a new dispatcher. A nil sender uses the
// built-in simulated email send.
func NewNotificationDispatcher(
	publisher *broker.EventPublisher,
	sender ConfirmationSender,
	delay time.Duration,
) *NotificationDispatcher {
	nd := &NotificationDispatcher{
		publisher: publisher,
		sender:    sender,
		delay:     delay,
		logger:    util.GetLogger(),
	}
	if nd.sender == nil {
		nd.sender = nd.simulateEmail
	}
	return nd
}

// SendOrderConfirmation sends the confirmation and publishes
// notification-sent. Always returns nil: a fire-and-forget step must not
// trigger redelivery.
func (nd *NotificationDispatcher) SendOrderConfirmation(ctx context.Context, event *models.InventoryReservedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationDispatcher.SendOrderConfirmation")
	defer span.End()

	nd.logger.Info("Sending order confirmation",
		zap.String("order_id", event.OrderID))

	if err := nd.sender(ctx, event.OrderID); err != nil {
		util.NotificationsFailedTotal.Inc()
		nd.logger.Error("Failed to send confirmation, absorbing",
			zap.String("order_id", event.OrderID), zap.Error(err))
		return nil
	}

	notificationID := "NOTIF-" + uuid.New().String()
	sent := &models.NotificationSentEvent{
		BaseEvent:      newBaseEvent(models.EventTypeNotificationSent),
		OrderID:        event.OrderID,
		NotificationID: notificationID,
	}
	if err := nd.publisher.PublishNotificationSent(ctx, sent); err != nil {
		util.NotificationsFailedTotal.Inc()
		nd.logger.Error("Failed to publish NotificationSent event, absorbing",
			zap.String("order_id", event.OrderID), zap.Error(err))
		return nil
	}

	util.NotificationsSentTotal.Inc()
	nd.logger.Info("Notification sent",
		zap.String("order_id", event.OrderID),
		zap.String("notification_id", notificationID))
	return nil
}

// SendOrderCancellation is a pure side effect outside the event flow and
// emits no event. Unused extension point until something triggers it.
func (nd *NotificationDispatcher) SendOrderCancellation(ctx context.Context, orderID, reason string) {
	nd.logger.Info("EMAIL SENT: order cancelled",
		zap.String("order_id", orderID),
		zap.String("reason", reason))
}

func (nd *NotificationDispatcher) simulateEmail(ctx context.Context, orderID string) error {
	if nd.delay > 0 {
		timer := time.NewTimer(nd.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	nd.logger.Info("EMAIL SENT: order confirmed",
		zap.String("order_id", orderID),
		zap.String("subject", "Your Order Confirmation - "+orderID))
	return nil
}
