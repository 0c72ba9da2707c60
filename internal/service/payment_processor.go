package service

import (
	"context"
	"errors"
	"time"

	"order-saga/internal/broker"
	"order-saga/internal/models"
	"order-saga/internal/store"
	"order-saga/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentProcessor captures payment for newly created orders and handles
// refund commands. The gateway is simulated: latency is a bounded wait and
// the outcome comes from the injected generator.
type PaymentProcessor struct {
	payments  store.PaymentRepository
	publisher *broker.EventPublisher
	outcome   OutcomeGenerator
	dedupe    Deduper
	delay     time.Duration
	logger    *zap.Logger
}

// NewPaymentProcessor creates a new payment processor
func NewPaymentProcessor(
	payments store.PaymentRepository,
	publisher *broker.EventPublisher,
	outcome OutcomeGenerator,
	dedupe Deduper,
	delay time.Duration,
) *PaymentProcessor {
	return &PaymentProcessor{
		payments:  payments,
		publisher: publisher,
		outcome:   outcome,
		dedupe:    dedupe,
		delay:     delay,
		logger:    util.GetLogger(),
	}
}

// ProcessPayment attempts capture for an order. Business failure becomes a
// payment-failed event, never an error: returning an error would make the
// consumer redeliver a decision that was already taken.
func (pp *PaymentProcessor) ProcessPayment(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentProcessor.ProcessPayment")
	defer span.End()

	dedupeKey := "payment:" + event.OrderID
	processed, err := pp.dedupe.IsMarked(ctx, dedupeKey)
	if err != nil {
		return err
	}
	if processed {
		pp.logger.Info("Payment already attempted for order",
			zap.String("order_id", event.OrderID))
		return nil
	}

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	pp.logger.Info("Processing payment",
		zap.String("order_id", event.OrderID),
		zap.Float64("amount", event.TotalAmount))

	payment := &models.Payment{
		PaymentID:  "PAY-" + uuid.New().String(),
		OrderID:    event.OrderID,
		CustomerID: event.CustomerID,
		Amount:     event.TotalAmount,
		Status:     models.PaymentStatusPending,
	}
	if err := pp.payments.CreatePayment(ctx, payment); err != nil {
		return err
	}

	if err := pp.wait(ctx); err != nil {
		return err
	}

	if pp.outcome.Succeeds() {
		transactionID := "TXN-" + uuid.New().String()
		if err := pp.payments.UpdatePaymentStatus(ctx, payment.PaymentID, models.PaymentStatusCompleted, transactionID); err != nil {
			return err
		}
		util.PaymentSuccessTotal.Inc()
		pp.logger.Info("Payment completed",
			zap.String("order_id", event.OrderID),
			zap.String("transaction_id", transactionID))

		completed := &models.PaymentCompletedEvent{
			BaseEvent:     newBaseEvent(models.EventTypePaymentCompleted),
			OrderID:       event.OrderID,
			PaymentID:     payment.PaymentID,
			TransactionID: transactionID,
			Amount:        event.TotalAmount,
			// The inventory engine has no other way to learn the order
			// contents, so the items ride along.
			Items: event.Items,
		}
		if err := pp.publisher.PublishPaymentCompleted(ctx, completed); err != nil {
			pp.logger.Error("Failed to publish PaymentCompleted event",
				zap.String("order_id", event.OrderID), zap.Error(err))
		}
		pp.markProcessed(ctx, dedupeKey)
		return nil
	}

	if err := pp.payments.UpdatePaymentStatus(ctx, payment.PaymentID, models.PaymentStatusFailed, ""); err != nil {
		return err
	}
	util.PaymentFailedTotal.Inc()
	pp.logger.Warn("Payment failed", zap.String("order_id", event.OrderID))

	failed := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		OrderID:   event.OrderID,
		Reason:    "Payment gateway declined (simulated failure)",
	}
	if err := pp.publisher.PublishPaymentFailed(ctx, failed); err != nil {
		pp.logger.Error("Failed to publish PaymentFailed event",
			zap.String("order_id", event.OrderID), zap.Error(err))
	}
	pp.markProcessed(ctx, dedupeKey)
	return nil
}

// markProcessed records the dedupe mark after the outcome is persisted and
// published. Marking last keeps an interrupted attempt redeliverable; the
// window between publish and mark can at worst repeat a publish, which the
// coordinator's status guards drop.
func (pp *PaymentProcessor) markProcessed(ctx context.Context, key string) {
	if _, err := pp.dedupe.MarkOnce(ctx, key); err != nil {
		pp.logger.Error("Failed to record dedupe mark",
			zap.String("key", key), zap.Error(err))
	}
}

// RefundPayment compensates a captured payment. An unknown payment id is a
// poison input: it is reported and dropped rather than retried forever.
func (pp *PaymentProcessor) RefundPayment(ctx context.Context, cmd *models.RefundPaymentCommand) error {
	ctx, span := util.StartSpan(ctx, "PaymentProcessor.RefundPayment")
	defer span.End()

	payment, err := pp.payments.FindPaymentByID(ctx, cmd.PaymentID)
	if err != nil {
		if errors.Is(err, models.ErrPaymentNotFound) {
			pp.logger.Error("Refund command for unknown payment, dropping",
				zap.String("order_id", cmd.OrderID),
				zap.String("payment_id", cmd.PaymentID))
			return nil
		}
		return err
	}

	switch payment.Status {
	case models.PaymentStatusRefunded:
		pp.logger.Info("Payment already refunded",
			zap.String("payment_id", cmd.PaymentID))
		return nil
	case models.PaymentStatusCompleted:
		// Only a captured payment can be refunded.
	default:
		pp.logger.Error("Refund command for payment that was never captured, dropping",
			zap.String("order_id", cmd.OrderID),
			zap.String("payment_id", cmd.PaymentID),
			zap.String("status", payment.Status))
		return nil
	}

	if err := pp.payments.UpdatePaymentStatus(ctx, payment.PaymentID, models.PaymentStatusRefunded, payment.TransactionID); err != nil {
		return err
	}
	util.PaymentRefundsTotal.Inc()
	pp.logger.Info("Payment refunded",
		zap.String("order_id", cmd.OrderID),
		zap.String("payment_id", cmd.PaymentID),
		zap.String("reason", cmd.Reason))

	refunded := &models.PaymentRefundedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentRefunded),
		OrderID:   cmd.OrderID,
		PaymentID: cmd.PaymentID,
	}
	if err := pp.publisher.PublishPaymentRefunded(ctx, refunded); err != nil {
		pp.logger.Error("Failed to publish PaymentRefunded event",
			zap.String("order_id", cmd.OrderID), zap.Error(err))
	}
	return nil
}

// wait simulates gateway latency without blocking past cancellation
func (pp *PaymentProcessor) wait(ctx context.Context) error {
	if pp.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(pp.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
