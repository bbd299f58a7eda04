package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/shopcraft/storefront/internal/awsx"
	"github.com/shopcraft/storefront/internal/idempotency"
	"github.com/shopcraft/storefront/internal/orders"
	log "github.com/sirupsen/logrus"
)

// Processor consumes order-placed messages and starts fulfillment:
// PENDING -> PROCESSING via the conditional status update, so duplicate
// SQS deliveries and competing workers cannot double-start an order.
type Processor struct {
	idempStore *idempotency.Store
	orderStore *orders.Store
}

// NewProcessor creates a worker processor with AWS clients injected.
func NewProcessor(clients *awsx.Clients, idempTable, ordersTable string, ttlWindow time.Duration) *Processor {
	return &Processor{
		idempStore: idempotency.NewStore(clients.DynamoDB, idempTable, ttlWindow),
		orderStore: orders.NewStore(clients.DynamoDB, ordersTable),
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.WithError(err).Error("worker error")
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg awsx.OrderPlacedMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	logger := log.WithFields(log.Fields{
		"order_id":        msg.OrderID,
		"idempotency_key": msg.IdempotencyKey,
		"correlation_id":  msg.CorrelationID,
	})
	logger.Info("fulfillment message received")

	order, err := p.orderStore.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	if order == nil {
		// Should never happen — DLQ if it does
		return fmt.Errorf("order not found: %s", msg.OrderID)
	}

	err = p.orderStore.UpdateStatus(ctx, msg.OrderID, orders.StatusPending, orders.StatusProcessing)
	if errors.Is(err, orders.ErrStatusMismatch) {
		// Competing worker or duplicate delivery: decide off the live state.
		o2, getErr := p.orderStore.Get(ctx, msg.OrderID)
		if getErr != nil || o2 == nil {
			return fmt.Errorf("order vanished during status check: %s", msg.OrderID)
		}
		switch o2.Status {
		case orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered:
			logger.WithField("status", o2.Status).Info("order already in fulfillment; ignoring duplicate")
			return nil
		case orders.StatusCancelled:
			logger.Info("order cancelled before fulfillment started")
			return nil
		default:
			return fmt.Errorf("unexpected status for order=%s: %s", msg.OrderID, o2.Status)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update status to PROCESSING: %w", err)
	}

	response := fmt.Sprintf(`{"order_id":"%s","status":"%s"}`, msg.OrderID, orders.StatusProcessing)
	if err := p.idempStore.MarkDone(ctx, msg.IdempotencyKey, response, http.StatusOK); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}

	logger.Info("order moved to processing")
	return nil
}
