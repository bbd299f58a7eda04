package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/shopcraft/storefront/internal/awsx"
	"github.com/shopcraft/storefront/internal/catalog"
	"github.com/shopcraft/storefront/internal/idempotency"
	"github.com/shopcraft/storefront/internal/metrics"
	"github.com/shopcraft/storefront/internal/orders"
	log "github.com/sirupsen/logrus"
)

// Coordinator makes the read-check-decrement-write sequence atomic when
// the store supports transactional writes, and falls back to per-item
// conditional writes when the deployment topology does not.
//
// The capability is resolved once per process: either forced off by
// configuration, or latched off the first time the store answers a
// transact call with a typed capability error. A capability error is a
// property of the deployment, not of a request, so there is no
// per-request re-probing — and aborted transactions are never retried
// automatically, because an abort reflects a genuine business condition.
type Coordinator struct {
	client awsx.DynamoDBAPI
	ledger *catalog.Store
	orders *orders.Store
	idems  *idempotency.Store
	meter  *metrics.Emitter

	transactional atomic.Bool
}

// NewCoordinator wires the transaction coordinator. disableTransactions
// forces the degraded path from the start (for deployments known to lack
// transact support).
func NewCoordinator(client awsx.DynamoDBAPI, ledger *catalog.Store, orderStore *orders.Store, idems *idempotency.Store, meter *metrics.Emitter, disableTransactions bool) *Coordinator {
	c := &Coordinator{
		client: client,
		ledger: ledger,
		orders: orderStore,
		idems:  idems,
		meter:  meter,
	}
	c.transactional.Store(!disableTransactions)
	return c
}

// Transactional reports whether the primary (atomic) path is in use.
func (c *Coordinator) Transactional() bool { return c.transactional.Load() }

// Commit applies the plan: every stock decrement, the order write, and
// the idempotency claim land together or not at all on the primary path.
func (c *Coordinator) Commit(ctx context.Context, pl plan) error {
	if c.transactional.Load() {
		err := c.commitAtomic(ctx, pl)
		if !isTransactUnsupported(err) {
			return err
		}
		// The store cannot do transactional writes at all in this
		// deployment. Latch the degraded mode for the process lifetime and
		// re-run this placement sequentially.
		c.transactional.Store(false)
		log.WithField("order_id", pl.Order.OrderID).
			Warn("store reports transactions unsupported; switching to sequential checkout mode")
	}
	return c.commitSequential(ctx, pl)
}

func (c *Coordinator) commitAtomic(ctx context.Context, pl plan) error {
	items := make([]types.TransactWriteItem, 0, len(pl.Reservations)+2)
	for _, r := range pl.Reservations {
		items = append(items, c.ledger.TransactDecrement(r.ProductID, r.Quantity, r.PriceCents))
	}

	orderPut, err := c.orders.TransactPut(pl.Order)
	if err != nil {
		return err
	}
	items = append(items, orderPut)

	idemPut, err := c.idems.TransactCreate(pl.IdempotencyKey, pl.Order.OrderID)
	if err != nil {
		return err
	}
	items = append(items, idemPut)

	_, err = c.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return c.mapTransactError(err, pl)
	}
	return nil
}

// mapTransactError turns a cancelled transaction back into the taxonomy
// error for the element that lost its condition. Cancellation reasons
// align positionally with the submitted items: reservations first, then
// the order put, then the idempotency claim.
func (c *Coordinator) mapTransactError(err error, pl plan) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return classify(err)
	}

	for i, reason := range tce.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		switch {
		case i < len(pl.Reservations):
			r := pl.Reservations[i]
			old := unmarshalReasonItem(reason.Item)
			if old == nil {
				return fmt.Errorf("%w: %s", ErrProductNotFound, r.ProductID)
			}
			return &InsufficientStockError{
				ProductID:   r.ProductID,
				ProductName: r.Name,
				Requested:   r.Quantity,
				Available:   old.Stock,
			}
		case i == len(pl.Reservations):
			// Order-id collision; effectively impossible with UUIDs, treat
			// as retryable noise rather than a business failure.
			return &TransientStoreError{Err: err}
		default:
			return ErrDuplicateRequest
		}
	}
	return classify(err)
}

// commitSequential is the degraded path: the identical sequence without
// an atomic wrapper, each decrement an independent conditional write. It
// only guarantees no-oversell per individual line, not across the whole
// order; a mid-sequence failure triggers best-effort compensation of the
// lines already decremented.
func (c *Coordinator) commitSequential(ctx context.Context, pl plan) error {
	c.meter.Count(ctx, metrics.MetricFallbackEngaged)
	log.WithField("order_id", pl.Order.OrderID).
		Warn("checkout running in degraded non-atomic mode")

	created, err := c.idems.CreateIfNotExists(ctx, pl.IdempotencyKey, pl.Order.OrderID)
	if err != nil {
		return classify(err)
	}
	if !created {
		return ErrDuplicateRequest
	}

	applied := make([]reservation, 0, len(pl.Reservations))
	for _, r := range pl.Reservations {
		if err := c.ledger.DecrementStock(ctx, r.ProductID, r.Quantity, r.PriceCents); err != nil {
			busErr := c.sequentialFailure(r, err)
			return c.compensate(ctx, pl, applied, busErr)
		}
		applied = append(applied, r)
	}

	if err := c.orders.Insert(ctx, pl.Order); err != nil {
		return c.compensate(ctx, pl, applied, classify(err))
	}
	return nil
}

// sequentialFailure converts a lost per-item condition into the taxonomy.
func (c *Coordinator) sequentialFailure(r reservation, err error) error {
	var cf *catalog.CheckFailedError
	if errors.As(err, &cf) {
		if cf.Product == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, r.ProductID)
		}
		return &InsufficientStockError{
			ProductID:   r.ProductID,
			ProductName: r.Name,
			Requested:   r.Quantity,
			Available:   cf.Product.Stock,
		}
	}
	return classify(err)
}

// compensate rolls back already-applied decrements after a mid-sequence
// failure. If every restore lands, the placement fails with the original
// business error and the store is clean. Restores that fail leave
// genuinely lost inventory: that is the partial-commit case, surfaced
// loudly for manual reconciliation and never swallowed.
func (c *Coordinator) compensate(ctx context.Context, pl plan, applied []reservation, cause error) error {
	var unrestored []UnrestoredLine
	for _, r := range applied {
		if err := c.ledger.RestoreStock(ctx, r.ProductID, r.Quantity); err != nil {
			unrestored = append(unrestored, UnrestoredLine{
				ProductID: r.ProductID,
				Quantity:  r.Quantity,
				Err:       err,
			})
			log.WithFields(log.Fields{
				"order_id":   pl.Order.OrderID,
				"product_id": r.ProductID,
				"quantity":   r.Quantity,
			}).WithError(err).Error("failed to restore stock during compensation")
		}
	}

	note := fmt.Sprintf("checkout aborted: %v", cause)
	if err := c.idems.MarkFailed(ctx, pl.IdempotencyKey, note); err != nil {
		log.WithField("order_id", pl.Order.OrderID).WithError(err).
			Warn("failed to mark idempotency record failed")
	}

	if len(unrestored) > 0 {
		c.meter.Count(ctx, metrics.MetricPartialCommit)
		return &PartialCommitError{
			OrderID:    pl.Order.OrderID,
			Cause:      cause,
			Unrestored: unrestored,
		}
	}
	return cause
}

// isTransactUnsupported detects the typed capability signal a
// DynamoDB-compatible deployment without transaction support returns.
// Deliberately not a message-string match.
func isTransactUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "UnknownOperationException", "UnsupportedOperationException":
		return true
	}
	return false
}

// classify sorts store failures into retryable and not. Context
// expiry and throttling surface as TransientStoreError; anything else
// passes through (wrapped) for the handler's generic 500.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientStoreError{Err: err}
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ProvisionedThroughputExceededException",
			"ThrottlingException",
			"RequestLimitExceeded",
			"TransactionInProgressException",
			"InternalServerError":
			return &TransientStoreError{Err: err}
		}
	}
	return err
}

func unmarshalReasonItem(item map[string]types.AttributeValue) *catalog.Product {
	if len(item) == 0 {
		return nil
	}
	var p catalog.Product
	if err := attributevalue.UnmarshalMap(item, &p); err != nil {
		return nil
	}
	return &p
}
