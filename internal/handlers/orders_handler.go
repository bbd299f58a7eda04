package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopcraft/storefront/internal/awsx"
	"github.com/shopcraft/storefront/internal/catalog"
	"github.com/shopcraft/storefront/internal/checkout"
	"github.com/shopcraft/storefront/internal/idempotency"
	"github.com/shopcraft/storefront/internal/metrics"
	"github.com/shopcraft/storefront/internal/orders"
	"github.com/shopcraft/storefront/internal/validation"
	log "github.com/sirupsen/logrus"
)

// HandlerConfig groups dependencies for the storefront handlers.
type HandlerConfig struct {
	DynamoDBClient      awsx.DynamoDBAPI
	SQSClient           awsx.SQSAPI
	CloudWatchClient    awsx.CloudWatchAPI
	ProductsTable       string
	OrdersTable         string
	IdempotencyTable    string
	QueueURL            string
	TTLWindow           time.Duration
	DisableTransactions bool
}

// RegisterOrdersRoutes registers checkout and order-view routes.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	ledger := catalog.NewStore(cfg.DynamoDBClient, cfg.ProductsTable)
	orderStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)
	meter := metrics.NewEmitter(cfg.CloudWatchClient)
	coord := checkout.NewCoordinator(cfg.DynamoDBClient, ledger, orderStore, idempStore, meter, cfg.DisableTransactions)
	engine := checkout.NewEngine(ledger, coord)
	publisher := awsx.NewPublisher(cfg.SQSClient, cfg.QueueURL)

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		userID := requireUser(c)
		if userID == "" {
			return
		}

		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		in := checkout.PlaceOrderInput{
			UserID:          userID,
			Lines:           toCartLines(req.Items),
			DeliveryAddress: toDeliveryAddress(req.DeliveryAddress),
			PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
			IdempotencyKey:  idempKey,
		}

		order, err := engine.PlaceOrder(ctx, in)
		if err != nil {
			writeCheckoutError(c, idempStore, idempKey, err)
			return
		}

		// Order is durable; hand it to fulfillment. A failed enqueue marks
		// the idempotency record FAILED so the client can retry.
		msg := awsx.OrderPlacedMessage{
			OrderID:        order.OrderID,
			IdempotencyKey: idempKey,
			CorrelationID:  c.GetHeader("X-Request-Id"),
		}
		if err := publisher.SendOrderPlaced(ctx, msg); err != nil {
			_ = idempStore.MarkFailed(ctx, idempKey, fmt.Sprintf("sqs_send_failed: %v", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
			return
		}

		responseBody, _ := json.Marshal(order)
		_ = idempStore.MarkDone(ctx, idempKey, string(responseBody), http.StatusCreated)

		c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
		c.JSON(http.StatusCreated, order)
	})

	r.GET("/orders", func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		list, err := orderStore.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_orders_failed"})
			return
		}
		c.JSON(http.StatusOK, list)
	})

	r.GET("/orders/my", func(c *gin.Context) {
		userID := requireUser(c)
		if userID == "" {
			return
		}
		list, err := orderStore.ListByOwner(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_orders_failed"})
			return
		}
		c.JSON(http.StatusOK, list)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		userID := requireUser(c)
		if userID == "" {
			return
		}
		order, err := orderStore.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_order_failed"})
			return
		}
		// Non-owners get the same answer as a missing order.
		if order == nil || (order.UserID != userID && !isAdmin(c)) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.PATCH("/orders/:id/status", func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		var req validation.StatusUpdateRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		next := orders.Status(req.Status)
		if !orders.ValidStatus(next) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_status"})
			return
		}

		ctx := c.Request.Context()
		orderID := c.Param("id")
		order, err := orderStore.Get(ctx, orderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_order_failed"})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}

		err = orderStore.UpdateStatus(ctx, orderID, order.Status, next)
		switch {
		case errors.Is(err, orders.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{
				"error": "invalid_transition",
				"from":  order.Status,
				"to":    next,
			})
			return
		case errors.Is(err, orders.ErrStatusMismatch):
			// Someone advanced the order between our read and write.
			c.JSON(http.StatusConflict, gin.H{"error": "status_changed_concurrently"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update_status_failed"})
			return
		}

		order.Status = next
		c.JSON(http.StatusOK, order)
	})
}

// writeCheckoutError maps the engine's error taxonomy onto HTTP. Business
// outcomes are final answers, never retried server-side.
func writeCheckoutError(c *gin.Context, idempStore *idempotency.Store, idempKey string, err error) {
	var stockErr *checkout.InsufficientStockError
	var transientErr *checkout.TransientStoreError
	var partialErr *checkout.PartialCommitError

	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_cart"})
	case errors.Is(err, checkout.ErrNoValidItems):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_valid_items"})
	case errors.Is(err, checkout.ErrProductNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_not_found"})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient_stock",
			"product":   stockErr.ProductName,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
	case errors.Is(err, checkout.ErrDuplicateRequest):
		writeDuplicateRequest(c, idempStore, idempKey)
	case errors.As(err, &partialErr):
		// The degraded path left inventory decremented; operators are
		// already alerted. The client sees a failed checkout.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checkout_incomplete", "retryable": false})
	case errors.As(err, &transientErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable", "retryable": true})
	default:
		log.WithError(err).Error("checkout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout_failed"})
	}
}

// writeDuplicateRequest answers a replayed Idempotency-Key with the
// stored outcome of the first attempt.
func writeDuplicateRequest(c *gin.Context, idempStore *idempotency.Store, idempKey string) {
	rec, err := idempStore.Get(c.Request.Context(), idempKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "duplicate_without_idempotency_record"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func toCartLines(items []validation.CartLineRequest) []checkout.CartLine {
	lines := make([]checkout.CartLine, 0, len(items))
	for _, it := range items {
		// Display fields (name/price/image) are dropped here on purpose.
		lines = append(lines, checkout.CartLine{
			ProductRef: it.ProductID,
			Quantity:   it.Quantity,
		})
	}
	return lines
}

func toDeliveryAddress(a validation.DeliveryAddressRequest) orders.DeliveryAddress {
	return orders.DeliveryAddress{
		FullName:     a.FullName,
		Phone:        a.Phone,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
		City:         a.City,
		State:        a.State,
		PostalCode:   a.PostalCode,
	}
}
