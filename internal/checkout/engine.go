package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopcraft/storefront/internal/catalog"
	"github.com/shopcraft/storefront/internal/orders"
	log "github.com/sirupsen/logrus"
)

// CartLine is one line of the client-submitted cart snapshot. Untrusted
// input: the display fields a client echoes alongside (name, price,
// image) never reach the engine; price and name are re-derived from the
// ledger at reservation time.
type CartLine struct {
	ProductRef string
	Quantity   int
}

// PlaceOrderInput bundles everything a checkout needs. Cart state is
// passed explicitly; there is no ambient session.
type PlaceOrderInput struct {
	UserID          string
	Lines           []CartLine
	DeliveryAddress orders.DeliveryAddress
	PaymentMethod   orders.PaymentMethod
	IdempotencyKey  string
}

// reservation is the per-product decrement the coordinator must apply.
// Quantities of duplicate cart lines are merged here because a single
// unit of work may touch each item only once.
type reservation struct {
	ProductID  string
	Name       string
	Quantity   int
	PriceCents int64
}

// plan is a fully validated placement ready for the coordinator.
type plan struct {
	Order          orders.Order
	IdempotencyKey string
	Reservations   []reservation
}

// Engine validates a cart snapshot against the Product Ledger, reserves
// stock through the Coordinator, computes the authoritative total, and
// persists an immutable order record.
type Engine struct {
	ledger  *catalog.Store
	coord   *Coordinator
	nowFunc func() time.Time
}

// NewEngine wires the reservation engine.
func NewEngine(ledger *catalog.Store, coord *Coordinator) *Engine {
	return &Engine{
		ledger:  ledger,
		coord:   coord,
		nowFunc: time.Now,
	}
}

// PlaceOrder converts a cart snapshot into a durable PENDING order, or
// fails with one of the taxonomy errors. No partial orders: on any
// validation or stock failure nothing is written (the degraded path
// compensates; see Coordinator).
func (e *Engine) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*orders.Order, error) {
	if len(in.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	// Lines whose reference does not parse as a product identity are
	// dropped, not fatal. A cart of nothing but junk refs is.
	valid := make([]CartLine, 0, len(in.Lines))
	ids := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		if _, err := uuid.Parse(line.ProductRef); err != nil {
			log.WithField("product_ref", line.ProductRef).Debug("dropping cart line with invalid product ref")
			continue
		}
		valid = append(valid, line)
		ids = append(ids, line.ProductRef)
	}
	if len(valid) == 0 {
		return nil, ErrNoValidItems
	}

	products, err := e.ledger.ResolveForCheckout(ctx, ids)
	if err != nil {
		return nil, classify(err)
	}

	method := in.PaymentMethod
	if method == "" {
		method = orders.PaymentCOD
	}
	if !orders.ValidPaymentMethod(method) {
		return nil, fmt.Errorf("unknown payment method %q", method)
	}

	now := e.nowFunc()
	order := orders.Order{
		OrderID:         uuid.NewString(),
		UserID:          in.UserID,
		Lines:           make([]orders.OrderLine, 0, len(valid)),
		DeliveryAddress: in.DeliveryAddress,
		PaymentMethod:   method,
		Status:          orders.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var total int64
	reservations := make([]reservation, 0, len(valid))
	reservedIdx := make(map[string]int, len(valid))

	for _, line := range valid {
		prod, ok := products[line.ProductRef]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductRef)
		}

		// Leniency policy: non-positive quantities become 1, they are not
		// silently dropped and not rejected.
		qty := line.Quantity
		if qty < 1 {
			qty = 1
		}

		order.Lines = append(order.Lines, orders.OrderLine{
			ProductID:      prod.ProductID,
			Name:           prod.Name,
			UnitPriceCents: prod.PriceCents,
			Quantity:       qty,
			Image:          prod.Image,
		})
		total += prod.PriceCents * int64(qty)

		if i, seen := reservedIdx[prod.ProductID]; seen {
			reservations[i].Quantity += qty
		} else {
			reservedIdx[prod.ProductID] = len(reservations)
			reservations = append(reservations, reservation{
				ProductID:  prod.ProductID,
				Name:       prod.Name,
				Quantity:   qty,
				PriceCents: prod.PriceCents,
			})
		}
	}
	order.TotalCents = total

	// Fail fast on quantities the snapshot already cannot cover. The
	// authoritative check is still the write-time condition inside the
	// unit of work; this only spares the store a doomed round trip.
	for _, r := range reservations {
		if p := products[r.ProductID]; p.Stock < r.Quantity {
			return nil, &InsufficientStockError{
				ProductID:   r.ProductID,
				ProductName: r.Name,
				Requested:   r.Quantity,
				Available:   p.Stock,
			}
		}
	}

	pl := plan{
		Order:          order,
		IdempotencyKey: in.IdempotencyKey,
		Reservations:   reservations,
	}
	if err := e.coord.Commit(ctx, pl); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"order_id":    order.OrderID,
		"user_id":     order.UserID,
		"total_cents": order.TotalCents,
		"lines":       len(order.Lines),
	}).Info("order placed")

	return &order, nil
}
