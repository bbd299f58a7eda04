package checkout

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart: the cart snapshot had no lines at all. Returned before
	// any store access.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrNoValidItems: every line carried an unparseable product reference.
	ErrNoValidItems = errors.New("no valid items in cart")

	// ErrProductNotFound: a referenced product does not exist in the
	// ledger. Fails the whole placement; no partial orders.
	ErrProductNotFound = errors.New("product not found")

	// ErrDuplicateRequest: the idempotency key was already claimed. The
	// caller should consult the idempotency record for the prior outcome.
	ErrDuplicateRequest = errors.New("duplicate checkout request")
)

// InsufficientStockError means the live stock could not cover the
// requested quantity at the moment of reservation.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductName, e.Requested, e.Available)
}

// TransientStoreError wraps network/timeout/throttling failures from the
// store. Safe for the caller to retry the whole placement on the primary
// path; both paths keep retries safe via the idempotency key.
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// PartialCommitError is produced only by the degraded path: some stock
// decrements landed, a later step failed, and compensation could not
// restore every line. The store needs manual reconciliation.
type PartialCommitError struct {
	OrderID    string
	Cause      error
	Unrestored []UnrestoredLine
}

// UnrestoredLine identifies a committed decrement the compensation pass
// failed to roll back.
type UnrestoredLine struct {
	ProductID string
	Quantity  int
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit for order %s: %d line(s) left decremented (cause: %v)",
		e.OrderID, len(e.Unrestored), e.Cause)
}

func (e *PartialCommitError) Unwrap() error { return e.Cause }
