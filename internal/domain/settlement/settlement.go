// Package settlement implements store payout requests: validating that a
// fulfilled sub-order is eligible, computing the net settle amount, and
// recording the request exactly once per sub-order.
package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vendimo/marketplace-core/internal/domain/money"
	"github.com/vendimo/marketplace-core/internal/domain/order"
)

var (
	// ErrAlreadyRequested is returned when a settlement already exists for
	// the (store, order, sub-order) key. Callers treat it as "in progress",
	// not as a failure to retry.
	ErrAlreadyRequested = errors.New("settlement already requested")
	// ErrNotEligible is returned when the sub-order has not been delivered.
	ErrNotEligible = errors.New("sub-order not eligible for payout")
	// ErrNotFound is returned when a requested settlement does not exist.
	ErrNotFound = errors.New("settlement not found")
	// ErrStoreMismatch is returned when the requesting store does not own
	// the sub-order.
	ErrStoreMismatch = errors.New("sub-order belongs to a different store")
)

// BankAccount is the payout destination snapshotted into a settlement.
type BankAccount struct {
	BankName      string `json:"bankName"`
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
}

// Settlement records a store's payout request for one fulfilled sub-order.
// At most one settlement may ever exist per (StoreID, OrderID, SubOrderID).
type Settlement struct {
	ID          string
	StoreID     string
	OrderID     string
	SubOrderID  string
	GrossAmount money.Cents
	Commission  money.Cents
	// CommissionRate is the fee percentage snapshotted at request time so
	// later schedule changes never alter recorded settlements.
	CommissionRate decimal.Decimal
	SettleAmount   money.Cents
	PayoutAccount  BankAccount
	Status         order.PayoutStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository defines persistence for settlements.
type Repository interface {
	// CreateRequested inserts the settlement and marks the sub-order's
	// payout status Requested in a single transaction. The storage layer
	// enforces uniqueness over (StoreID, OrderID, SubOrderID) and returns
	// ErrAlreadyRequested on a duplicate, collapsing check-then-act into one
	// atomic insert attempt.
	CreateRequested(ctx context.Context, s *Settlement) error
	GetByKey(ctx context.Context, storeID, orderID, subOrderID string) (*Settlement, error)
	ListByStore(ctx context.Context, storeID string) ([]Settlement, error)
}
