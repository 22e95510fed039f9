package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vendimo/marketplace-core/internal/domain/commission"
	"github.com/vendimo/marketplace-core/internal/domain/money"
	"github.com/vendimo/marketplace-core/internal/domain/order"
)

// CommissionBase selects which portion of a sub-order's total the platform
// commission applies to. Whether shipping is commissionable is a business
// decision, so it is configuration rather than code.
type CommissionBase string

const (
	// BaseProducts applies commission to the charged product subtotal only.
	BaseProducts CommissionBase = "products"
	// BaseProductsAndShipping applies commission to products plus shipping.
	BaseProductsAndShipping CommissionBase = "products_and_shipping"
)

// Notifier delivers best-effort store notifications. Failures are logged and
// never roll back a completed settlement request.
type Notifier interface {
	SettlementRequested(ctx context.Context, s *Settlement) error
}

// Publisher emits settlement lifecycle events, best-effort.
type Publisher interface {
	SettlementRequested(ctx context.Context, s *Settlement) error
}

// BalanceReader lists a store's delivered sub-orders for the balance
// aggregation. Implemented by the order storage layer.
type BalanceReader interface {
	ListDeliveredSubOrders(ctx context.Context, storeID string) ([]order.SubOrder, error)
}

// Service handles settlement requests.
type Service struct {
	orders      order.Repository
	settlements Repository
	balances    BalanceReader
	calc        commission.Calculator
	base        CommissionBase
	notifier    Notifier
	events      Publisher
	now         func() time.Time
}

// NewService creates a settlement Service.
func NewService(
	orders order.Repository,
	settlements Repository,
	balances BalanceReader,
	calc commission.Calculator,
	base CommissionBase,
	notifier Notifier,
	events Publisher,
) *Service {
	if base == "" {
		base = BaseProducts
	}
	return &Service{
		orders:      orders,
		settlements: settlements,
		balances:    balances,
		calc:        calc,
		base:        base,
		notifier:    notifier,
		events:      events,
		now:         time.Now,
	}
}

// Request creates a settlement for a delivered sub-order. The settlement
// insert and the sub-order payout transition commit in one transaction; a
// duplicate request surfaces as ErrAlreadyRequested with no state change,
// which also makes retries after a request timeout safe.
func (s *Service) Request(ctx context.Context, storeID, orderID, subOrderID string, account BankAccount) (*Settlement, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sub, ok := o.SubOrderByID(subOrderID)
	if !ok {
		return nil, order.ErrSubOrderNotFound
	}
	if sub.StoreID != storeID {
		return nil, ErrStoreMismatch
	}

	if sub.DeliveryStatus != order.DeliveryDelivered {
		return nil, errors.Wrapf(ErrNotEligible, "delivery status is %q", sub.DeliveryStatus)
	}
	if !order.CanTransitionPayout(sub.PayoutStatus, order.PayoutRequested) {
		return nil, ErrAlreadyRequested
	}

	gross := sub.ProductSubtotal()
	if s.base == BaseProductsAndShipping {
		gross += sub.Shipping.Price
	}

	fee, err := s.calc.Calculate(gross)
	if err != nil {
		return nil, errors.Wrap(err, "calculate commission")
	}

	now := s.now()
	stl := &Settlement{
		ID:             uuid.New().String(),
		StoreID:        storeID,
		OrderID:        orderID,
		SubOrderID:     subOrderID,
		GrossAmount:    gross,
		Commission:     fee.Commission,
		CommissionRate: s.calc.FeePercent(),
		SettleAmount:   fee.SettleAmount,
		PayoutAccount:  account,
		Status:         order.PayoutRequested,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.settlements.CreateRequested(ctx, stl); err != nil {
		return nil, err
	}

	if err := s.notifier.SettlementRequested(ctx, stl); err != nil {
		zctx.From(ctx).Warn("settlement notification failed",
			zap.String("settlement_id", stl.ID), zap.Error(err))
	}
	if err := s.events.SettlementRequested(ctx, stl); err != nil {
		zctx.From(ctx).Warn("publish settlement requested event",
			zap.String("settlement_id", stl.ID), zap.Error(err))
	}

	return stl, nil
}

// Existing returns the settlement previously recorded for the sub-order, so
// a duplicate request can be answered with the original record.
func (s *Service) Existing(ctx context.Context, storeID, orderID, subOrderID string) (*Settlement, error) {
	return s.settlements.GetByKey(ctx, storeID, orderID, subOrderID)
}

// ListByStore returns a store's settlements, newest first.
func (s *Service) ListByStore(ctx context.Context, storeID string) ([]Settlement, error) {
	return s.settlements.ListByStore(ctx, storeID)
}

// StoreBalance is the read-time payout dashboard for one store.
type StoreBalance struct {
	StoreID string
	// PendingGross is the charged total of delivered sub-orders that have no
	// settlement yet.
	PendingGross money.Cents
	// PendingSettle is the net amount the store would receive if it settled
	// every pending sub-order now, under the current fee schedule.
	PendingSettle money.Cents
	// RequestedSettle is the net amount across settlements not yet paid out.
	RequestedSettle money.Cents
	PendingCount    int
}

// Balance computes a store's pending balance by aggregating over fresh
// reads. There is no caching layer; correctness only needs the aggregation
// to be recomputed per request.
func (s *Service) Balance(ctx context.Context, storeID string) (*StoreBalance, error) {
	subs, err := s.balances.ListDeliveredSubOrders(ctx, storeID)
	if err != nil {
		return nil, errors.Wrap(err, "list delivered sub-orders")
	}

	bal := &StoreBalance{StoreID: storeID}
	for i := range subs {
		sub := &subs[i]
		gross := sub.ProductSubtotal()
		if s.base == BaseProductsAndShipping {
			gross += sub.Shipping.Price
		}
		fee, err := s.calc.Calculate(gross)
		if err != nil {
			return nil, errors.Wrap(err, "calculate commission")
		}

		if sub.PayoutStatus == order.PayoutUnset {
			bal.PendingGross += gross
			bal.PendingSettle += fee.SettleAmount
			bal.PendingCount++
			continue
		}
		if sub.PayoutStatus == order.PayoutRequested || sub.PayoutStatus == order.PayoutProcessing {
			bal.RequestedSettle += fee.SettleAmount
		}
	}

	return bal, nil
}
