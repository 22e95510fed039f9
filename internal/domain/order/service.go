package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vendimo/marketplace-core/internal/domain/cart"
	"github.com/vendimo/marketplace-core/internal/domain/catalog"
	"github.com/vendimo/marketplace-core/internal/domain/deal"
)

// StatusPlaced is the order-level coarse status set at creation.
const StatusPlaced = "Placed"

// PaymentStatusPaid marks an order whose payment was authorized before
// creation. An order is never created without a confirmed payment reference.
const PaymentStatusPaid = "Paid"

// Publisher emits order lifecycle events. Publishing is best-effort; a
// failure is logged and never rolls back business state.
type Publisher interface {
	OrderCreated(ctx context.Context, o *Order) error
}

// CreateOrderRequest is the input for creating an order from a validated
// cart snapshot.
type CreateOrderRequest struct {
	UserID           string
	Entries          []cart.Entry
	Shipping         map[string]ShippingMethod
	PostalCode       string
	ShippingAddress  string
	PaymentMethod    string
	PaymentReference string
}

// Service coordinates cart validation, price capture, splitting, and
// persistence of new orders.
type Service struct {
	products  catalog.Repository
	deals     deal.Repository
	validator *cart.Validator
	orders    Repository
	events    Publisher
	now       func() time.Time
}

// NewService creates an order Service with the required dependencies.
func NewService(
	products catalog.Repository,
	deals deal.Repository,
	validator *cart.Validator,
	orders Repository,
	events Publisher,
) *Service {
	return &Service{
		products:  products,
		deals:     deals,
		validator: validator,
		orders:    orders,
		events:    events,
		now:       time.Now,
	}
}

// Create validates the cart, captures post-discount pricing, splits the cart
// into per-store sub-orders, and persists the order atomically. The order is
// only created when a payment reference confirms upstream authorization.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if req.PaymentReference == "" {
		return nil, ErrPaymentRequired
	}
	if len(req.Entries) == 0 {
		return nil, ErrEmptyCart
	}

	issues, err := s.validator.Validate(ctx, req.Entries)
	if err != nil {
		return nil, errors.Wrap(err, "validate cart")
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	items, freeShipping, err := s.captureLineItems(ctx, req.Entries)
	if err != nil {
		return nil, err
	}

	shipping := make(map[string]ShippingMethod, len(req.Shipping))
	for storeID, method := range req.Shipping {
		if freeShipping[storeID] {
			method.Price = 0
		}
		shipping[storeID] = method
	}

	o, err := Split(items, shipping)
	if err != nil {
		return nil, err
	}

	if err := s.consumeDeals(ctx, items); err != nil {
		return nil, err
	}

	now := s.now()
	o.ID = uuid.New().String()
	o.UserID = req.UserID
	o.Status = StatusPlaced
	o.PostalCode = req.PostalCode
	o.ShippingAddress = req.ShippingAddress
	o.PaymentMethod = req.PaymentMethod
	o.PaymentStatus = PaymentStatusPaid
	o.PaymentReference = req.PaymentReference
	o.CreatedAt = now
	o.UpdatedAt = now
	for i := range o.SubOrders {
		o.SubOrders[i].ID = uuid.New().String()
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	if err := s.events.OrderCreated(ctx, o); err != nil {
		zctx.From(ctx).Warn("publish order created event",
			zap.String("order_id", o.ID), zap.Error(err))
	}

	return o, nil
}

// captureLineItems resolves each cart entry into a frozen line item: the
// unit price actually charged (post-discount), the pre-discount price, and
// the deal snapshot. Free-shipping deals are reported per store so the
// caller can zero the shipping selection.
func (s *Service) captureLineItems(ctx context.Context, entries []cart.Entry) ([]LineItem, map[string]bool, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Ref.ID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get products")
	}
	products := make(map[string]*catalog.Product, len(fetched))
	for i := range fetched {
		products[fetched[i].ID] = &fetched[i]
	}

	items := make([]LineItem, 0, len(entries))
	freeShipping := make(map[string]bool)
	for _, e := range entries {
		p, ok := products[e.Ref.ID]
		if !ok {
			// The validator just saw this product; losing it here is a
			// concurrent catalog mutation, surfaced as not-found.
			return nil, nil, errors.Wrapf(catalog.ErrNotFound, "product %s", e.Ref.ID)
		}

		unit := p.Price
		if e.SelectedSize != "" {
			if size, ok := p.SizeByKey(e.SelectedSize); ok {
				unit = size.Price
			}
		}
		original := p.OriginalPrice
		if original == 0 || original < unit {
			original = unit
		}

		li := LineItem{
			Ref:           e.Ref,
			StoreID:       p.StoreID,
			Quantity:      e.Quantity,
			PriceAtOrder:  unit,
			OriginalPrice: original,
			SelectedSize:  e.SelectedSize,
		}

		if e.DealID != "" {
			d, err := s.deals.GetByID(ctx, e.DealID)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "get deal %s", e.DealID)
			}
			li.PriceAtOrder = d.UnitPrice(unit)
			li.FreeQuantity = d.FreeUnits(e.Quantity)
			snap := d.Snapshot()
			li.Deal = &snap
			if d.Type == deal.TypeFreeShipping {
				freeShipping[p.StoreID] = true
			}
		}

		items = append(items, li)
	}

	return items, freeShipping, nil
}

// consumeDeals advances the usage accounting of every deal applied to the
// order: one use per deal, plus the discounted units against flash inventory.
// The storage layer guards the limits atomically, so a deal that was depleted
// between validation and here aborts the checkout instead of overdrawing.
func (s *Service) consumeDeals(ctx context.Context, items []LineItem) error {
	units := make(map[string]int)
	var ids []string
	for _, li := range items {
		if li.Deal == nil {
			continue
		}
		if _, seen := units[li.Deal.DealID]; !seen {
			ids = append(ids, li.Deal.DealID)
		}
		units[li.Deal.DealID] += li.Quantity
	}

	for _, id := range ids {
		if err := s.deals.Consume(ctx, id, units[id]); err != nil {
			// A deal depleted between validation and here is a business
			// rejection, reported the same way validation reports it.
			switch {
			case errors.Is(err, deal.ErrUsageLimitReached):
				return &ValidationError{Issues: depletedDealIssues(items, id, cart.IssueDealUsageLimit, "deal usage limit reached")}
			case errors.Is(err, deal.ErrFlashSoldOut):
				return &ValidationError{Issues: depletedDealIssues(items, id, cart.IssueDealFlashSoldOut, "flash sale sold out")}
			}
			return errors.Wrapf(err, "consume deal %s", id)
		}
	}
	return nil
}

func depletedDealIssues(items []LineItem, dealID string, code cart.IssueCode, msg string) []cart.Issue {
	var issues []cart.Issue
	for _, li := range items {
		if li.Deal == nil || li.Deal.DealID != dealID {
			continue
		}
		issues = append(issues, cart.Issue{
			Code:      code,
			ProductID: li.Ref.ID,
			Message:   msg,
		})
	}
	return issues
}

// Get returns an order with all its sub-orders.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// UpdateDelivery transitions one sub-order's delivery status. The update is
// a compare-and-swap against the status the caller observed, so concurrent
// transitions on the same sub-order cannot silently overwrite each other,
// and sibling sub-orders are never touched.
func (s *Service) UpdateDelivery(ctx context.Context, orderID, subOrderID string, to DeliveryStatus, tracking string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	sub, ok := o.SubOrderByID(subOrderID)
	if !ok {
		return ErrSubOrderNotFound
	}

	if !CanTransitionDelivery(sub.DeliveryStatus, to) {
		return &InvalidTransitionError{From: string(sub.DeliveryStatus), To: string(to)}
	}

	var deliveredAt *time.Time
	if to == DeliveryDelivered {
		t := s.now()
		deliveredAt = &t
	}
	if tracking == "" {
		tracking = sub.TrackingNumber
	}

	err = s.orders.UpdateSubOrderDelivery(ctx, orderID, subOrderID, sub.DeliveryStatus, to, tracking, deliveredAt)
	if errors.Is(err, ErrSubOrderNotFound) {
		// The compare-and-swap missed. Re-read to tell a concurrent
		// transition apart from a sub-order that really is gone.
		cur, readErr := s.orders.GetByID(ctx, orderID)
		if readErr != nil {
			return err
		}
		if curSub, ok := cur.SubOrderByID(subOrderID); ok {
			return &InvalidTransitionError{From: string(curSub.DeliveryStatus), To: string(to)}
		}
	}
	return err
}
