// Package order holds the order aggregate: a buyer's multi-store order split
// into per-store sub-orders, each with its own delivery and payout lifecycle.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/vendimo/marketplace-core/internal/domain/cart"
	"github.com/vendimo/marketplace-core/internal/domain/catalog"
	"github.com/vendimo/marketplace-core/internal/domain/deal"
	"github.com/vendimo/marketplace-core/internal/domain/money"
)

// Sentinel errors for order creation and lookup.
var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrPaymentRequired  = errors.New("payment reference is required")
	ErrNotFound         = errors.New("order not found")
	ErrSubOrderNotFound = errors.New("sub-order not found")
)

// MissingShippingError indicates no shipping method was selected for a store
// present in the cart.
type MissingShippingError struct {
	StoreID string
}

func (e *MissingShippingError) Error() string {
	return fmt.Sprintf("no shipping method selected for store %s", e.StoreID)
}

// ValidationError carries the full list of cart validation issues that
// blocked order creation.
type ValidationError struct {
	Issues []cart.Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cart validation failed with %d issue(s)", len(e.Issues))
}

// LineItem is a single purchased product line, owned by exactly one
// sub-order. Pricing fields are captured at order time and never re-derived
// from the live catalog.
type LineItem struct {
	Ref           catalog.ProductRef
	StoreID       string
	Quantity      int
	// FreeQuantity is the number of units granted free by a buy-x-get-y
	// deal. Charged units are Quantity - FreeQuantity.
	FreeQuantity  int
	PriceAtOrder  money.Cents
	OriginalPrice money.Cents
	SelectedSize  string
	Deal          *deal.Snapshot
}

// LineTotal returns the charged amount for this line.
func (li LineItem) LineTotal() money.Cents {
	return li.PriceAtOrder.MulQty(li.Quantity - li.FreeQuantity)
}

// OriginalLineTotal returns the pre-discount amount for this line. When no
// original price was captured the charged unit price substitutes for it.
func (li LineItem) OriginalLineTotal() money.Cents {
	unit := li.OriginalPrice
	if unit == 0 {
		unit = li.PriceAtOrder
	}
	return unit.MulQty(li.Quantity)
}

// ShippingMethod is the shipping selection snapshotted into a sub-order.
type ShippingMethod struct {
	Name          string      `json:"name"`
	Price         money.Cents `json:"price"`
	EstimatedDays string      `json:"estimatedDays"`
	Description   string      `json:"description"`
}

// SubOrder is the portion of an order belonging to one store. Its monetary
// fields are frozen snapshots computed at creation time.
type SubOrder struct {
	ID               string
	StoreID          string
	Items            []LineItem
	TotalAmount      money.Cents
	OriginalSubtotal money.Cents
	Savings          money.Cents
	AppliedDeals     []deal.Snapshot
	Shipping         ShippingMethod
	TrackingNumber   string
	DeliveryDate     *time.Time
	DeliveryStatus   DeliveryStatus
	PayoutStatus     PayoutStatus
}

// ProductSubtotal returns the charged product total excluding shipping.
func (s *SubOrder) ProductSubtotal() money.Cents {
	var sum money.Cents
	for _, li := range s.Items {
		sum += li.LineTotal()
	}
	return sum
}

// Order is the root aggregate created atomically once payment is authorized.
// It is immutable except for sub-order status mutations and payment updates.
type Order struct {
	ID               string
	UserID           string
	StoreIDs         []string
	SubOrders        []SubOrder
	TotalAmount      money.Cents
	TotalSavings     money.Cents
	Status           string
	PostalCode       string
	ShippingAddress  string
	PaymentMethod    string
	PaymentStatus    string
	PaymentReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SubOrderByID returns the sub-order with the given id.
func (o *Order) SubOrderByID(id string) (*SubOrder, bool) {
	for i := range o.SubOrders {
		if o.SubOrders[i].ID == id {
			return &o.SubOrders[i], true
		}
	}
	return nil, false
}

// Repository defines persistence operations for orders. Create must write
// the order and all sub-orders in one transaction so the conservation
// invariant never becomes observable in a half-written state.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// UpdateSubOrderDelivery transitions one sub-order's delivery status with
	// a compare-and-swap on the expected current status. It must not touch
	// sibling sub-orders. Returns ErrSubOrderNotFound when the row no longer
	// matches (concurrent transition or unknown id).
	UpdateSubOrderDelivery(ctx context.Context, orderID, subOrderID string, from, to DeliveryStatus, tracking string, deliveredAt *time.Time) error
}
