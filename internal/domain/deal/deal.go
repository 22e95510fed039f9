// Package deal models promotional discounts as consumed by checkout. The
// core snapshots deal terms into order line items at purchase time; deal
// lifecycle (creation, scheduling, inventory refill) belongs to the seller
// dashboard and is out of scope here.
package deal

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vendimo/marketplace-core/internal/domain/money"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage discounts the unit price by Value percent points.
	TypePercentage Type = "percentage"
	// TypeFixed discounts the unit price by Value minor units, floored at zero.
	TypeFixed Type = "fixed"
	// TypeFreeShipping zeroes the shipping cost of the store's sub-order.
	TypeFreeShipping Type = "free_shipping"
	// TypeFlashSale is a percentage discount backed by a depleting inventory
	// of discount-eligible units.
	TypeFlashSale Type = "flash_sale"
	// TypeBuyXGetY grants Y free units for every X paid units.
	TypeBuyXGetY Type = "buy_x_get_y"
)

var (
	// ErrInactive is returned when the deal has been disabled by the seller.
	ErrInactive = errors.New("deal is not active")
	// ErrExpired is returned when the deal is outside its validity window.
	ErrExpired = errors.New("deal expired")
	// ErrUsageLimitReached is returned when the deal exhausted its allowed uses.
	ErrUsageLimitReached = errors.New("deal usage limit reached")
	// ErrFlashSoldOut is returned when a flash sale has no eligible units left.
	ErrFlashSoldOut = errors.New("flash sale inventory exhausted")
	// ErrSizeMismatch is returned when a size-restricted deal does not cover
	// the selected size.
	ErrSizeMismatch = errors.New("deal does not apply to selected size")
)

// Deal is the live promotional rule as read from the deal service.
type Deal struct {
	ID   string
	Name string
	Type Type

	// Value is interpreted per Type: percent points for percentage and flash
	// sales, minor units for fixed discounts, unused for free shipping.
	Value int64

	// BuyQuantity/GetQuantity configure buy-x-get-y deals.
	BuyQuantity int
	GetQuantity int

	Active         bool
	StartsAt       *time.Time
	EndsAt         *time.Time
	MaxUses        int
	Uses           int
	FlashRemaining int

	// AllowedSizes restricts the deal to specific size keys; empty means the
	// deal applies to any size.
	AllowedSizes []string
}

// Snapshot is the frozen deal summary written into order line items. Live
// deal mutations must never alter historical orders.
type Snapshot struct {
	DealID string `json:"dealId"`
	Type   Type   `json:"dealType"`
	Value  int64  `json:"value"`
	Name   string `json:"name"`
}

// Snapshot returns the frozen summary of the deal.
func (d *Deal) Snapshot() Snapshot {
	return Snapshot{DealID: d.ID, Type: d.Type, Value: d.Value, Name: d.Name}
}

// CheckEligibility validates the live deal against a line item at time now.
// It returns the first violated constraint as one of the package sentinels.
func (d *Deal) CheckEligibility(now time.Time, quantity int, selectedSize string) error {
	if !d.Active {
		return ErrInactive
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return ErrExpired
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return ErrExpired
	}
	if d.MaxUses > 0 && d.Uses >= d.MaxUses {
		return ErrUsageLimitReached
	}
	if d.Type == TypeFlashSale && d.FlashRemaining < quantity {
		return ErrFlashSoldOut
	}
	if len(d.AllowedSizes) > 0 && !slices.Contains(d.AllowedSizes, selectedSize) {
		return ErrSizeMismatch
	}
	return nil
}

// UnitPrice returns the post-discount unit price for the given original unit
// price. Free-shipping and buy-x-get-y deals do not change the unit price;
// their effect is applied at the sub-order level.
func (d *Deal) UnitPrice(original money.Cents) money.Cents {
	switch d.Type {
	case TypePercentage, TypeFlashSale:
		cut := original.Decimal().
			Mul(decimal.NewFromInt(d.Value)).
			Div(decimal.NewFromInt(100))
		discounted := original - money.FromDecimal(cut)
		if discounted < 0 {
			return 0
		}
		return discounted
	case TypeFixed:
		discounted := original - money.Cents(d.Value)
		if discounted < 0 {
			return 0
		}
		return discounted
	default:
		return original
	}
}

// FreeUnits returns how many of quantity units are free under a buy-x-get-y
// deal. Zero for every other deal type.
func (d *Deal) FreeUnits(quantity int) int {
	if d.Type != TypeBuyXGetY || d.BuyQuantity <= 0 || d.GetQuantity <= 0 {
		return 0
	}
	bundle := d.BuyQuantity + d.GetQuantity
	return quantity / bundle * d.GetQuantity
}

// Repository provides lookup and usage accounting of live deals.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Deal, error)
	// Consume records one application of the deal at checkout: it increments
	// the usage counter and, for flash sales, depletes units of the discount
	// inventory. The storage layer enforces the limits atomically with the
	// update itself, so concurrent checkouts cannot overdraw a deal; when the
	// deal can no longer cover the request the result is one of the package
	// sentinels (ErrUsageLimitReached, ErrFlashSoldOut).
	Consume(ctx context.Context, id string, units int) error
}

// ErrNotFound is returned when a referenced deal does not exist.
var ErrNotFound = errors.New("deal not found")
