// Package cart validates a buyer's cart against live catalog and deal state
// before checkout. Validation is read-only and accumulates every problem so
// the storefront can surface them all at once.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/vendimo/marketplace-core/internal/domain/catalog"
	"github.com/vendimo/marketplace-core/internal/domain/deal"
)

// Entry is one line of a buyer's cart.
type Entry struct {
	Ref          catalog.ProductRef
	Quantity     int
	SelectedSize string
	DealID       string
}

// IssueCode identifies a class of validation failure.
type IssueCode string

const (
	IssueProductNotFound   IssueCode = "ProductNotFound"
	IssueInsufficientStock IssueCode = "InsufficientStock"
	IssueSizeUnavailable   IssueCode = "SizeUnavailable"
	IssueDealNotFound      IssueCode = "DealNotFound"
	IssueDealInactive      IssueCode = "DealInactive"
	IssueDealExpired       IssueCode = "DealExpired"
	IssueDealUsageLimit    IssueCode = "DealUsageLimitReached"
	IssueDealFlashSoldOut  IssueCode = "DealFlashSoldOut"
	IssueDealSizeMismatch  IssueCode = "DealSizeMismatch"
	IssueInvalidQuantity   IssueCode = "InvalidQuantity"
)

// Issue is a single validation failure tied to a cart entry.
type Issue struct {
	Code      IssueCode `json:"code"`
	ProductID string    `json:"productId"`
	Message   string    `json:"message"`
}

// Validator checks cart entries against live catalog and deal state.
type Validator struct {
	catalog catalog.Repository
	deals   deal.Repository
	now     func() time.Time
}

// NewValidator creates a Validator over the given catalog and deal sources.
func NewValidator(products catalog.Repository, deals deal.Repository) *Validator {
	return &Validator{catalog: products, deals: deals, now: time.Now}
}

// Validate checks every entry and returns the complete list of issues. An
// empty slice means the cart may proceed to checkout. The returned error is
// reserved for infrastructure failures (catalog or deal reads), never for
// business rule violations.
func (v *Validator) Validate(ctx context.Context, entries []Entry) ([]Issue, error) {
	if len(entries) == 0 {
		return []Issue{{Code: IssueInvalidQuantity, Message: "cart is empty"}}, nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Ref.ID
	}

	fetched, err := v.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	products := make(map[string]*catalog.Product, len(fetched))
	for i := range fetched {
		products[fetched[i].ID] = &fetched[i]
	}

	now := v.now()
	var issues []Issue
	for _, e := range entries {
		if e.Quantity <= 0 {
			issues = append(issues, Issue{
				Code:      IssueInvalidQuantity,
				ProductID: e.Ref.ID,
				Message:   fmt.Sprintf("quantity must be greater than 0 for product %s", e.Ref.ID),
			})
			continue
		}

		p, ok := products[e.Ref.ID]
		if !ok {
			issues = append(issues, Issue{
				Code:      IssueProductNotFound,
				ProductID: e.Ref.ID,
				Message:   fmt.Sprintf("product %s not found", e.Ref.ID),
			})
			continue
		}

		issues = append(issues, v.checkStock(p, e)...)

		if e.DealID != "" {
			issues = append(issues, v.checkDeal(ctx, now, e)...)
		}
	}

	return issues, nil
}

// checkStock validates physical stock levels. Digital goods are not depleted
// and skip the check entirely.
func (v *Validator) checkStock(p *catalog.Product, e Entry) []Issue {
	if e.Ref.Kind == catalog.KindDigital {
		return nil
	}

	if e.SelectedSize != "" {
		size, ok := p.SizeByKey(e.SelectedSize)
		if !ok {
			return []Issue{{
				Code:      IssueSizeUnavailable,
				ProductID: p.ID,
				Message:   fmt.Sprintf("size %q is unavailable for product %s", e.SelectedSize, p.ID),
			}}
		}
		if size.Quantity < e.Quantity {
			return []Issue{{
				Code:      IssueInsufficientStock,
				ProductID: p.ID,
				Message:   fmt.Sprintf("only %d left of product %s size %q", size.Quantity, p.ID, e.SelectedSize),
			}}
		}
		return nil
	}

	if p.Quantity < e.Quantity {
		return []Issue{{
			Code:      IssueInsufficientStock,
			ProductID: p.ID,
			Message:   fmt.Sprintf("only %d left of product %s", p.Quantity, p.ID),
		}}
	}
	return nil
}

// checkDeal re-validates the entry's deal against its live state.
func (v *Validator) checkDeal(ctx context.Context, now time.Time, e Entry) []Issue {
	d, err := v.deals.GetByID(ctx, e.DealID)
	if err != nil {
		if errors.Is(err, deal.ErrNotFound) {
			return []Issue{{
				Code:      IssueDealNotFound,
				ProductID: e.Ref.ID,
				Message:   fmt.Sprintf("deal %s no longer exists", e.DealID),
			}}
		}
		// Deal reads are part of validation; a transient failure here still
		// has to block checkout, but as an issue the buyer can retry on.
		return []Issue{{
			Code:      IssueDealNotFound,
			ProductID: e.Ref.ID,
			Message:   fmt.Sprintf("deal %s could not be verified", e.DealID),
		}}
	}

	if err := d.CheckEligibility(now, e.Quantity, e.SelectedSize); err != nil {
		return []Issue{{
			Code:      dealIssueCode(err),
			ProductID: e.Ref.ID,
			Message:   fmt.Sprintf("deal %s: %s", e.DealID, err.Error()),
		}}
	}
	return nil
}

func dealIssueCode(err error) IssueCode {
	switch {
	case errors.Is(err, deal.ErrInactive):
		return IssueDealInactive
	case errors.Is(err, deal.ErrExpired):
		return IssueDealExpired
	case errors.Is(err, deal.ErrUsageLimitReached):
		return IssueDealUsageLimit
	case errors.Is(err, deal.ErrFlashSoldOut):
		return IssueDealFlashSoldOut
	case errors.Is(err, deal.ErrSizeMismatch):
		return IssueDealSizeMismatch
	default:
		return IssueDealNotFound
	}
}
