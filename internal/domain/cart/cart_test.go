package cart

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendimo/marketplace-core/internal/domain/catalog"
	"github.com/vendimo/marketplace-core/internal/domain/deal"
)

// --- Mock implementations ---

type mockCatalog struct {
	byID   map[string]catalog.Product
	getErr error
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockDeals struct {
	byID map[string]deal.Deal
}

func (m *mockDeals) GetByID(_ context.Context, id string) (*deal.Deal, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, deal.ErrNotFound
	}
	return &d, nil
}

func (m *mockDeals) Consume(_ context.Context, _ string, _ int) error {
	// Validation is read-only; nothing in this package consumes deals.
	return nil
}

func newCatalog(products ...catalog.Product) *mockCatalog {
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockCatalog{byID: byID}
}

func newValidatorAt(now time.Time, products *mockCatalog, deals *mockDeals) *Validator {
	v := NewValidator(products, deals)
	v.now = func() time.Time { return now }
	return v
}

func codes(issues []Issue) []IssueCode {
	if len(issues) == 0 {
		return nil
	}
	out := make([]IssueCode, len(issues))
	for i, issue := range issues {
		out[i] = issue.Code
	}
	return out
}

// --- Tests ---

func TestValidate_EmptyCart(t *testing.T) {
	v := NewValidator(newCatalog(), &mockDeals{})

	issues, err := v.Validate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueInvalidQuantity, issues[0].Code)
}

func TestValidate_CatalogFailure(t *testing.T) {
	boom := errors.New("connection reset")
	v := NewValidator(&mockCatalog{getErr: boom}, &mockDeals{})

	_, err := v.Validate(context.Background(), []Entry{
		{Ref: catalog.PhysicalRef("p1"), Quantity: 1},
	})
	require.ErrorIs(t, err, boom)
}

func TestValidate_StockChecks(t *testing.T) {
	products := newCatalog(
		catalog.Product{ID: "p1", StoreID: "s1", Kind: catalog.KindPhysical, Price: 1000, Quantity: 2},
		catalog.Product{ID: "p2", StoreID: "s1", Kind: catalog.KindPhysical, Price: 2000, Sizes: []catalog.Size{
			{Key: "M", Price: 2000, Quantity: 1},
		}},
		catalog.Product{ID: "d1", StoreID: "s1", Kind: catalog.KindDigital, Price: 500},
	)

	tests := []struct {
		name  string
		entry Entry
		want  []IssueCode
	}{
		{
			name:  "enough stock",
			entry: Entry{Ref: catalog.PhysicalRef("p1"), Quantity: 2},
		},
		{
			name:  "insufficient stock",
			entry: Entry{Ref: catalog.PhysicalRef("p1"), Quantity: 3},
			want:  []IssueCode{IssueInsufficientStock},
		},
		{
			name:  "unknown product",
			entry: Entry{Ref: catalog.PhysicalRef("ghost"), Quantity: 1},
			want:  []IssueCode{IssueProductNotFound},
		},
		{
			name:  "size variant in stock",
			entry: Entry{Ref: catalog.PhysicalRef("p2"), Quantity: 1, SelectedSize: "M"},
		},
		{
			name:  "size variant out of stock",
			entry: Entry{Ref: catalog.PhysicalRef("p2"), Quantity: 2, SelectedSize: "M"},
			want:  []IssueCode{IssueInsufficientStock},
		},
		{
			name:  "size unavailable",
			entry: Entry{Ref: catalog.PhysicalRef("p2"), Quantity: 1, SelectedSize: "XXL"},
			want:  []IssueCode{IssueSizeUnavailable},
		},
		{
			name:  "digital goods skip stock checks",
			entry: Entry{Ref: catalog.DigitalRef("d1"), Quantity: 9999},
		},
		{
			name:  "non-positive quantity",
			entry: Entry{Ref: catalog.PhysicalRef("p1"), Quantity: 0},
			want:  []IssueCode{IssueInvalidQuantity},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(products, &mockDeals{})
			issues, err := v.Validate(context.Background(), []Entry{tt.entry})
			require.NoError(t, err)
			assert.Equal(t, tt.want, codes(issues))
		})
	}
}

func TestValidate_DealChecks(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-time.Hour)

	products := newCatalog(
		catalog.Product{ID: "p1", StoreID: "s1", Kind: catalog.KindPhysical, Price: 1000, Quantity: 10},
	)
	deals := &mockDeals{byID: map[string]deal.Deal{
		"live":    {ID: "live", Type: deal.TypePercentage, Value: 10, Active: true},
		"expired": {ID: "expired", Type: deal.TypePercentage, Value: 10, Active: true, EndsAt: &past},
		"flash":   {ID: "flash", Type: deal.TypeFlashSale, Value: 40, Active: true, FlashRemaining: 1},
	}}

	tests := []struct {
		name  string
		entry Entry
		want  []IssueCode
	}{
		{
			name:  "valid deal",
			entry: Entry{Ref: catalog.PhysicalRef("p1"), Quantity: 1, DealID: "live"},
		},
		{
			name:  "expired deal",
			entry: Entry{Ref: catalog.PhysicalRef("p1"), Quantity: 1, DealID: "expired"},
			want:  []IssueCode{IssueDealExpired},
		},
		{
			name:  "flash sale depleted",
			entry: Entry{Ref: catalog.PhysicalRef("p1"), Quantity: 2, DealID: "flash"},
			want:  []IssueCode{IssueDealFlashSoldOut},
		},
		{
			name:  "deal vanished",
			entry: Entry{Ref: catalog.PhysicalRef("p1"), Quantity: 1, DealID: "gone"},
			want:  []IssueCode{IssueDealNotFound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidatorAt(fixedNow, products, deals)
			issues, err := v.Validate(context.Background(), []Entry{tt.entry})
			require.NoError(t, err)
			assert.Equal(t, tt.want, codes(issues))
		})
	}
}

// Validation must report every problem in one pass, not stop at the first.
func TestValidate_AccumulatesAllIssues(t *testing.T) {
	products := newCatalog(
		catalog.Product{ID: "p1", StoreID: "s1", Kind: catalog.KindPhysical, Price: 1000, Quantity: 1},
	)
	v := NewValidator(products, &mockDeals{})

	issues, err := v.Validate(context.Background(), []Entry{
		{Ref: catalog.PhysicalRef("p1"), Quantity: 5},
		{Ref: catalog.PhysicalRef("missing"), Quantity: 1},
		{Ref: catalog.PhysicalRef("p1"), Quantity: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []IssueCode{
		IssueInsufficientStock,
		IssueProductNotFound,
		IssueInvalidQuantity,
	}, codes(issues))
}
