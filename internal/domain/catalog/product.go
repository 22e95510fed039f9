package catalog

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/vendimo/marketplace-core/internal/domain/money"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Kind discriminates physical goods (stock-tracked) from digital goods
// (never depleted).
type Kind string

const (
	KindPhysical Kind = "physical"
	KindDigital  Kind = "digital"
)

// ProductRef is a tagged reference to either a physical or a digital product.
// Exactly one kind applies; the mutual exclusivity is carried by the type
// instead of a pair of optional fields.
type ProductRef struct {
	Kind Kind
	ID   string
}

// PhysicalRef returns a reference to a physical product.
func PhysicalRef(id string) ProductRef {
	return ProductRef{Kind: KindPhysical, ID: id}
}

// DigitalRef returns a reference to a digital product.
func DigitalRef(id string) ProductRef {
	return ProductRef{Kind: KindDigital, ID: id}
}

// Size is a stock-tracked price variant of a physical product.
type Size struct {
	Key      string
	Price    money.Cents
	Quantity int
}

// Product is a catalog item offered by a single store.
type Product struct {
	ID            string
	StoreID       string
	Name          string
	Kind          Kind
	Price         money.Cents
	OriginalPrice money.Cents
	Quantity      int
	Sizes         []Size
}

// SizeByKey returns the size variant with the given key, or false when the
// product does not carry it.
func (p *Product) SizeByKey(key string) (Size, bool) {
	for _, s := range p.Sizes {
		if s.Key == key {
			return s, true
		}
	}
	return Size{}, false
}

// Repository defines read operations over the live catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
