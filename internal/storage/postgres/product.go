package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendimo/marketplace-core/internal/domain/catalog"
)

const (
	getProductByIDSQL = `SELECT id, store_id, name, kind, price, original_price, quantity
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, store_id, name, kind, price, original_price, quantity
		FROM products WHERE id = ANY($1)`

	getSizesByProductIDsSQL = `SELECT product_id, size_key, price, quantity
		FROM product_sizes WHERE product_id = ANY($1) ORDER BY product_id, size_key`
)

var _ catalog.Repository = (*ProductRepository)(nil)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product with its size variants.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	if err := r.attachSizes(ctx, []catalog.Product{p}); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs, sizes included.
// Missing IDs are simply absent from the result; callers decide whether that
// is an error.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}

	if err := r.attachSizes(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// attachSizes loads size variants for the given products in one query.
// The products slice is modified in place.
func (r *ProductRepository) attachSizes(ctx context.Context, products []catalog.Product) error {
	if len(products) == 0 {
		return nil
	}

	byID := make(map[string]*catalog.Product, len(products))
	ids := make([]string, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
		ids[i] = products[i].ID
	}

	rows, err := r.pool.Query(ctx, getSizesByProductIDsSQL, ids)
	if err != nil {
		return fmt.Errorf("getting product sizes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			size      catalog.Size
		)
		if err := rows.Scan(&productID, &size.Key, &size.Price, &size.Quantity); err != nil {
			return fmt.Errorf("scanning product size: %w", err)
		}
		if p, ok := byID[productID]; ok {
			p.Sizes = append(p.Sizes, size)
		}
	}
	return rows.Err()
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p    catalog.Product
		kind string
	)
	err := row.Scan(&p.ID, &p.StoreID, &p.Name, &kind, &p.Price, &p.OriginalPrice, &p.Quantity)
	p.Kind = catalog.Kind(kind)
	return p, err
}
