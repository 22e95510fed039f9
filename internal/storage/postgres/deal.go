package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendimo/marketplace-core/internal/domain/deal"
)

const (
	getDealByIDSQL = `SELECT id, name, deal_type, value, buy_quantity, get_quantity,
			active, starts_at, ends_at, max_uses, uses, flash_remaining, allowed_sizes
		FROM deals WHERE id = $1`

	// The WHERE clause re-checks the usage limit and flash inventory so the
	// update is its own guard: a concurrent checkout that would overdraw the
	// deal matches zero rows instead.
	consumeDealSQL = `UPDATE deals
		SET uses = uses + 1,
			flash_remaining = CASE WHEN deal_type = 'flash_sale'
				THEN flash_remaining - $2 ELSE flash_remaining END
		WHERE id = $1
			AND (max_uses = 0 OR uses < max_uses)
			AND (deal_type <> 'flash_sale' OR flash_remaining >= $2)`
)

var _ deal.Repository = (*DealRepository)(nil)

// DealRepository implements deal.Repository backed by PostgreSQL.
type DealRepository struct {
	pool *pgxpool.Pool
}

// NewDealRepository returns a DealRepository that uses the given pool.
func NewDealRepository(pool *pgxpool.Pool) *DealRepository {
	return &DealRepository{pool: pool}
}

// GetByID returns the live deal. Returns deal.ErrNotFound when no deal with
// the id exists; eligibility (active, window, usage) is the domain's call.
func (r *DealRepository) GetByID(ctx context.Context, id string) (*deal.Deal, error) {
	rows, err := r.pool.Query(ctx, getDealByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding deal %q: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDeal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, deal.ErrNotFound
		}
		return nil, fmt.Errorf("finding deal %q: %w", id, err)
	}
	return &d, nil
}

// Consume advances the deal's usage accounting for one checkout. A zero-row
// update means the guard rejected it; the deal is re-read to name the limit
// that was hit.
func (r *DealRepository) Consume(ctx context.Context, id string, units int) error {
	tag, err := r.pool.Exec(ctx, consumeDealSQL, id, units)
	if err != nil {
		return fmt.Errorf("consuming deal %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	d, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Type == deal.TypeFlashSale && d.FlashRemaining < units {
		return deal.ErrFlashSoldOut
	}
	return deal.ErrUsageLimitReached
}

func scanDeal(row pgx.CollectableRow) (deal.Deal, error) {
	var (
		d        deal.Deal
		dealType string
		startsAt *time.Time
		endsAt   *time.Time
	)
	err := row.Scan(
		&d.ID, &d.Name, &dealType, &d.Value, &d.BuyQuantity, &d.GetQuantity,
		&d.Active, &startsAt, &endsAt, &d.MaxUses, &d.Uses, &d.FlashRemaining,
		&d.AllowedSizes,
	)
	d.Type = deal.Type(dealType)
	d.StartsAt = startsAt
	d.EndsAt = endsAt
	return d, err
}
