package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendimo/marketplace-core/internal/domain/order"
	"github.com/vendimo/marketplace-core/internal/domain/settlement"
)

const (
	createSettlementSQL = `INSERT INTO settlements (id, store_id, order_id, sub_order_id,
			gross_amount, commission, commission_rate, settle_amount, payout_account,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	markSubOrderRequestedSQL = `UPDATE sub_orders SET payout_status = $2 WHERE id = $1`

	getSettlementByKeySQL = `SELECT id, store_id, order_id, sub_order_id, gross_amount,
			commission, commission_rate, settle_amount, payout_account, status,
			created_at, updated_at
		FROM settlements WHERE store_id = $1 AND order_id = $2 AND sub_order_id = $3`

	listSettlementsByStoreSQL = `SELECT id, store_id, order_id, sub_order_id, gross_amount,
			commission, commission_rate, settle_amount, payout_account, status,
			created_at, updated_at
		FROM settlements WHERE store_id = $1 ORDER BY created_at DESC`
)

const uniqueViolationCode = "23505"

var _ settlement.Repository = (*SettlementRepository)(nil)

// SettlementRepository implements settlement.Repository backed by PostgreSQL.
// Uniqueness over (store_id, order_id, sub_order_id) is enforced by the
// table's unique constraint, not by application-level checks.
type SettlementRepository struct {
	pool *pgxpool.Pool
}

// NewSettlementRepository returns a SettlementRepository that uses the given pool.
func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{pool: pool}
}

// CreateRequested inserts the settlement and flips the sub-order's payout
// status to Requested in one transaction. A duplicate key maps to
// settlement.ErrAlreadyRequested.
func (r *SettlementRepository) CreateRequested(ctx context.Context, s *settlement.Settlement) error {
	account, err := json.Marshal(s.PayoutAccount)
	if err != nil {
		return fmt.Errorf("marshaling payout account: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, createSettlementSQL,
		s.ID, s.StoreID, s.OrderID, s.SubOrderID,
		s.GrossAmount, s.Commission, s.CommissionRate, s.SettleAmount, account,
		string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return settlement.ErrAlreadyRequested
		}
		return fmt.Errorf("creating settlement for %q: %w", s.SubOrderID, err)
	}

	_, err = tx.Exec(ctx, markSubOrderRequestedSQL, s.SubOrderID, string(order.PayoutRequested))
	if err != nil {
		return fmt.Errorf("marking sub-order %q requested: %w", s.SubOrderID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create settlement for %q: %w", s.SubOrderID, err)
	}
	return nil
}

// GetByKey returns the settlement for the (store, order, sub-order) key.
func (r *SettlementRepository) GetByKey(ctx context.Context, storeID, orderID, subOrderID string) (*settlement.Settlement, error) {
	rows, err := r.pool.Query(ctx, getSettlementByKeySQL, storeID, orderID, subOrderID)
	if err != nil {
		return nil, fmt.Errorf("getting settlement for %q: %w", subOrderID, err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSettlement)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrNotFound
		}
		return nil, fmt.Errorf("getting settlement for %q: %w", subOrderID, err)
	}
	return &s, nil
}

// ListByStore returns a store's settlements, newest first.
func (r *SettlementRepository) ListByStore(ctx context.Context, storeID string) ([]settlement.Settlement, error) {
	rows, err := r.pool.Query(ctx, listSettlementsByStoreSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing settlements of %q: %w", storeID, err)
	}

	list, err := pgx.CollectRows(rows, scanSettlement)
	if err != nil {
		return nil, fmt.Errorf("listing settlements of %q: %w", storeID, err)
	}
	return list, nil
}

func scanSettlement(row pgx.CollectableRow) (settlement.Settlement, error) {
	var (
		s       settlement.Settlement
		account []byte
		status  string
	)
	err := row.Scan(
		&s.ID, &s.StoreID, &s.OrderID, &s.SubOrderID, &s.GrossAmount,
		&s.Commission, &s.CommissionRate, &s.SettleAmount, &account, &status,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return s, err
	}
	s.Status = order.PayoutStatus(status)
	if err := json.Unmarshal(account, &s.PayoutAccount); err != nil {
		return s, fmt.Errorf("unmarshaling payout account: %w", err)
	}
	return s, nil
}
