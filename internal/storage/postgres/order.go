package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendimo/marketplace-core/internal/domain/catalog"
	"github.com/vendimo/marketplace-core/internal/domain/deal"
	"github.com/vendimo/marketplace-core/internal/domain/order"
	"github.com/vendimo/marketplace-core/internal/domain/settlement"
)

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, total_amount, total_savings, status,
			postal_code, shipping_address, payment_method, payment_status, payment_reference,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	createSubOrderSQL = `INSERT INTO sub_orders (id, order_id, store_id, position, total_amount,
			original_subtotal, savings, applied_deals, shipping, delivery_status, payout_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	createOrderItemSQL = `INSERT INTO order_items (sub_order_id, position, product_id, product_kind,
			store_id, quantity, free_quantity, price_at_order, original_price, selected_size, deal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getOrderSQL = `SELECT id, user_id, total_amount, total_savings, status, postal_code,
			shipping_address, payment_method, payment_status, payment_reference, created_at, updated_at
		FROM orders WHERE id = $1`

	getSubOrdersSQL = `SELECT id, store_id, total_amount, original_subtotal, savings, applied_deals,
			shipping, tracking_number, delivery_date, delivery_status, payout_status
		FROM sub_orders WHERE order_id = $1 ORDER BY position`

	getItemsSQL = `SELECT sub_order_id, product_id, product_kind, store_id, quantity, free_quantity,
			price_at_order, original_price, selected_size, deal
		FROM order_items WHERE sub_order_id = ANY($1) ORDER BY sub_order_id, position`

	// The update targets one sub-order row and compares against the status
	// the caller observed, so concurrent transitions cannot clobber each
	// other and sibling sub-orders are untouched.
	updateSubOrderDeliverySQL = `UPDATE sub_orders
		SET delivery_status = $4,
			tracking_number = $5,
			delivery_date = COALESCE($6, delivery_date)
		WHERE id = $2 AND order_id = $1 AND delivery_status = $3`

	listDeliveredSubOrdersSQL = `SELECT id, store_id, total_amount, original_subtotal, savings,
			applied_deals, shipping, tracking_number, delivery_date, delivery_status, payout_status
		FROM sub_orders WHERE store_id = $1 AND delivery_status = 'Delivered'`
)

var (
	_ order.Repository         = (*OrderRepository)(nil)
	_ settlement.BalanceReader = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL. Orders,
// sub-orders, and line items are normalized tables written in a single
// transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order with all sub-orders and line items atomically.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.TotalAmount, o.TotalSavings, o.Status,
		o.PostalCode, o.ShippingAddress, o.PaymentMethod, o.PaymentStatus, o.PaymentReference,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for pos := range o.SubOrders {
		sub := &o.SubOrders[pos]

		dealsJSON, err := json.Marshal(sub.AppliedDeals)
		if err != nil {
			return fmt.Errorf("marshaling applied deals: %w", err)
		}
		shippingJSON, err := json.Marshal(sub.Shipping)
		if err != nil {
			return fmt.Errorf("marshaling shipping: %w", err)
		}

		_, err = tx.Exec(ctx, createSubOrderSQL,
			sub.ID, o.ID, sub.StoreID, pos, sub.TotalAmount,
			sub.OriginalSubtotal, sub.Savings, dealsJSON, shippingJSON,
			string(sub.DeliveryStatus), string(sub.PayoutStatus),
		)
		if err != nil {
			return fmt.Errorf("creating sub-order %q: %w", sub.ID, err)
		}

		for i, li := range sub.Items {
			var dealJSON []byte
			if li.Deal != nil {
				if dealJSON, err = json.Marshal(li.Deal); err != nil {
					return fmt.Errorf("marshaling line item deal: %w", err)
				}
			}
			_, err = tx.Exec(ctx, createOrderItemSQL,
				sub.ID, i, li.Ref.ID, string(li.Ref.Kind), li.StoreID,
				li.Quantity, li.FreeQuantity, li.PriceAtOrder, li.OriginalPrice,
				li.SelectedSize, dealJSON,
			)
			if err != nil {
				return fmt.Errorf("creating order item %q: %w", li.Ref.ID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns an order with its sub-orders and line items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	subRows, err := r.pool.Query(ctx, getSubOrdersSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting sub-orders of %q: %w", id, err)
	}
	o.SubOrders, err = pgx.CollectRows(subRows, scanSubOrder)
	if err != nil {
		return nil, fmt.Errorf("getting sub-orders of %q: %w", id, err)
	}

	if err := r.attachItems(ctx, o.SubOrders); err != nil {
		return nil, err
	}

	o.StoreIDs = make([]string, len(o.SubOrders))
	for i := range o.SubOrders {
		o.StoreIDs[i] = o.SubOrders[i].StoreID
	}
	return &o, nil
}

// UpdateSubOrderDelivery transitions one sub-order's delivery status with a
// compare-and-swap on the expected current status.
func (r *OrderRepository) UpdateSubOrderDelivery(ctx context.Context, orderID, subOrderID string, from, to order.DeliveryStatus, tracking string, deliveredAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, updateSubOrderDeliverySQL,
		orderID, subOrderID, string(from), string(to), tracking, deliveredAt,
	)
	if err != nil {
		return fmt.Errorf("updating delivery status of %q: %w", subOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrSubOrderNotFound
	}
	return nil
}

// ListDeliveredSubOrders returns a store's delivered sub-orders with their
// line items, for the payout balance aggregation.
func (r *OrderRepository) ListDeliveredSubOrders(ctx context.Context, storeID string) ([]order.SubOrder, error) {
	rows, err := r.pool.Query(ctx, listDeliveredSubOrdersSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing delivered sub-orders of %q: %w", storeID, err)
	}
	subs, err := pgx.CollectRows(rows, scanSubOrder)
	if err != nil {
		return nil, fmt.Errorf("listing delivered sub-orders of %q: %w", storeID, err)
	}

	if err := r.attachItems(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// attachItems loads line items for the given sub-orders in one query.
func (r *OrderRepository) attachItems(ctx context.Context, subs []order.SubOrder) error {
	if len(subs) == 0 {
		return nil
	}

	byID := make(map[string]*order.SubOrder, len(subs))
	ids := make([]string, len(subs))
	for i := range subs {
		byID[subs[i].ID] = &subs[i]
		ids[i] = subs[i].ID
	}

	rows, err := r.pool.Query(ctx, getItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			subOrderID string
			kind       string
			dealJSON   []byte
			li         order.LineItem
		)
		err := rows.Scan(
			&subOrderID, &li.Ref.ID, &kind, &li.StoreID, &li.Quantity, &li.FreeQuantity,
			&li.PriceAtOrder, &li.OriginalPrice, &li.SelectedSize, &dealJSON,
		)
		if err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		li.Ref.Kind = catalog.Kind(kind)
		if len(dealJSON) > 0 {
			var snap deal.Snapshot
			if err := json.Unmarshal(dealJSON, &snap); err != nil {
				return fmt.Errorf("unmarshaling line item deal: %w", err)
			}
			li.Deal = &snap
		}
		if sub, ok := byID[subOrderID]; ok {
			sub.Items = append(sub.Items, li)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.TotalAmount, &o.TotalSavings, &o.Status, &o.PostalCode,
		&o.ShippingAddress, &o.PaymentMethod, &o.PaymentStatus, &o.PaymentReference,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func scanSubOrder(row pgx.CollectableRow) (order.SubOrder, error) {
	var (
		sub            order.SubOrder
		dealsJSON      []byte
		shippingJSON   []byte
		deliveryStatus string
		payoutStatus   string
	)
	err := row.Scan(
		&sub.ID, &sub.StoreID, &sub.TotalAmount, &sub.OriginalSubtotal, &sub.Savings,
		&dealsJSON, &shippingJSON, &sub.TrackingNumber, &sub.DeliveryDate,
		&deliveryStatus, &payoutStatus,
	)
	if err != nil {
		return sub, err
	}

	sub.DeliveryStatus = order.DeliveryStatus(deliveryStatus)
	sub.PayoutStatus = order.PayoutStatus(payoutStatus)
	if err := json.Unmarshal(dealsJSON, &sub.AppliedDeals); err != nil {
		return sub, fmt.Errorf("unmarshaling applied deals: %w", err)
	}
	if err := json.Unmarshal(shippingJSON, &sub.Shipping); err != nil {
		return sub, fmt.Errorf("unmarshaling shipping: %w", err)
	}
	return sub, nil
}
