package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendimo/marketplace-core/internal/domain/catalog"
	"github.com/vendimo/marketplace-core/internal/domain/commission"
	"github.com/vendimo/marketplace-core/internal/domain/money"
	"github.com/vendimo/marketplace-core/internal/domain/order"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	orders map[string]*order.Order
}

func (m *mockOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) UpdateSubOrderDelivery(_ context.Context, _, _ string, _, _ order.DeliveryStatus, _ string, _ *time.Time) error {
	return nil
}

// mockSettlementRepo enforces the unique key the way the storage layer does:
// the insert attempt itself is the idempotency check.
type mockSettlementRepo struct {
	byKey  map[[3]string]*Settlement
	orders *mockOrderRepo
}

func newMockSettlementRepo(orders *mockOrderRepo) *mockSettlementRepo {
	return &mockSettlementRepo{byKey: make(map[[3]string]*Settlement), orders: orders}
}

func (m *mockSettlementRepo) CreateRequested(_ context.Context, s *Settlement) error {
	key := [3]string{s.StoreID, s.OrderID, s.SubOrderID}
	if _, exists := m.byKey[key]; exists {
		return ErrAlreadyRequested
	}
	m.byKey[key] = s
	if o, ok := m.orders.orders[s.OrderID]; ok {
		if sub, ok := o.SubOrderByID(s.SubOrderID); ok {
			sub.PayoutStatus = order.PayoutRequested
		}
	}
	return nil
}

func (m *mockSettlementRepo) GetByKey(_ context.Context, storeID, orderID, subOrderID string) (*Settlement, error) {
	s, ok := m.byKey[[3]string{storeID, orderID, subOrderID}]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockSettlementRepo) ListByStore(_ context.Context, storeID string) ([]Settlement, error) {
	var out []Settlement
	for _, s := range m.byKey {
		if s.StoreID == storeID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type mockBalanceReader struct {
	subs []order.SubOrder
}

func (m *mockBalanceReader) ListDeliveredSubOrders(_ context.Context, _ string) ([]order.SubOrder, error) {
	return m.subs, nil
}

type mockNotifier struct {
	calls int
	err   error
}

func (m *mockNotifier) SettlementRequested(_ context.Context, _ *Settlement) error {
	m.calls++
	return m.err
}

type mockPublisher struct {
	calls int
}

func (m *mockPublisher) SettlementRequested(_ context.Context, _ *Settlement) error {
	m.calls++
	return nil
}

// --- Helpers ---

func deliveredOrder(orderID, storeID, subOrderID string) *order.Order {
	return &order.Order{
		ID:       orderID,
		StoreIDs: []string{storeID},
		SubOrders: []order.SubOrder{{
			ID:      subOrderID,
			StoreID: storeID,
			Items: []order.LineItem{{
				Ref:          catalog.PhysicalRef("p1"),
				StoreID:      storeID,
				Quantity:     1,
				PriceAtOrder: 5000,
			}},
			TotalAmount:    5300,
			Shipping:       order.ShippingMethod{Name: "Standard", Price: 300},
			DeliveryStatus: order.DeliveryDelivered,
		}},
		TotalAmount: 5300,
	}
}

type fixture struct {
	svc      *Service
	orders   *mockOrderRepo
	repo     *mockSettlementRepo
	notifier *mockNotifier
	events   *mockPublisher
	balances *mockBalanceReader
}

func newFixture(base CommissionBase) *fixture {
	orders := &mockOrderRepo{orders: make(map[string]*order.Order)}
	repo := newMockSettlementRepo(orders)
	notifier := &mockNotifier{}
	events := &mockPublisher{}
	balances := &mockBalanceReader{}
	svc := NewService(orders, repo, balances, commission.NewCalculator(commission.DefaultConfig()), base, notifier, events)
	return &fixture{svc: svc, orders: orders, repo: repo, notifier: notifier, events: events, balances: balances}
}

var testAccount = BankAccount{BankName: "First Bank", AccountName: "Store A", AccountNumber: "0123456789"}

// --- Tests ---

func TestRequest_Success(t *testing.T) {
	f := newFixture(BaseProducts)
	f.orders.orders["o1"] = deliveredOrder("o1", "A", "sub1")

	stl, err := f.svc.Request(context.Background(), "A", "o1", "sub1", testAccount)
	require.NoError(t, err)

	// 5000 * 8.25% + 200 = 612.5 -> 613; shipping excluded under BaseProducts.
	assert.Equal(t, money.Cents(5000), stl.GrossAmount)
	assert.Equal(t, money.Cents(613), stl.Commission)
	assert.Equal(t, money.Cents(4387), stl.SettleAmount)
	assert.Equal(t, order.PayoutRequested, stl.Status)
	assert.Equal(t, testAccount, stl.PayoutAccount)
	assert.Equal(t, "8.25", stl.CommissionRate.String())

	// The sub-order transitioned with the insert.
	sub, _ := f.orders.orders["o1"].SubOrderByID("sub1")
	assert.Equal(t, order.PayoutRequested, sub.PayoutStatus)

	assert.Equal(t, 1, f.notifier.calls)
	assert.Equal(t, 1, f.events.calls)
}

func TestRequest_ShippingCommissionable(t *testing.T) {
	f := newFixture(BaseProductsAndShipping)
	f.orders.orders["o1"] = deliveredOrder("o1", "A", "sub1")

	stl, err := f.svc.Request(context.Background(), "A", "o1", "sub1", testAccount)
	require.NoError(t, err)

	// 5300 * 8.25% + 200 = 637.25 -> 637.
	assert.Equal(t, money.Cents(5300), stl.GrossAmount)
	assert.Equal(t, money.Cents(637), stl.Commission)
	assert.Equal(t, money.Cents(4663), stl.SettleAmount)
}

func TestRequest_Duplicate(t *testing.T) {
	f := newFixture(BaseProducts)
	f.orders.orders["o1"] = deliveredOrder("o1", "A", "sub1")

	first, err := f.svc.Request(context.Background(), "A", "o1", "sub1", testAccount)
	require.NoError(t, err)

	_, err = f.svc.Request(context.Background(), "A", "o1", "sub1", testAccount)
	require.ErrorIs(t, err, ErrAlreadyRequested)

	// Exactly one settlement exists.
	stored, err := f.repo.GetByKey(context.Background(), "A", "o1", "sub1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Len(t, f.repo.byKey, 1)
}

func TestRequest_NotEligible(t *testing.T) {
	f := newFixture(BaseProducts)
	o := deliveredOrder("o1", "A", "sub1")
	o.SubOrders[0].DeliveryStatus = order.DeliveryShipped
	f.orders.orders["o1"] = o

	_, err := f.svc.Request(context.Background(), "A", "o1", "sub1", testAccount)
	require.ErrorIs(t, err, ErrNotEligible)
	assert.Zero(t, f.notifier.calls)
}

func TestRequest_WrongStore(t *testing.T) {
	f := newFixture(BaseProducts)
	f.orders.orders["o1"] = deliveredOrder("o1", "A", "sub1")

	_, err := f.svc.Request(context.Background(), "B", "o1", "sub1", testAccount)
	require.ErrorIs(t, err, ErrStoreMismatch)
}

func TestRequest_UnknownOrderAndSubOrder(t *testing.T) {
	f := newFixture(BaseProducts)
	f.orders.orders["o1"] = deliveredOrder("o1", "A", "sub1")

	_, err := f.svc.Request(context.Background(), "A", "missing", "sub1", testAccount)
	require.ErrorIs(t, err, order.ErrNotFound)

	_, err = f.svc.Request(context.Background(), "A", "o1", "missing", testAccount)
	require.ErrorIs(t, err, order.ErrSubOrderNotFound)
}

func TestRequest_NotificationFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(BaseProducts)
	f.orders.orders["o1"] = deliveredOrder("o1", "A", "sub1")
	f.notifier.err = errors.New("webhook unavailable")

	stl, err := f.svc.Request(context.Background(), "A", "o1", "sub1", testAccount)
	require.NoError(t, err)
	assert.NotNil(t, stl)

	_, err = f.repo.GetByKey(context.Background(), "A", "o1", "sub1")
	require.NoError(t, err)
}

func TestBalance(t *testing.T) {
	f := newFixture(BaseProducts)

	pending := deliveredOrder("o1", "A", "sub1").SubOrders[0]
	requested := deliveredOrder("o2", "A", "sub2").SubOrders[0]
	requested.PayoutStatus = order.PayoutRequested
	paid := deliveredOrder("o3", "A", "sub3").SubOrders[0]
	paid.PayoutStatus = order.PayoutPaid
	f.balances.subs = []order.SubOrder{pending, requested, paid}

	bal, err := f.svc.Balance(context.Background(), "A")
	require.NoError(t, err)

	// Each sub-order settles 5000 gross -> 4387 net.
	assert.Equal(t, money.Cents(5000), bal.PendingGross)
	assert.Equal(t, money.Cents(4387), bal.PendingSettle)
	assert.Equal(t, 1, bal.PendingCount)
	assert.Equal(t, money.Cents(4387), bal.RequestedSettle)
}
