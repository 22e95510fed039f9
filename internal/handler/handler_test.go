package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendimo/marketplace-core/internal/domain/auth"
	"github.com/vendimo/marketplace-core/internal/domain/cart"
	"github.com/vendimo/marketplace-core/internal/domain/catalog"
	"github.com/vendimo/marketplace-core/internal/domain/commission"
	"github.com/vendimo/marketplace-core/internal/domain/deal"
	"github.com/vendimo/marketplace-core/internal/domain/order"
	"github.com/vendimo/marketplace-core/internal/domain/settlement"
)

// --- Mock implementations ---

type mockCatalog struct {
	byID map[string]catalog.Product
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockDeals struct{}

func (m *mockDeals) GetByID(_ context.Context, _ string) (*deal.Deal, error) {
	return nil, deal.ErrNotFound
}

func (m *mockDeals) Consume(_ context.Context, _ string, _ int) error { return nil }

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

func (m *mockOrderRepo) UpdateSubOrderDelivery(_ context.Context, orderID, subOrderID string, _, to order.DeliveryStatus, tracking string, deliveredAt *time.Time) error {
	o, ok := m.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	sub, ok := o.SubOrderByID(subOrderID)
	if !ok {
		return order.ErrSubOrderNotFound
	}
	sub.DeliveryStatus = to
	sub.TrackingNumber = tracking
	sub.DeliveryDate = deliveredAt
	return nil
}

func (m *mockOrderRepo) ListDeliveredSubOrders(_ context.Context, storeID string) ([]order.SubOrder, error) {
	var out []order.SubOrder
	for _, o := range m.orders {
		for _, sub := range o.SubOrders {
			if sub.StoreID == storeID && sub.DeliveryStatus == order.DeliveryDelivered {
				out = append(out, sub)
			}
		}
	}
	return out, nil
}

type mockSettlementRepo struct {
	byKey map[string]*settlement.Settlement
}

func settlementKey(storeID, orderID, subOrderID string) string {
	return storeID + "/" + orderID + "/" + subOrderID
}

func (m *mockSettlementRepo) CreateRequested(_ context.Context, s *settlement.Settlement) error {
	key := settlementKey(s.StoreID, s.OrderID, s.SubOrderID)
	if _, ok := m.byKey[key]; ok {
		return settlement.ErrAlreadyRequested
	}
	m.byKey[key] = s
	return nil
}

func (m *mockSettlementRepo) GetByKey(_ context.Context, storeID, orderID, subOrderID string) (*settlement.Settlement, error) {
	s, ok := m.byKey[settlementKey(storeID, orderID, subOrderID)]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	return s, nil
}

func (m *mockSettlementRepo) ListByStore(_ context.Context, storeID string) ([]settlement.Settlement, error) {
	var out []settlement.Settlement
	for _, s := range m.byKey {
		if s.StoreID == storeID {
			out = append(out, *s)
		}
	}
	return out, nil
}

// mockKeyRepo accepts any presented key and binds it to a store.
type mockKeyRepo struct {
	storeID string
}

func (m *mockKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	return &auth.APIKeyInfo{ID: "k1", KeyHash: hash, StoreID: m.storeID}, nil
}

type nopPublisher struct{}

func (nopPublisher) OrderCreated(context.Context, *order.Order) error { return nil }

func (nopPublisher) SettlementRequested(context.Context, *settlement.Settlement) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) SettlementRequested(context.Context, *settlement.Settlement) error {
	return nil
}

// --- Helpers ---

type fixture struct {
	handler   http.Handler
	orderRepo *mockOrderRepo
}

func newFixture(t *testing.T, keyStoreID string) *fixture {
	t.Helper()

	cat := &mockCatalog{byID: map[string]catalog.Product{
		"p1": {ID: "p1", StoreID: "store-a", Kind: catalog.KindPhysical, Price: 2500, Quantity: 10},
		"p2": {ID: "p2", StoreID: "store-b", Kind: catalog.KindPhysical, Price: 1000, Quantity: 5},
	}}
	deals := &mockDeals{}
	orderRepo := &mockOrderRepo{orders: make(map[string]*order.Order)}
	settlementRepo := &mockSettlementRepo{byKey: make(map[string]*settlement.Settlement)}

	validator := cart.NewValidator(cat, deals)
	orderService := order.NewService(cat, deals, validator, orderRepo, nopPublisher{})
	settlementService := settlement.NewService(
		orderRepo, settlementRepo, orderRepo,
		commission.NewCalculator(commission.DefaultConfig()),
		settlement.BaseProducts,
		nopNotifier{}, nopPublisher{},
	)

	h := NewHandler(validator, orderService, settlementService,
		NewSecurity(&mockKeyRepo{storeID: keyStoreID}, []byte("pepper")))
	return &fixture{handler: h.Routes(), orderRepo: orderRepo}
}

func (f *fixture) do(t *testing.T, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

// placeOrder creates an order through the API and returns its decoded body.
func (f *fixture) placeOrder(t *testing.T) orderResp {
	t.Helper()

	w := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"userId": "u1",
		"items": []map[string]any{
			{"productId": "p1", "kind": "physical", "quantity": 2},
		},
		"shipping": map[string]any{
			"store-a": map[string]any{"name": "Standard", "price": 300, "estimatedDays": "3-5"},
		},
		"paymentReference": "pay_42",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp orderResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// deliver walks one sub-order to Delivered directly through the repository.
func (f *fixture) deliver(t *testing.T, orderID, subOrderID string) {
	t.Helper()
	o := f.orderRepo.orders[orderID]
	sub, ok := o.SubOrderByID(subOrderID)
	require.True(t, ok)
	sub.DeliveryStatus = order.DeliveryDelivered
}

// --- Tests ---

func TestValidateCart(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/cart/validate", map[string]any{
		"items": []map[string]any{
			{"productId": "p1", "kind": "physical", "quantity": 2},
		},
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp validateCartResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.OK)
	assert.Empty(t, resp.Errors)
}

func TestValidateCart_ReportsAllIssues(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/cart/validate", map[string]any{
		"items": []map[string]any{
			{"productId": "p1", "kind": "physical", "quantity": 100},
			{"productId": "ghost", "kind": "physical", "quantity": 1},
		},
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp validateCartResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.OK)
	assert.Len(t, resp.Errors, 2)
}

func TestCreateOrder_MissingPaymentReference(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"userId": "u1",
		"items": []map[string]any{
			{"productId": "p1", "kind": "physical", "quantity": 1},
		},
		"shipping": map[string]any{
			"store-a": map[string]any{"name": "Standard", "price": 300},
		},
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_ValidationIssuesAs422(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"userId": "u1",
		"items": []map[string]any{
			{"productId": "p1", "kind": "physical", "quantity": 100},
		},
		"shipping": map[string]any{
			"store-a": map[string]any{"name": "Standard", "price": 300},
		},
		"paymentReference": "pay_42",
	}, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp validateCartResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.OK)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, cart.IssueInsufficientStock, resp.Errors[0].Code)
}

func TestCreateAndGetOrder(t *testing.T) {
	f := newFixture(t, "")

	created := f.placeOrder(t)
	require.Len(t, created.SubOrders, 1)
	assert.EqualValues(t, 5300, created.TotalAmount)
	assert.Equal(t, "Order Placed", created.SubOrders[0].DeliveryStatus)

	w := f.do(t, http.MethodGet, "/api/orders/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got orderResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.TotalAmount, got.TotalAmount)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodGet, "/api/orders/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateDeliveryStatus_IllegalTransition(t *testing.T) {
	f := newFixture(t, "")
	created := f.placeOrder(t)
	sub := created.SubOrders[0]

	path := "/api/orders/" + created.ID + "/sub-orders/" + sub.ID + "/delivery-status"
	w := f.do(t, http.MethodPost, path, map[string]any{"status": "Delivered"}, "key")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdateDeliveryStatus_ValidTransition(t *testing.T) {
	f := newFixture(t, "")
	created := f.placeOrder(t)
	sub := created.SubOrders[0]

	path := "/api/orders/" + created.ID + "/sub-orders/" + sub.ID + "/delivery-status"
	w := f.do(t, http.MethodPost, path, map[string]any{"status": "Processing"}, "key")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestSettlement_Flow(t *testing.T) {
	f := newFixture(t, "")
	created := f.placeOrder(t)
	sub := created.SubOrders[0]

	body := map[string]any{
		"storeId":    "store-a",
		"orderId":    created.ID,
		"subOrderId": sub.ID,
		"payoutAccount": map[string]any{
			"bankName": "First Bank", "accountName": "Store A", "accountNumber": "0001",
		},
	}

	// Not yet delivered.
	w := f.do(t, http.MethodPost, "/api/settlements", body, "key")
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	f.deliver(t, created.ID, sub.ID)

	w = f.do(t, http.MethodPost, "/api/settlements", body, "key")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp settlementResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	// 2 x 2500 product subtotal: 8.25% + flat fee 2.00 = 6.13.
	assert.EqualValues(t, 5000, resp.GrossAmount)
	assert.EqualValues(t, 613, resp.Commission)
	assert.EqualValues(t, 4387, resp.SettleAmount)

	// Duplicate request comes back 409 with the original record.
	w = f.do(t, http.MethodPost, "/api/settlements", body, "key")
	require.Equal(t, http.StatusConflict, w.Code)

	var dup settlementResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&dup))
	assert.Equal(t, resp.ID, dup.ID)
	assert.EqualValues(t, 4387, dup.SettleAmount)
}

func TestRequestSettlement_RequiresAPIKey(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/settlements", map[string]any{}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestSettlement_StoreBoundKey(t *testing.T) {
	f := newFixture(t, "store-b")
	created := f.placeOrder(t)
	sub := created.SubOrders[0]

	w := f.do(t, http.MethodPost, "/api/settlements", map[string]any{
		"storeId":    "store-a",
		"orderId":    created.ID,
		"subOrderId": sub.ID,
	}, "key")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStoreBalance(t *testing.T) {
	f := newFixture(t, "")
	created := f.placeOrder(t)
	f.deliver(t, created.ID, created.SubOrders[0].ID)

	w := f.do(t, http.MethodGet, "/api/stores/store-a/balance", nil, "key")
	require.Equal(t, http.StatusOK, w.Code)

	var resp storeBalanceResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "store-a", resp.StoreID)
	assert.EqualValues(t, 5000, resp.PendingGross)
	assert.EqualValues(t, 4387, resp.PendingSettle)
	assert.Equal(t, 1, resp.PendingCount)
}
