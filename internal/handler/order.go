package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/vendimo/marketplace-core/internal/domain/cart"
	"github.com/vendimo/marketplace-core/internal/domain/deal"
	"github.com/vendimo/marketplace-core/internal/domain/money"
	"github.com/vendimo/marketplace-core/internal/domain/order"
)

type createOrderReq struct {
	UserID           string                          `json:"userId"`
	Items            []cartItemReq                   `json:"items"`
	Shipping         map[string]order.ShippingMethod `json:"shipping"`
	PostalCode       string                          `json:"postalCode,omitempty"`
	ShippingAddress  string                          `json:"shippingAddress,omitempty"`
	PaymentMethod    string                          `json:"paymentMethod,omitempty"`
	PaymentReference string                          `json:"paymentReference"`
}

// CreateOrder validates the cart, splits it per store, and persists a new
// order. Validation failures come back as 422 with the complete issue list.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if !decodeBody(w, r, &req) {
		return
	}

	entries := make([]cart.Entry, len(req.Items))
	for i, item := range req.Items {
		entries[i] = item.entry()
	}

	o, err := h.orders.Create(r.Context(), order.CreateOrderRequest{
		UserID:           req.UserID,
		Entries:          entries,
		Shipping:         req.Shipping,
		PostalCode:       req.PostalCode,
		ShippingAddress:  req.ShippingAddress,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, orderToResp(o))
}

// GetOrder returns an order with all its sub-orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResp(o))
}

type updateDeliveryReq struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
}

// UpdateDeliveryStatus transitions one sub-order's delivery status. Illegal
// transitions are rejected with 409 and do not touch sibling sub-orders.
func (h *Handler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var req updateDeliveryReq
	if !decodeBody(w, r, &req) {
		return
	}

	orderID := chi.URLParam(r, "orderID")
	subOrderID := chi.URLParam(r, "subOrderID")

	err := h.orders.UpdateDelivery(r.Context(), orderID, subOrderID,
		order.DeliveryStatus(req.Status), req.TrackingNumber)
	if err != nil {
		var transitionErr *order.InvalidTransitionError
		switch {
		case errors.As(err, &transitionErr):
			writeError(w, http.StatusConflict, transitionErr.Error())
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrSubOrderNotFound):
			writeError(w, http.StatusNotFound, "sub-order not found")
		default:
			writeInternalError(w, r, err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *order.ValidationError
		shippingErr   *order.MissingShippingError
	)
	switch {
	case errors.Is(err, order.ErrPaymentRequired):
		writeError(w, http.StatusBadRequest, "payment reference is required")
	case errors.Is(err, order.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "cart is empty")
	case errors.As(err, &shippingErr):
		writeError(w, http.StatusBadRequest, shippingErr.Error())
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, validateCartResp{
			OK:     false,
			Errors: validationErr.Issues,
		})
	default:
		writeInternalError(w, r, err)
	}
}

// Wire representations. Domain aggregates stay tag-free; the response shape
// is owned here.

type lineItemResp struct {
	ProductID     string         `json:"productId"`
	Kind          string         `json:"kind"`
	StoreID       string         `json:"storeId"`
	Quantity      int            `json:"quantity"`
	FreeQuantity  int            `json:"freeQuantity,omitempty"`
	PriceAtOrder  money.Cents    `json:"priceAtOrder"`
	OriginalPrice money.Cents    `json:"originalPrice"`
	SelectedSize  string         `json:"selectedSize,omitempty"`
	Deal          *deal.Snapshot `json:"deal,omitempty"`
	LineTotal     money.Cents    `json:"lineTotal"`
}

type subOrderResp struct {
	ID               string               `json:"id"`
	StoreID          string               `json:"storeId"`
	Items            []lineItemResp       `json:"items"`
	TotalAmount      money.Cents          `json:"totalAmount"`
	OriginalSubtotal money.Cents          `json:"originalSubtotal"`
	Savings          money.Cents          `json:"savings"`
	AppliedDeals     []deal.Snapshot      `json:"appliedDeals,omitempty"`
	Shipping         order.ShippingMethod `json:"shipping"`
	TrackingNumber   string               `json:"trackingNumber,omitempty"`
	DeliveryDate     *time.Time           `json:"deliveryDate,omitempty"`
	DeliveryStatus   string               `json:"deliveryStatus"`
	PayoutStatus     string               `json:"payoutStatus,omitempty"`
}

type orderResp struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	StoreIDs         []string       `json:"storeIds"`
	SubOrders        []subOrderResp `json:"subOrders"`
	TotalAmount      money.Cents    `json:"totalAmount"`
	TotalSavings     money.Cents    `json:"totalSavings"`
	Status           string         `json:"status"`
	PostalCode       string         `json:"postalCode,omitempty"`
	ShippingAddress  string         `json:"shippingAddress,omitempty"`
	PaymentMethod    string         `json:"paymentMethod,omitempty"`
	PaymentStatus    string         `json:"paymentStatus"`
	PaymentReference string         `json:"paymentReference"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func orderToResp(o *order.Order) orderResp {
	subs := make([]subOrderResp, len(o.SubOrders))
	for i := range o.SubOrders {
		sub := &o.SubOrders[i]
		items := make([]lineItemResp, len(sub.Items))
		for j, li := range sub.Items {
			items[j] = lineItemResp{
				ProductID:     li.Ref.ID,
				Kind:          string(li.Ref.Kind),
				StoreID:       li.StoreID,
				Quantity:      li.Quantity,
				FreeQuantity:  li.FreeQuantity,
				PriceAtOrder:  li.PriceAtOrder,
				OriginalPrice: li.OriginalPrice,
				SelectedSize:  li.SelectedSize,
				Deal:          li.Deal,
				LineTotal:     li.LineTotal(),
			}
		}
		subs[i] = subOrderResp{
			ID:               sub.ID,
			StoreID:          sub.StoreID,
			Items:            items,
			TotalAmount:      sub.TotalAmount,
			OriginalSubtotal: sub.OriginalSubtotal,
			Savings:          sub.Savings,
			AppliedDeals:     sub.AppliedDeals,
			Shipping:         sub.Shipping,
			TrackingNumber:   sub.TrackingNumber,
			DeliveryDate:     sub.DeliveryDate,
			DeliveryStatus:   string(sub.DeliveryStatus),
			PayoutStatus:     string(sub.PayoutStatus),
		}
	}

	return orderResp{
		ID:               o.ID,
		UserID:           o.UserID,
		StoreIDs:         o.StoreIDs,
		SubOrders:        subs,
		TotalAmount:      o.TotalAmount,
		TotalSavings:     o.TotalSavings,
		Status:           o.Status,
		PostalCode:       o.PostalCode,
		ShippingAddress:  o.ShippingAddress,
		PaymentMethod:    o.PaymentMethod,
		PaymentStatus:    o.PaymentStatus,
		PaymentReference: o.PaymentReference,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}
