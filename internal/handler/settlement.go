package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/vendimo/marketplace-core/internal/domain/money"
	"github.com/vendimo/marketplace-core/internal/domain/order"
	"github.com/vendimo/marketplace-core/internal/domain/settlement"
)

type requestSettlementReq struct {
	StoreID       string                 `json:"storeId"`
	OrderID       string                 `json:"orderId"`
	SubOrderID    string                 `json:"subOrderId"`
	PayoutAccount settlement.BankAccount `json:"payoutAccount"`
}

// RequestSettlement creates a payout request for a delivered sub-order.
// Duplicates come back as 409, undelivered sub-orders as 412.
func (h *Handler) RequestSettlement(w http.ResponseWriter, r *http.Request) {
	var req requestSettlementReq
	if !decodeBody(w, r, &req) {
		return
	}
	if !authorizeStore(r, req.StoreID) {
		writeError(w, http.StatusForbidden, "api key is not authorized for this store")
		return
	}

	stl, err := h.settlements.Request(r.Context(), req.StoreID, req.OrderID, req.SubOrderID, req.PayoutAccount)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrAlreadyRequested):
			// Answer duplicates with the original record when we can find it.
			if existing, lookupErr := h.settlements.Existing(r.Context(), req.StoreID, req.OrderID, req.SubOrderID); lookupErr == nil {
				writeJSON(w, http.StatusConflict, settlementToResp(existing))
				return
			}
			writeError(w, http.StatusConflict, "settlement already requested")
		case errors.Is(err, settlement.ErrNotEligible):
			writeError(w, http.StatusPreconditionFailed, err.Error())
		case errors.Is(err, settlement.ErrStoreMismatch):
			writeError(w, http.StatusForbidden, "sub-order belongs to a different store")
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrSubOrderNotFound):
			writeError(w, http.StatusNotFound, "sub-order not found")
		default:
			writeInternalError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, settlementToResp(stl))
}

// ListSettlements returns a store's settlements, newest first.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !authorizeStore(r, storeID) {
		writeError(w, http.StatusForbidden, "api key is not authorized for this store")
		return
	}

	list, err := h.settlements.ListByStore(r.Context(), storeID)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	resp := make([]settlementResp, len(list))
	for i := range list {
		resp[i] = settlementToResp(&list[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

type storeBalanceResp struct {
	StoreID         string      `json:"storeId"`
	PendingGross    money.Cents `json:"pendingGross"`
	PendingSettle   money.Cents `json:"pendingSettle"`
	RequestedSettle money.Cents `json:"requestedSettle"`
	PendingCount    int         `json:"pendingCount"`
}

// StoreBalance returns the store's pending payout balance, aggregated at
// read time over delivered sub-orders.
func (h *Handler) StoreBalance(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !authorizeStore(r, storeID) {
		writeError(w, http.StatusForbidden, "api key is not authorized for this store")
		return
	}

	bal, err := h.settlements.Balance(r.Context(), storeID)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, storeBalanceResp{
		StoreID:         bal.StoreID,
		PendingGross:    bal.PendingGross,
		PendingSettle:   bal.PendingSettle,
		RequestedSettle: bal.RequestedSettle,
		PendingCount:    bal.PendingCount,
	})
}

type settlementResp struct {
	ID             string                 `json:"id"`
	StoreID        string                 `json:"storeId"`
	OrderID        string                 `json:"orderId"`
	SubOrderID     string                 `json:"subOrderId"`
	GrossAmount    money.Cents            `json:"grossAmount"`
	Commission     money.Cents            `json:"commission"`
	CommissionRate string                 `json:"commissionRate"`
	SettleAmount   money.Cents            `json:"settleAmount"`
	PayoutAccount  settlement.BankAccount `json:"payoutAccount"`
	Status         string                 `json:"status"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

func settlementToResp(s *settlement.Settlement) settlementResp {
	return settlementResp{
		ID:             s.ID,
		StoreID:        s.StoreID,
		OrderID:        s.OrderID,
		SubOrderID:     s.SubOrderID,
		GrossAmount:    s.GrossAmount,
		Commission:     s.Commission,
		CommissionRate: s.CommissionRate.String(),
		SettleAmount:   s.SettleAmount,
		PayoutAccount:  s.PayoutAccount,
		Status:         string(s.Status),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
