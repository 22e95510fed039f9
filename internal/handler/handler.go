// Package handler exposes the marketplace API over HTTP. It converts wire
// requests to domain calls and maps domain errors to status codes; business
// rules live in the domain services.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vendimo/marketplace-core/internal/domain/cart"
	"github.com/vendimo/marketplace-core/internal/domain/order"
	"github.com/vendimo/marketplace-core/internal/domain/settlement"
)

// Handler holds the domain services behind the HTTP API.
type Handler struct {
	validator   *cart.Validator
	orders      *order.Service
	settlements *settlement.Service
	security    *Security
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	validator *cart.Validator,
	orders *order.Service,
	settlements *settlement.Service,
	security *Security,
) *Handler {
	return &Handler{
		validator:   validator,
		orders:      orders,
		settlements: settlements,
		security:    security,
	}
}

// Routes returns the API router. Store-facing settlement endpoints require an
// API key; buyer-facing cart and order endpoints do not.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/api/cart/validate", h.ValidateCart)
	r.Post("/api/orders", h.CreateOrder)
	r.Get("/api/orders/{orderID}", h.GetOrder)

	r.Group(func(r chi.Router) {
		r.Use(h.security.RequireAPIKey)
		r.Post("/api/orders/{orderID}/sub-orders/{subOrderID}/delivery-status", h.UpdateDeliveryStatus)
		r.Post("/api/settlements", h.RequestSettlement)
		r.Get("/api/stores/{storeID}/settlements", h.ListSettlements)
		r.Get("/api/stores/{storeID}/balance", h.StoreBalance)
	})

	return r
}

// errorResponse is the common error envelope.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// writeInternalError logs the cause and responds with an opaque 500.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed",
		zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
