package handler

import (
	"net/http"

	"github.com/vendimo/marketplace-core/internal/domain/cart"
	"github.com/vendimo/marketplace-core/internal/domain/catalog"
)

// cartItemReq is one cart line on the wire.
type cartItemReq struct {
	ProductID    string `json:"productId"`
	Kind         string `json:"kind"`
	Quantity     int    `json:"quantity"`
	SelectedSize string `json:"selectedSize,omitempty"`
	DealID       string `json:"dealId,omitempty"`
}

func (c cartItemReq) entry() cart.Entry {
	ref := catalog.PhysicalRef(c.ProductID)
	if c.Kind == string(catalog.KindDigital) {
		ref = catalog.DigitalRef(c.ProductID)
	}
	return cart.Entry{
		Ref:          ref,
		Quantity:     c.Quantity,
		SelectedSize: c.SelectedSize,
		DealID:       c.DealID,
	}
}

type validateCartReq struct {
	Items []cartItemReq `json:"items"`
}

type validateCartResp struct {
	OK     bool         `json:"ok"`
	Errors []cart.Issue `json:"errors,omitempty"`
}

// ValidateCart checks the cart against live catalog and deal state and
// returns every issue found, never just the first.
func (h *Handler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	var req validateCartReq
	if !decodeBody(w, r, &req) {
		return
	}

	entries := make([]cart.Entry, len(req.Items))
	for i, item := range req.Items {
		entries[i] = item.entry()
	}

	issues, err := h.validator.Validate(r.Context(), entries)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateCartResp{
		OK:     len(issues) == 0,
		Errors: issues,
	})
}
