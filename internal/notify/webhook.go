// Package notify delivers settlement notifications to the payout operations
// webhook. Delivery is retried with backoff but stays best-effort: a failed
// notification never rolls back the settlement it describes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vendimo/marketplace-core/internal/domain/money"
	"github.com/vendimo/marketplace-core/internal/domain/settlement"
)

var _ settlement.Notifier = (*Webhook)(nil)

// Webhook posts settlement notifications as JSON to a fixed endpoint.
type Webhook struct {
	url     string
	client  *http.Client
	retries uint64
}

// NewWebhook returns a Webhook notifier for the given endpoint. A nil client
// falls back to a client with a 10s timeout.
func NewWebhook(url string, client *http.Client, retries uint64) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client, retries: retries}
}

type settlementNotification struct {
	Event        string      `json:"event"`
	SettlementID string      `json:"settlementId"`
	StoreID      string      `json:"storeId"`
	OrderID      string      `json:"orderId"`
	SubOrderID   string      `json:"subOrderId"`
	GrossAmount  money.Cents `json:"grossAmount"`
	Commission   money.Cents `json:"commission"`
	SettleAmount money.Cents `json:"settleAmount"`
	BankName     string      `json:"bankName"`
	RequestedAt  time.Time   `json:"requestedAt"`
}

// SettlementRequested posts a settlement.requested notification, retrying
// transient failures with fibonacci backoff.
func (w *Webhook) SettlementRequested(ctx context.Context, s *settlement.Settlement) error {
	body, err := json.Marshal(settlementNotification{
		Event:        "settlement.requested",
		SettlementID: s.ID,
		StoreID:      s.StoreID,
		OrderID:      s.OrderID,
		SubOrderID:   s.SubOrderID,
		GrossAmount:  s.GrossAmount,
		Commission:   s.Commission,
		SettleAmount: s.SettleAmount,
		BankName:     s.PayoutAccount.BankName,
		RequestedAt:  s.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	backoff := retry.WithMaxRetries(w.retries, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		return w.post(ctx, body)
	})
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		// Server-side failures are worth retrying; 4xx means the payload
		// itself is rejected and retrying cannot help.
		return retry.RetryableError(fmt.Errorf("notification endpoint returned %s", resp.Status))
	default:
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
}
