// Package events publishes order and settlement lifecycle events to Kafka.
// Publishing is best-effort: callers log failures and continue.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/vendimo/marketplace-core/internal/domain/money"
	"github.com/vendimo/marketplace-core/internal/domain/order"
	"github.com/vendimo/marketplace-core/internal/domain/settlement"
)

// Event type names carried in the message payload.
const (
	TypeOrderCreated        = "order.created"
	TypeSettlementRequested = "settlement.requested"
)

var (
	_ order.Publisher      = (*Producer)(nil)
	_ settlement.Publisher = (*Producer)(nil)
)

// Producer writes marketplace events to a single Kafka topic, keyed so all
// events of one order land in the same partition.
type Producer struct {
	w *kafka.Writer
}

// NewProducer returns a Producer writing to topic on the given brokers.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.w.Close()
}

type orderCreatedEvent struct {
	Type         string        `json:"type"`
	OrderID      string        `json:"orderId"`
	UserID       string        `json:"userId"`
	StoreIDs     []string      `json:"storeIds"`
	TotalAmount  money.Cents   `json:"totalAmount"`
	TotalSavings money.Cents   `json:"totalSavings"`
	SubOrders    []subOrderRef `json:"subOrders"`
	OccurredAt   time.Time     `json:"occurredAt"`
}

type subOrderRef struct {
	ID          string      `json:"id"`
	StoreID     string      `json:"storeId"`
	TotalAmount money.Cents `json:"totalAmount"`
}

// OrderCreated publishes an order.created event keyed by order id.
func (p *Producer) OrderCreated(ctx context.Context, o *order.Order) error {
	ev := orderCreatedEvent{
		Type:         TypeOrderCreated,
		OrderID:      o.ID,
		UserID:       o.UserID,
		StoreIDs:     o.StoreIDs,
		TotalAmount:  o.TotalAmount,
		TotalSavings: o.TotalSavings,
		SubOrders:    make([]subOrderRef, len(o.SubOrders)),
		OccurredAt:   o.CreatedAt,
	}
	for i := range o.SubOrders {
		sub := &o.SubOrders[i]
		ev.SubOrders[i] = subOrderRef{ID: sub.ID, StoreID: sub.StoreID, TotalAmount: sub.TotalAmount}
	}
	return p.publish(ctx, o.ID, ev)
}

type settlementRequestedEvent struct {
	Type         string      `json:"type"`
	SettlementID string      `json:"settlementId"`
	StoreID      string      `json:"storeId"`
	OrderID      string      `json:"orderId"`
	SubOrderID   string      `json:"subOrderId"`
	GrossAmount  money.Cents `json:"grossAmount"`
	Commission   money.Cents `json:"commission"`
	SettleAmount money.Cents `json:"settleAmount"`
	OccurredAt   time.Time   `json:"occurredAt"`
}

// SettlementRequested publishes a settlement.requested event keyed by order id.
func (p *Producer) SettlementRequested(ctx context.Context, s *settlement.Settlement) error {
	ev := settlementRequestedEvent{
		Type:         TypeSettlementRequested,
		SettlementID: s.ID,
		StoreID:      s.StoreID,
		OrderID:      s.OrderID,
		SubOrderID:   s.SubOrderID,
		GrossAmount:  s.GrossAmount,
		Commission:   s.Commission,
		SettleAmount: s.SettleAmount,
		OccurredAt:   s.CreatedAt,
	}
	return p.publish(ctx, s.OrderID, ev)
}

func (p *Producer) publish(ctx context.Context, key string, ev any) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return errors.Wrap(err, "write event")
	}
	return nil
}
