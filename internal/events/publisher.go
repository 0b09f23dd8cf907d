// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

// TypeOrderCompleted is the event type header of completion events.
const TypeOrderCompleted = "order.completed"

// Writer is the subset of *kafka.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LineItems lists the items of an order.
type LineItems interface {
	ListByOrder(ctx context.Context, orderID string) ([]*order.LineItem, error)
}

// NewWriter returns a Kafka writer for topic. Messages of one order share a
// partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// OrderCompleted is the payload of an order.completed event.
type OrderCompleted struct {
	OrderID       string          `json:"orderId"`
	Number        string          `json:"number"`
	Email         string          `json:"email,omitempty"`
	CustomerID    string          `json:"customerId,omitempty"`
	CouponCode    string          `json:"couponCode,omitempty"`
	Currency      string          `json:"currency"`
	ItemTotal     decimal.Decimal `json:"itemTotal"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	TotalPaid     decimal.Decimal `json:"totalPaid"`
	OrderStatusID string          `json:"orderStatusId"`
	CompletedAt   time.Time       `json:"completedAt"`
	Items         []Item          `json:"items"`
}

// Item is a line item of an OrderCompleted event.
type Item struct {
	PurchasableID string          `json:"purchasableId"`
	SKU           string          `json:"sku"`
	Qty           int             `json:"qty"`
	Total         decimal.Decimal `json:"total"`
}

var _ order.Hook = (*Publisher)(nil)

// Publisher emits an order.completed event once an order is completed. It is
// registered as an order hook.
type Publisher struct {
	order.NopHook

	writer  Writer
	items   LineItems
	timeout time.Duration
}

// NewPublisher creates a Publisher writing to w.
func NewPublisher(w Writer, items LineItems) *Publisher {
	return &Publisher{
		writer:  w,
		items:   items,
		timeout: 10 * time.Second,
	}
}

// AfterComplete publishes the completion of o.
func (p *Publisher) AfterComplete(ctx context.Context, o *order.Order) error {
	if o.CompletedAt == nil {
		return nil
	}
	items, err := p.items.ListByOrder(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "list line items")
	}

	ev := OrderCompleted{
		OrderID:       o.ID,
		Number:        o.Number,
		Email:         o.Email,
		CustomerID:    o.CustomerID,
		CouponCode:    o.CouponCode,
		Currency:      o.Currency,
		ItemTotal:     o.ItemTotal,
		TotalPrice:    o.TotalPrice,
		TotalPaid:     o.TotalPaid,
		OrderStatusID: o.OrderStatusID,
		CompletedAt:   o.CompletedAt.UTC(),
		Items:         make([]Item, 0, len(items)),
	}
	for _, li := range items {
		ev.Items = append(ev.Items, Item{
			PurchasableID: li.PurchasableID,
			SKU:           li.Snapshot.SKU,
			Qty:           li.Qty,
			Total:         li.Total,
		})
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	// The request may already be finishing; the event must still go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(o.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeOrderCompleted)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s", TypeOrderCompleted)
	}

	zctx.From(ctx).Info("Event published",
		zap.String("event_type", TypeOrderCompleted),
		zap.String("order_id", o.ID),
	)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
