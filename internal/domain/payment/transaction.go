// Package payment models gateway operations as persisted transactions with a
// forward-only status lifecycle and reconciles the paid state of orders.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

// Type is the gateway operation a transaction records.
type Type string

// Transaction types.
const (
	TypeAuthorize Type = "authorize"
	TypeCapture   Type = "capture"
	TypePurchase  Type = "purchase"
	TypeRefund    Type = "refund"
)

// Status is the lifecycle state of a transaction.
type Status string

// Transaction statuses. Success and failed are terminal.
const (
	StatusPending  Status = "pending"
	StatusRedirect Status = "redirect"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusRedirect, StatusSuccess, StatusFailed},
	StatusRedirect: {StatusSuccess, StatusFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transaction records one gateway call. It is immutable once terminal.
type Transaction struct {
	ID              string
	OrderID         string
	ParentID        string
	PaymentMethodID string
	// Hash re-identifies the transaction when the customer returns from an
	// off-site gateway.
	Hash      string
	Type      Type
	Status    Status
	Amount    decimal.Decimal
	Currency  string
	Reference string
	Code      string
	Message   string
	// Response is the raw gateway payload kept for support and audit.
	Response  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// transition moves the transaction to next or rejects the move.
func (t *Transaction) transition(next Status, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return &order.ConsistencyError{
			Op:  fmt.Sprintf("transaction %s %s -> %s", t.ID, t.Status, next),
			Err: ErrInvalidTransition,
		}
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// Method is a configured payment method backed by a gateway.
type Method struct {
	ID      string
	Name    string
	Gateway string
	// PaymentType is TypeAuthorize or TypePurchase.
	PaymentType Type
	Enabled     bool
}

// Repository persists transactions. Transactions are append-only audit rows.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	Update(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)
	// LockForUpdate and LockByHash hold the row until the unit of work ends.
	LockForUpdate(ctx context.Context, id string) (*Transaction, error)
	LockByHash(ctx context.Context, hash string) (*Transaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Transaction, error)
	ListChildren(ctx context.Context, parentID string) ([]*Transaction, error)
	SumSuccessful(ctx context.Context, orderID string, types ...string) (decimal.Decimal, error)
}

var _ order.PaymentTotals = Repository(nil)

// MethodRepository resolves payment methods.
type MethodRepository interface {
	GetMethod(ctx context.Context, id string) (*Method, error)
}

func newHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
