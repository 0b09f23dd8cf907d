package payment

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrDeclined is returned when a gateway declines a transaction.
	ErrDeclined = errors.New("payment declined")
	// ErrInvalidTransition rejects a status change the lifecycle forbids,
	// such as mutating a terminal transaction.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
	// ErrNotCapturable is returned when capturing anything but a successful
	// authorization, or one already captured.
	ErrNotCapturable = errors.New("transaction cannot be captured")
	// ErrNotRefundable is returned when refunding anything but a successful
	// purchase or capture, or one already refunded.
	ErrNotRefundable = errors.New("transaction cannot be refunded")
	// ErrMethodUnavailable is returned for disabled payment methods.
	ErrMethodUnavailable = errors.New("payment method unavailable")
)

// GatewayError reports a network or protocol failure talking to a gateway.
// Error returns a message safe to show to customers; the cause is available
// through Unwrap and is recorded on the transaction.
type GatewayError struct {
	Gateway string
	Op      string
	Err     error
}

func (e *GatewayError) Error() string {
	return "payment could not be processed, please try again"
}

// Detail describes the failure for logs.
func (e *GatewayError) Detail() string {
	return fmt.Sprintf("%s %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
