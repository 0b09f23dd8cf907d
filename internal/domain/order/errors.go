package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors wrapped by the typed errors below.
var (
	ErrUnsavedOrder       = errors.New("order has not been saved")
	ErrOrderCompleted     = errors.New("order is completed")
	ErrFieldOwnership     = errors.New("adjuster wrote a field it does not own")
	ErrNoDefaultStatus    = errors.New("no default order status")
	ErrInvalidQuantity    = errors.New("quantity must be greater than 0")
	ErrPurchasableMissing = errors.New("purchasable not found")
)

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports an entity that failed field constraints. It is
// surfaced to the caller and never retried automatically.
type ValidationError struct {
	Entity string
	ID     string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("invalid %s %s: %s", e.Entity, e.ID, strings.Join(parts, "; "))
}

// ValidationErrors aggregates the validation failures of one operation.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "\n")
}

// Unwrap exposes the individual errors to errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, v := range e {
		errs[i] = v
	}
	return errs
}

// NotFoundError reports a missing order, line item, transaction or
// purchasable.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConsistencyError rejects an operation that would break an invariant, such
// as recalculating a completed order or mutating a terminal transaction.
type ConsistencyError struct {
	Op  string
	Err error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }
