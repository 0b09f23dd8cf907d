// Package txn defines the unit-of-work boundary shared by the domain services.
package txn

import "context"

// Manager runs functions inside a storage transaction.
//
// A call made with a context that already carries a transaction joins it
// instead of starting a new one, so services compose freely: only the
// outermost InTx commits. Any error returned by fn, or a panic, rolls back the
// whole unit of work.
type Manager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ManagerFunc adapts an ordinary function to the Manager interface.
type ManagerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// InTx calls f(ctx, fn).
func (f ManagerFunc) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}
