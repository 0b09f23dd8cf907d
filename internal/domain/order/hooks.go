package order

import "context"

// Hook observes order lifecycle events.
//
// BeforeRecalculate, AfterRecalculate and BeforeComplete run synchronously
// inside the unit of work; returning an error vetoes the operation and rolls
// it back. AfterComplete runs after the completion has been committed, so its
// errors are logged and never undo the completion.
type Hook interface {
	BeforeRecalculate(ctx context.Context, o *Order) error
	AfterRecalculate(ctx context.Context, o *Order) error
	BeforeComplete(ctx context.Context, o *Order) error
	AfterComplete(ctx context.Context, o *Order) error
}

// NopHook implements Hook with no-ops. Embed it to implement a subset.
type NopHook struct{}

func (NopHook) BeforeRecalculate(context.Context, *Order) error { return nil }
func (NopHook) AfterRecalculate(context.Context, *Order) error  { return nil }
func (NopHook) BeforeComplete(context.Context, *Order) error    { return nil }
func (NopHook) AfterComplete(context.Context, *Order) error     { return nil }

var _ Hook = NopHook{}
