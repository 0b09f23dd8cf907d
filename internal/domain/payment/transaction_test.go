package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRedirect, true},
		{StatusPending, StatusSuccess, true},
		{StatusPending, StatusFailed, true},
		{StatusRedirect, StatusSuccess, true},
		{StatusRedirect, StatusFailed, true},
		{StatusRedirect, StatusPending, false},
		{StatusRedirect, StatusRedirect, false},
		{StatusSuccess, StatusFailed, false},
		{StatusSuccess, StatusPending, false},
		{StatusFailed, StatusSuccess, false},
		{StatusFailed, StatusRedirect, false},
		{StatusPending, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRedirect.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestTransaction_Transition(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tx := &Transaction{ID: "t1", Status: StatusPending}

	require.NoError(t, tx.transition(StatusRedirect, now))
	assert.Equal(t, StatusRedirect, tx.Status)
	assert.Equal(t, now, tx.UpdatedAt)

	require.NoError(t, tx.transition(StatusSuccess, now.Add(time.Minute)))

	err := tx.transition(StatusFailed, now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrInvalidTransition)
	var ce *order.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StatusSuccess, tx.Status)
	assert.Equal(t, now.Add(time.Minute), tx.UpdatedAt)
}

func TestNewHash(t *testing.T) {
	a, b := newHash(), newHash()
	assert.Len(t, a, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", a)
	assert.NotEqual(t, a, b)
}

type nopGateway struct{}

func (nopGateway) Authorize(context.Context, Request) (*Response, error)         { return &Response{}, nil }
func (nopGateway) Purchase(context.Context, Request) (*Response, error)          { return &Response{}, nil }
func (nopGateway) Capture(context.Context, Request) (*Response, error)           { return &Response{}, nil }
func (nopGateway) Refund(context.Context, Request) (*Response, error)            { return &Response{}, nil }
func (nopGateway) CompleteAuthorize(context.Context, Request) (*Response, error) { return &Response{}, nil }
func (nopGateway) CompletePurchase(context.Context, Request) (*Response, error)  { return &Response{}, nil }

func TestRegistry(t *testing.T) {
	_, err := NewRegistry(nil)
	require.Error(t, err)

	_, err = NewRegistry(map[string]Gateway{" ": nopGateway{}})
	require.Error(t, err)

	r, err := NewRegistry(map[string]Gateway{"Stripe": nopGateway{}})
	require.NoError(t, err)

	g, err := r.Get(" STRIPE ")
	require.NoError(t, err)
	assert.NotNil(t, g)

	_, err = r.Get("paypal")
	require.ErrorIs(t, err, ErrUnsupportedGateway)
}

func TestGatewayError(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &GatewayError{Gateway: "stripe", Op: "purchase", Err: cause}

	assert.Equal(t, "payment could not be processed, please try again", err.Error())
	assert.NotContains(t, err.Error(), "deadline")
	assert.Contains(t, err.Detail(), "deadline")
	assert.ErrorIs(t, err, cause)
}
