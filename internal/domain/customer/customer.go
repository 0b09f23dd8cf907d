// Package customer resolves the current customer, their saved addresses and
// the immutable address copies attached to completed orders.
package customer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrAddressNotFound is returned when an address does not exist.
var ErrAddressNotFound = errors.New("address not found")

// Address is a postal address. Saved addresses belong to a customer;
// snapshots taken on order completion have no owner and are never edited.
type Address struct {
	ID          string
	CustomerID  string
	FirstName   string
	LastName    string
	Address1    string
	Address2    string
	City        string
	ZipCode     string
	CountryCode string
	StateCode   string
	Phone       string
	CreatedAt   time.Time
}

// Repository persists addresses.
type Repository interface {
	GetAddress(ctx context.Context, id string) (*Address, error)
	CreateAddress(ctx context.Context, a *Address) error
	// DefaultAddresses returns the customer's default billing and shipping
	// address ids. Either may be empty.
	DefaultAddresses(ctx context.Context, customerID string) (billingID, shippingID string, err error)
}

type ctxKey struct{}

// WithID returns a context carrying the authenticated customer id.
func WithID(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, customerID)
}

// IDFromContext returns the customer id stored by WithID.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// AddressBook implements the address operations needed by carts and order
// completion.
type AddressBook struct {
	repo Repository
	now  func() time.Time
}

// NewAddressBook creates an AddressBook.
func NewAddressBook(repo Repository) *AddressBook {
	return &AddressBook{repo: repo, now: time.Now}
}

// GetAddress returns an address by id.
func (b *AddressBook) GetAddress(ctx context.Context, id string) (*Address, error) {
	return b.repo.GetAddress(ctx, id)
}

// DefaultAddresses returns the default billing and shipping address ids of a
// customer.
func (b *AddressBook) DefaultAddresses(ctx context.Context, customerID string) (string, string, error) {
	if customerID == "" {
		return "", "", nil
	}
	billing, shipping, err := b.repo.DefaultAddresses(ctx, customerID)
	if err != nil {
		return "", "", errors.Wrap(err, "default addresses")
	}
	return billing, shipping, nil
}

// SnapshotAddress copies an address into a new ownerless row and returns its
// id. Later edits of the source address never reach the copy.
func (b *AddressBook) SnapshotAddress(ctx context.Context, addressID string) (string, error) {
	src, err := b.repo.GetAddress(ctx, addressID)
	if err != nil {
		return "", errors.Wrap(err, "get address")
	}
	cp := *src
	cp.ID = uuid.NewString()
	cp.CustomerID = ""
	cp.CreatedAt = b.now()
	if err := b.repo.CreateAddress(ctx, &cp); err != nil {
		return "", errors.Wrap(err, "create address snapshot")
	}
	return cp.ID, nil
}
