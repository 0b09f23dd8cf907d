package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

// Catalog exposes products as purchasables to the order engine.
type Catalog struct {
	repo Repository
}

// NewCatalog creates a Catalog backed by repo.
func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

var _ order.Purchasables = (*Catalog)(nil)

// Resolve returns the current snapshot of a product. Missing and disabled
// products resolve to ok == false.
func (c *Catalog) Resolve(ctx context.Context, id string) (*order.Snapshot, bool, error) {
	p, err := c.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get product")
	}
	if !p.Enabled {
		return nil, false, nil
	}
	return Snapshot(p), true, nil
}

// ValidateLineItem checks quantity limits and stock.
func (c *Catalog) ValidateLineItem(ctx context.Context, li *order.LineItem) ([]order.FieldError, error) {
	p, err := c.repo.GetByID(ctx, li.PurchasableID)
	if errors.Is(err, ErrNotFound) {
		return []order.FieldError{{Field: "purchasableId", Message: "is not available"}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}

	var errs []order.FieldError
	if !p.Enabled {
		errs = append(errs, order.FieldError{Field: "purchasableId", Message: "is not available"})
	}
	if p.MinQty > 0 && li.Qty < p.MinQty {
		errs = append(errs, order.FieldError{Field: "qty", Message: fmt.Sprintf("must be at least %d", p.MinQty)})
	}
	if p.MaxQty > 0 && li.Qty > p.MaxQty {
		errs = append(errs, order.FieldError{Field: "qty", Message: fmt.Sprintf("must be at most %d", p.MaxQty)})
	}
	if p.Stock != nil && li.Qty > *p.Stock {
		errs = append(errs, order.FieldError{Field: "qty", Message: fmt.Sprintf("only %d in stock", *p.Stock)})
	}
	return errs, nil
}

// Snapshot converts a product into the snapshot stored on line items.
func Snapshot(p *Product) *order.Snapshot {
	return &order.Snapshot{
		PurchasableID: p.ID,
		SKU:           p.SKU,
		Description:   p.Name,
		Category:      p.Category,
		Price:         p.Price,
		SalePrice:     p.SalePrice,
		Weight:        p.Weight,
		TaxCategoryID: p.TaxCategoryID,
		MinQty:        p.MinQty,
		MaxQty:        p.MaxQty,
	}
}
