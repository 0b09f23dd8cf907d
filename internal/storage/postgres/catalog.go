package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/domain/shipping"
	"github.com/xenking/kart-commerce/internal/domain/tax"
)

const productColumns = `id, sku, name, description, price, sale_price, category, weight, tax_category_id,
	min_qty, max_qty, stock, enabled, image_thumbnail, image_mobile, image_tablet, image_desktop`

const (
	listProductsSQL     = `SELECT ` + productColumns + ` FROM products ORDER BY id`
	getProductByIDSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET sku = EXCLUDED.sku, name = EXCLUDED.name, description = EXCLUDED.description,
			price = EXCLUDED.price, sale_price = EXCLUDED.sale_price, category = EXCLUDED.category,
			weight = EXCLUDED.weight, tax_category_id = EXCLUDED.tax_category_id,
			min_qty = EXCLUDED.min_qty, max_qty = EXCLUDED.max_qty, stock = EXCLUDED.stock, enabled = EXCLUDED.enabled,
			image_thumbnail = EXCLUDED.image_thumbnail, image_mobile = EXCLUDED.image_mobile,
			image_tablet = EXCLUDED.image_tablet, image_desktop = EXCLUDED.image_desktop`
)

var (
	_ product.Repository  = (*ProductRepository)(nil)
	_ customer.Repository = (*AddressRepository)(nil)
	_ shipping.Repository = (*ShippingRepository)(nil)
	_ tax.Repository      = (*TaxRepository)(nil)
	_ auth.Repository     = (*APIKeyRepository)(nil)
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	s *Store
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.s.conn(ctx).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.s.conn(ctx).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.s.conn(ctx).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Put inserts or replaces a product.
func (r *ProductRepository) Put(ctx context.Context, p product.Product) error {
	_, err := r.s.conn(ctx).Exec(ctx, upsertProductSQL,
		p.ID, p.SKU, p.Name, p.Description, p.Price, p.SalePrice, p.Category, p.Weight, p.TaxCategoryID,
		p.MinQty, p.MaxQty, p.Stock, p.Enabled, p.Image.Thumbnail, p.Image.Mobile, p.Image.Tablet, p.Image.Desktop,
	)
	if err != nil {
		return errors.Wrapf(err, "put product %q", p.ID)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.SalePrice, &p.Category, &p.Weight, &p.TaxCategoryID,
		&p.MinQty, &p.MaxQty, &p.Stock, &p.Enabled,
		&p.Image.Thumbnail, &p.Image.Mobile, &p.Image.Tablet, &p.Image.Desktop,
	)
	return p, err
}

const (
	getAddressSQL = `SELECT id, customer_id, first_name, last_name, address1, address2, city, zip_code,
		country_code, state_code, phone, created_at
		FROM addresses WHERE id = $1`

	createAddressSQL = `INSERT INTO addresses (id, customer_id, first_name, last_name, address1, address2, city,
		zip_code, country_code, state_code, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getDefaultAddressesSQL = `SELECT COALESCE(billing_address_id, ''), COALESCE(shipping_address_id, '')
		FROM customer_defaults WHERE customer_id = $1`

	upsertDefaultAddressesSQL = `INSERT INTO customer_defaults (customer_id, billing_address_id, shipping_address_id)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (customer_id) DO UPDATE SET billing_address_id = EXCLUDED.billing_address_id,
			shipping_address_id = EXCLUDED.shipping_address_id`
)

// AddressRepository implements customer.Repository backed by PostgreSQL.
type AddressRepository struct {
	s *Store
}

// GetAddress returns an address by id.
func (r *AddressRepository) GetAddress(ctx context.Context, id string) (*customer.Address, error) {
	var a customer.Address
	err := r.s.conn(ctx).QueryRow(ctx, getAddressSQL, id).Scan(
		&a.ID, &a.CustomerID, &a.FirstName, &a.LastName, &a.Address1, &a.Address2, &a.City, &a.ZipCode,
		&a.CountryCode, &a.StateCode, &a.Phone, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrAddressNotFound
		}
		return nil, errors.Wrapf(err, "get address %q", id)
	}
	return &a, nil
}

// CreateAddress inserts an address.
func (r *AddressRepository) CreateAddress(ctx context.Context, a *customer.Address) error {
	_, err := r.s.conn(ctx).Exec(ctx, createAddressSQL,
		a.ID, a.CustomerID, a.FirstName, a.LastName, a.Address1, a.Address2, a.City, a.ZipCode,
		a.CountryCode, a.StateCode, a.Phone, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create address %q", a.ID)
	}
	return nil
}

// DefaultAddresses returns the default address ids of a customer. Both are
// empty when none are recorded.
func (r *AddressRepository) DefaultAddresses(ctx context.Context, customerID string) (string, string, error) {
	var billing, shipping string
	err := r.s.conn(ctx).QueryRow(ctx, getDefaultAddressesSQL, customerID).Scan(&billing, &shipping)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", errors.Wrapf(err, "get default addresses of customer %q", customerID)
	}
	return billing, shipping, nil
}

// SetDefaults records the default billing and shipping addresses of a
// customer.
func (r *AddressRepository) SetDefaults(ctx context.Context, customerID, billingID, shippingID string) error {
	if _, err := r.s.conn(ctx).Exec(ctx, upsertDefaultAddressesSQL, customerID, billingID, shippingID); err != nil {
		return errors.Wrapf(err, "set default addresses of customer %q", customerID)
	}
	return nil
}

const (
	getShippingMethodSQL = `SELECT id, handle, name, enabled FROM shipping_methods WHERE handle = $1`

	listShippingRulesSQL = `SELECT id, method_id, name, description, priority, enabled,
		min_qty, max_qty, min_total, max_total, min_weight, max_weight, country_codes, state_codes,
		base_rate, per_item_rate, weight_rate, percentage_rate, min_rate, max_rate
		FROM shipping_rules WHERE method_id = $1 ORDER BY priority, id`

	upsertShippingMethodSQL = `INSERT INTO shipping_methods (id, handle, name, enabled) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET handle = EXCLUDED.handle, name = EXCLUDED.name, enabled = EXCLUDED.enabled`

	insertShippingRuleSQL = `INSERT INTO shipping_rules (id, method_id, name, description, priority, enabled,
		min_qty, max_qty, min_total, max_total, min_weight, max_weight, country_codes, state_codes,
		base_rate, per_item_rate, weight_rate, percentage_rate, min_rate, max_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO NOTHING`
)

// ShippingRepository implements shipping.Repository backed by PostgreSQL.
type ShippingRepository struct {
	s *Store
}

// MethodByHandle returns the shipping method with the handle.
func (r *ShippingRepository) MethodByHandle(ctx context.Context, handle string) (*shipping.Method, error) {
	var m shipping.Method
	err := r.s.conn(ctx).QueryRow(ctx, getShippingMethodSQL, handle).Scan(&m.ID, &m.Handle, &m.Name, &m.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrMethodNotFound
		}
		return nil, errors.Wrapf(err, "get shipping method %q", handle)
	}
	return &m, nil
}

// RulesByMethod returns the rules of a shipping method.
func (r *ShippingRepository) RulesByMethod(ctx context.Context, methodID string) ([]*shipping.Rule, error) {
	rows, err := r.s.conn(ctx).Query(ctx, listShippingRulesSQL, methodID)
	if err != nil {
		return nil, errors.Wrapf(err, "list rules of shipping method %q", methodID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*shipping.Rule, error) {
		var rule shipping.Rule
		err := row.Scan(
			&rule.ID, &rule.MethodID, &rule.Name, &rule.Description, &rule.Priority, &rule.Enabled,
			&rule.MinQty, &rule.MaxQty, &rule.MinTotal, &rule.MaxTotal, &rule.MinWeight, &rule.MaxWeight,
			&rule.CountryCodes, &rule.StateCodes,
			&rule.BaseRate, &rule.PerItemRate, &rule.WeightRate, &rule.PercentageRate, &rule.MinRate, &rule.MaxRate,
		)
		return &rule, err
	})
}

// PutMethod inserts or replaces a shipping method.
func (r *ShippingRepository) PutMethod(ctx context.Context, m shipping.Method) error {
	if _, err := r.s.conn(ctx).Exec(ctx, upsertShippingMethodSQL, m.ID, m.Handle, m.Name, m.Enabled); err != nil {
		return errors.Wrapf(err, "put shipping method %q", m.ID)
	}
	return nil
}

// AddRule inserts a shipping rule unless its id exists.
func (r *ShippingRepository) AddRule(ctx context.Context, rule shipping.Rule) error {
	_, err := r.s.conn(ctx).Exec(ctx, insertShippingRuleSQL,
		rule.ID, rule.MethodID, rule.Name, rule.Description, rule.Priority, rule.Enabled,
		rule.MinQty, rule.MaxQty, rule.MinTotal, rule.MaxTotal, rule.MinWeight, rule.MaxWeight,
		nonNil(rule.CountryCodes), nonNil(rule.StateCodes),
		rule.BaseRate, rule.PerItemRate, rule.WeightRate, rule.PercentageRate, rule.MinRate, rule.MaxRate,
	)
	if err != nil {
		return errors.Wrapf(err, "add shipping rule %q", rule.ID)
	}
	return nil
}

const (
	listTaxRatesSQL = `SELECT id, name, tax_category_id, rate, include, taxable, countries, states
		FROM tax_rates WHERE tax_category_id = $1 ORDER BY id`

	insertTaxRateSQL = `INSERT INTO tax_rates (id, name, tax_category_id, rate, include, taxable, countries, states)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
)

// TaxRepository implements tax.Repository backed by PostgreSQL.
type TaxRepository struct {
	s *Store
}

// RatesByCategory returns the rates of a tax category.
func (r *TaxRepository) RatesByCategory(ctx context.Context, taxCategoryID string) ([]*tax.Rate, error) {
	rows, err := r.s.conn(ctx).Query(ctx, listTaxRatesSQL, taxCategoryID)
	if err != nil {
		return nil, errors.Wrapf(err, "list tax rates of category %q", taxCategoryID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*tax.Rate, error) {
		var (
			rate    tax.Rate
			taxable string
		)
		err := row.Scan(&rate.ID, &rate.Name, &rate.TaxCategoryID, &rate.Rate, &rate.Include, &taxable,
			&rate.Countries, &rate.States)
		rate.Taxable = tax.Taxable(taxable)
		return &rate, err
	})
}

// Add inserts a tax rate unless its id exists.
func (r *TaxRepository) Add(ctx context.Context, rate tax.Rate) error {
	_, err := r.s.conn(ctx).Exec(ctx, insertTaxRateSQL,
		rate.ID, rate.Name, rate.TaxCategoryID, rate.Rate, rate.Include, string(rate.Taxable),
		nonNil(rate.Countries), nonNil(rate.States),
	)
	if err != nil {
		return errors.Wrapf(err, "add tax rate %q", rate.ID)
	}
	return nil
}

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
			scopes = EXCLUDED.scopes, active = TRUE`
)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	s *Store
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var info auth.APIKeyInfo
	err := r.s.conn(ctx).QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&info.ID, &info.KeyHash, &info.Name, &info.Scopes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &info, nil
}

// Put inserts an API key or replaces the one with the same ID, which rotates it.
func (r *APIKeyRepository) Put(ctx context.Context, info auth.APIKeyInfo) error {
	_, err := r.s.conn(ctx).Exec(ctx, upsertAPIKeySQL, info.ID, info.KeyHash, info.Name, nonNil(info.Scopes))
	if err != nil {
		return errors.Wrapf(err, "put api key %q", info.Name)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
