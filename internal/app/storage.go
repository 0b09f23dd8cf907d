package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/domain/cart"
	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/domain/shipping"
	"github.com/xenking/kart-commerce/internal/domain/tax"
	"github.com/xenking/kart-commerce/internal/domain/txn"
	"github.com/xenking/kart-commerce/internal/handler"
	"github.com/xenking/kart-commerce/internal/seed"
	"github.com/xenking/kart-commerce/internal/storage/memory"
	"github.com/xenking/kart-commerce/internal/storage/postgres"
	redisstore "github.com/xenking/kart-commerce/internal/storage/redis"
	"github.com/xenking/kart-commerce/pkg/health"
	"github.com/xenking/kart-commerce/pkg/httpmiddleware"
)

// repositories is the storage backend seen by the services.
type repositories struct {
	orders       order.Repository
	lineItems    order.LineItemRepository
	adjustments  order.AdjustmentRepository
	statuses     order.StatusRepository
	transactions payment.Repository
	methods      payment.MethodRepository
	products     product.Repository
	addresses    customer.Repository
	coupons      coupon.Repository
	shipping     shipping.Repository
	taxRates     tax.Repository
	apiKeys      auth.Repository
	tx           txn.Manager

	// ping is nil for backends without a connection to check.
	ping  health.Pinger
	close func()
}

func openPostgres(ctx context.Context, lg *zap.Logger, databaseURL string) (*repositories, error) {
	if err := postgres.Migrate(ctx, databaseURL); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	s := postgres.NewStore(pool)
	lg.Info("Using postgres storage")
	return &repositories{
		orders:       s.Orders(),
		lineItems:    s.LineItems(),
		adjustments:  s.Adjustments(),
		statuses:     s.Statuses(),
		transactions: s.Transactions(),
		methods:      s.Methods(),
		products:     s.Products(),
		addresses:    s.Addresses(),
		coupons:      s.Coupons(),
		shipping:     s.Shipping(),
		taxRates:     s.TaxRates(),
		apiKeys:      s.APIKeys(),
		tx:           s,
		ping:         s,
		close:        pool.Close,
	}, nil
}

// openMemory returns a process-local store loaded with the embedded catalog.
// adminKey, when set, is registered so the admin API is usable.
func openMemory(ctx context.Context, lg *zap.Logger, pepper, adminKey string) (*repositories, error) {
	s := memory.New()
	c, err := seed.Load(nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "load seed catalog")
	}
	stats, err := seed.Apply(ctx, seed.Target{
		Statuses: s.Statuses(),
		Products: s.Products(),
		Methods:  s.Methods(),
		Shipping: s.Shipping(),
		TaxRates: s.TaxRates(),
		Coupons:  s.Coupons(),
	}, c)
	if err != nil {
		return nil, errors.Wrap(err, "seed memory store")
	}
	if adminKey != "" {
		if err := s.APIKeys().Put(ctx, auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: handler.HashKey([]byte(pepper), adminKey),
			Name:    "admin",
			Scopes:  []string{"admin"},
		}); err != nil {
			return nil, errors.Wrap(err, "register admin key")
		}
	}
	lg.Warn("Using in-memory storage, data is lost on restart",
		zap.Int("products", stats.Products),
		zap.Int("coupons", stats.Coupons),
	)
	return &repositories{
		orders:       s.Orders(),
		lineItems:    s.LineItems(),
		adjustments:  s.Adjustments(),
		statuses:     s.Statuses(),
		transactions: s.Transactions(),
		methods:      s.Methods(),
		products:     s.Products(),
		addresses:    s.Addresses(),
		coupons:      s.Coupons(),
		shipping:     s.Shipping(),
		taxRates:     s.TaxRates(),
		apiKeys:      s.APIKeys(),
		tx:           s,
		close:        func() {},
	}, nil
}

// sessionStore is a cart.SessionStore that may need closing. client is nil
// when sessions live in memory.
type sessionStore struct {
	cart.SessionStore
	client redis.UniversalClient
	ping   health.Pinger
	close  func() error
}

// limiter shares rate limit counters through Redis when sessions do.
func (s *sessionStore) limiter(ctx context.Context, cfg RateLimitConfig) httpmiddleware.Limiter {
	if s.client != nil {
		return httpmiddleware.NewRedisLimiter(s.client, cfg.Max, cfg.Window)
	}
	l := httpmiddleware.NewMemoryLimiter(cfg.Max, cfg.Window)
	go l.Run(ctx)
	return l
}

func openSessions(cfg *Config) (*sessionStore, error) {
	if cfg.RedisURL == "" {
		return &sessionStore{
			SessionStore: memory.NewSessions(cfg.CartTTL),
			close:        func() error { return nil },
		}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	s := redisstore.NewSessions(client, cfg.CartTTL)
	return &sessionStore{
		SessionStore: s,
		client:       client,
		ping:         s,
		close:        client.Close,
	}, nil
}
