package main

import (
	"context"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/handler"
	"github.com/xenking/kart-commerce/internal/seed"
	"github.com/xenking/kart-commerce/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file (default: embedded catalog)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or COMMERCE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COMMERCE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("COMMERCE_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COMMERCE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	c, err := loadCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "load catalog")
	}

	slog.Info("running migrations")
	if err := postgres.Migrate(ctx, databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	stats, err := seed.Apply(ctx, seed.Target{
		Statuses: store.Statuses(),
		Products: store.Products(),
		Methods:  store.Methods(),
		Shipping: store.Shipping(),
		TaxRates: store.TaxRates(),
		Coupons:  store.Coupons(),
	}, c)
	if err != nil {
		return errors.Wrap(err, "apply catalog")
	}
	slog.Info("catalog applied",
		slog.Int("statuses", stats.Statuses),
		slog.Int("products", stats.Products),
		slog.Int("payment_methods", stats.PaymentMethods),
		slog.Int("shipping_methods", stats.ShippingMethods),
		slog.Int("shipping_rules", stats.ShippingRules),
		slog.Int("tax_rates", stats.TaxRates),
		slog.Int("coupons", stats.Coupons),
	)

	if apiKey == "" {
		slog.Warn("no API key given, admin endpoints stay locked")
		return nil
	}
	if err := store.APIKeys().Put(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: handler.HashKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{"admin"},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	slog.Info("upserted API key", slog.String("id", "default"))

	return nil
}

func loadCatalog(path string) (*seed.Catalog, error) {
	if path == "" {
		return seed.Load(nil, "")
	}
	var fsys fs.FS = os.DirFS(filepath.Dir(path))
	return seed.Load(fsys, filepath.Base(path))
}
