// Command purge-carts deletes abandoned carts. It is meant to run from cron.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		olderThan   time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&olderThan, "older-than", 7*24*time.Hour, "delete carts not updated for this long")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if olderThan <= 0 {
		slog.Error("older-than must be positive", slog.Duration("older_than", olderThan))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, olderThan); err != nil {
		slog.Error("purge failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, olderThan time.Duration) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	cutoff := time.Now().Add(-olderThan)
	n, err := postgres.NewStore(pool).Orders().DeleteStaleCarts(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "delete stale carts")
	}
	slog.Info("stale carts purged",
		slog.Int64("deleted", n),
		slog.Time("cutoff", cutoff),
	)
	return nil
}
