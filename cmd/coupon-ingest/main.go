// Command coupon-ingest finds promo codes listed in several coupon base dumps
// and imports them as coupon rules.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		minFiles    int
		batchSize   int
		capacity    uint
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing the coupon base dumps")
	flag.StringVar(&pattern, "pattern", "couponbase*.gz", "glob of gzip-compressed dumps inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&minFiles, "min-files", 2, "number of dumps a code must appear in")
	flag.IntVar(&batchSize, "batch", 50_000, "coupons per import batch")
	flag.UintVar(&capacity, "bloom-capacity", 120_000_000, "expected codes per dump")
	flag.BoolVar(&dryRun, "dry-run", false, "report valid codes without writing them")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		slog.Error("invalid pattern", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slices.Sort(files)

	s := scanner{minFiles: minFiles, capacity: capacity}
	if err := run(ctx, s, files, databaseURL, batchSize, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, s scanner, files []string, databaseURL string, batchSize int, dryRun bool) error {
	codes, err := s.validCodes(ctx, files)
	if err != nil {
		return err
	}
	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 || dryRun {
		return nil
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	coupons := postgres.NewStore(pool).Coupons()
	rules := rulesFor(codes)

	var inserted int64
	for batch := range slices.Chunk(rules, max(batchSize, 1)) {
		n, err := coupons.Import(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "import coupons")
		}
		inserted += n
		slog.Info("import progress",
			slog.Int64("inserted", inserted),
			slog.Int("total", len(rules)),
		)
	}
	slog.Info("coupons imported",
		slog.Int64("inserted", inserted),
		slog.Int64("existing", int64(len(rules))-inserted),
	)
	return nil
}
