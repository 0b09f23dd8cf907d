package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	maxFiles      = bits.UintSize
)

// scanner finds codes present in at least minFiles dumps in two passes: a
// bloom filter per dump, then an exact per-dump membership bitmask for the
// codes some other filter reports.
type scanner struct {
	minFiles int
	capacity uint
}

func (s scanner) validCodes(ctx context.Context, files []string) ([]string, error) {
	switch {
	case len(files) == 0:
		return nil, errors.New("no input files")
	case len(files) > maxFiles:
		return nil, errors.Errorf("at most %d input files are supported, got %d", maxFiles, len(files))
	case s.minFiles < 2 || s.minFiles > len(files):
		return nil, errors.Errorf("min files must be between 2 and %d, got %d", len(files), s.minFiles)
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters, err := s.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding candidate codes")
	masks, err := s.collectMasks(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find candidate codes")
	}

	var valid []string
	for code, mask := range masks {
		if bits.OnesCount(mask) >= s.minFiles {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

func (s scanner) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(max(s.capacity, 1), bloomFPR)
			var count uint64
			err := streamCodes(ctx, path, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// collectMasks re-reads every dump and records, for each code some other
// dump's filter may contain, the bit of the dump it was actually read from.
// Merging the per-dump maps removes the bloom false positives.
func (s scanner) collectMasks(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]uint, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			var count uint64
			err := streamCodes(ctx, path, func(code string) {
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
				hits := 0
				for j, f := range filters {
					if j != i && f.TestString(code) {
						hits++
					}
				}
				// The code itself counts once; it needs minFiles-1 other dumps.
				if hits+1 >= s.minFiles {
					candidates[code] |= bit
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			slog.Info("pass 2 complete",
				slog.String("file", path),
				slog.Uint64("total_codes", count),
				slog.Int("candidates", len(candidates)),
			)
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}
	return merged, nil
}

// streamCodes calls fn for every line of the gzip file at path whose length
// is a valid code length.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := sc.Text()
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
