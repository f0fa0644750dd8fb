package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/almacross/internal/logger"
	"github.com/rewired-gh/almacross/internal/models"
)

// FetcherConfig holds retry settings shared by both sources.
type FetcherConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Fetcher tries the primary source and falls back to the secondary one when
// the primary is blocked or exhausts its retries.
type Fetcher struct {
	primary    Source
	secondary  Source
	maxRetries int
	retryDelay time.Duration

	// OnFallback, when set, is called each time the secondary source is used.
	OnFallback func(reason error)
}

// NewFetcher creates a fetcher. secondary may be nil.
func NewFetcher(primary, secondary Source, cfg FetcherConfig) *Fetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Fetcher{
		primary:    primary,
		secondary:  secondary,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Fetch returns up to limit candles. When no source succeeds the error is a
// *DataUnavailableError carrying the last failure.
func (f *Fetcher) Fetch(ctx context.Context, symbol, interval string, limit int) (models.Series, error) {
	series, err := f.fetchFrom(ctx, f.primary, symbol, interval, limit)
	if err == nil {
		return series, nil
	}

	if f.secondary != nil && ctx.Err() == nil {
		logger.Warn("Primary source %s failed, falling back to %s: %v", f.primary.Name(), f.secondary.Name(), err)
		if f.OnFallback != nil {
			f.OnFallback(err)
		}
		series, err = f.fetchFrom(ctx, f.secondary, symbol, interval, limit)
		if err == nil {
			return series, nil
		}
	}

	return nil, &DataUnavailableError{Symbol: symbol, Interval: interval, Cause: err}
}

// fetchFrom retries one source with a fixed delay. A blocked failure ends the
// attempts on that source immediately.
func (f *Fetcher) fetchFrom(ctx context.Context, src Source, symbol, interval string, limit int) (models.Series, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		series, err := src.FetchKlines(ctx, symbol, interval, limit)
		if err == nil {
			logger.Debug("Fetched %d candles from %s (attempt %d)", len(series), src.Name(), attempt)
			return series, nil
		}
		lastErr = err

		if isBlocked(err) {
			logger.Warn("Source %s blocked the request: %v", src.Name(), err)
			return nil, err
		}
		logger.Warn("Fetch attempt %d/%d from %s failed: %v", attempt, f.maxRetries, src.Name(), err)

		if attempt < f.maxRetries {
			if err := sleep(ctx, f.retryDelay); err != nil {
				return nil, fmt.Errorf("%s: retry interrupted: %w", src.Name(), err)
			}
		}
	}
	return nil, fmt.Errorf("%s: failed after %d attempts: %w", src.Name(), f.maxRetries, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
