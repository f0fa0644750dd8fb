package market

import (
	"context"
	"errors"
	"testing"

	"github.com/rewired-gh/almacross/internal/models"
)

// scriptedSource returns the scripted errors in order, then the series.
type scriptedSource struct {
	name   string
	errs   []error
	series models.Series
	calls  int
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) FetchKlines(_ context.Context, _, _ string, _ int) (models.Series, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return s.series, nil
}

func blocked(src string) error {
	return &SourceError{Source: src, Class: ClassBlocked, StatusCode: 451, Err: errors.New("restricted location")}
}

func transient(src string) error {
	return &SourceError{Source: src, Class: ClassTransient, Err: errors.New("connection reset")}
}

func malformed(src string) error {
	return &SourceError{Source: src, Class: ClassMalformed, StatusCode: 200, Err: errors.New("bad JSON")}
}

func repeat(err error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

var okSeries = models.Series{{Close: 1, CloseTime: 1000}, {Close: 2, CloseTime: 2000}}

func TestFetcher_PrimarySucceeds(t *testing.T) {
	primary := &scriptedSource{name: "primary", series: okSeries}
	secondary := &scriptedSource{name: "secondary", series: okSeries}
	f := NewFetcher(primary, secondary, FetcherConfig{MaxRetries: 3})

	got, err := f.Fetch(context.Background(), "BTCUSDT", "1m", 300)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d candles, want 2", len(got))
	}
	if primary.calls != 1 || secondary.calls != 0 {
		t.Errorf("calls primary=%d secondary=%d, want 1/0", primary.calls, secondary.calls)
	}
}

func TestFetcher_RetriesTransientOnPrimary(t *testing.T) {
	primary := &scriptedSource{name: "primary", errs: []error{transient("primary"), malformed("primary")}, series: okSeries}
	secondary := &scriptedSource{name: "secondary", series: okSeries}
	f := NewFetcher(primary, secondary, FetcherConfig{MaxRetries: 3})

	if _, err := f.Fetch(context.Background(), "BTCUSDT", "1m", 300); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if primary.calls != 3 {
		t.Errorf("primary calls = %d, want 3", primary.calls)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary calls = %d, want 0", secondary.calls)
	}
}

func TestFetcher_BlockedSwitchesImmediately(t *testing.T) {
	primary := &scriptedSource{name: "primary", errs: repeat(blocked("primary"), 3)}
	secondary := &scriptedSource{name: "secondary", errs: repeat(transient("secondary"), 3)}
	f := NewFetcher(primary, secondary, FetcherConfig{MaxRetries: 3})

	var fallbacks int
	f.OnFallback = func(error) { fallbacks++ }

	_, err := f.Fetch(context.Background(), "BTCUSDT", "1m", 300)
	if err == nil {
		t.Fatal("expected error")
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1 after blocked", primary.calls)
	}
	if secondary.calls != 3 {
		t.Errorf("secondary calls = %d, want full budget of 3", secondary.calls)
	}
	if fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", fallbacks)
	}
}

func TestFetcher_BlockedThenSecondarySucceeds(t *testing.T) {
	primary := &scriptedSource{name: "primary", errs: repeat(blocked("primary"), 3)}
	secondary := &scriptedSource{name: "secondary", errs: []error{transient("secondary")}, series: okSeries}
	f := NewFetcher(primary, secondary, FetcherConfig{MaxRetries: 3})

	got, err := f.Fetch(context.Background(), "BTCUSDT", "1m", 300)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != len(okSeries) {
		t.Errorf("got %d candles, want %d", len(got), len(okSeries))
	}
	if secondary.calls != 2 {
		t.Errorf("secondary calls = %d, want 2", secondary.calls)
	}
}

func TestFetcher_PrimaryExhaustedFallsBack(t *testing.T) {
	primary := &scriptedSource{name: "primary", errs: repeat(transient("primary"), 3)}
	secondary := &scriptedSource{name: "secondary", series: okSeries}
	f := NewFetcher(primary, secondary, FetcherConfig{MaxRetries: 3})

	if _, err := f.Fetch(context.Background(), "BTCUSDT", "1m", 300); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if primary.calls != 3 || secondary.calls != 1 {
		t.Errorf("calls primary=%d secondary=%d, want 3/1", primary.calls, secondary.calls)
	}
}

func TestFetcher_BothExhausted(t *testing.T) {
	primary := &scriptedSource{name: "primary", errs: repeat(transient("primary"), 2)}
	last := malformed("secondary")
	secondary := &scriptedSource{name: "secondary", errs: []error{transient("secondary"), last}}
	f := NewFetcher(primary, secondary, FetcherConfig{MaxRetries: 2})

	_, err := f.Fetch(context.Background(), "BTCUSDT", "1m", 300)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("error = %v, want ErrDataUnavailable", err)
	}
	if !errors.Is(err, last) {
		t.Errorf("error should carry the last cause, got %v", err)
	}
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("last cause should be classified malformed, got %v", err)
	}
	var dataErr *DataUnavailableError
	if !errors.As(err, &dataErr) {
		t.Fatalf("error %T is not *DataUnavailableError", err)
	}
	if dataErr.Symbol != "BTCUSDT" || dataErr.Interval != "1m" {
		t.Errorf("got %s/%s, want BTCUSDT/1m", dataErr.Symbol, dataErr.Interval)
	}
}

func TestFetcher_NoSecondary(t *testing.T) {
	primary := &scriptedSource{name: "primary", errs: repeat(blocked("primary"), 3)}
	f := NewFetcher(primary, nil, FetcherConfig{MaxRetries: 3})

	_, err := f.Fetch(context.Background(), "BTCUSDT", "1m", 300)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("error = %v, want ErrDataUnavailable", err)
	}
	if !errors.Is(err, ErrBlocked) {
		t.Errorf("error should wrap the blocked cause, got %v", err)
	}
}

func TestFetcher_DefaultRetries(t *testing.T) {
	primary := &scriptedSource{name: "primary", errs: repeat(transient("primary"), 10)}
	f := NewFetcher(primary, nil, FetcherConfig{})

	if _, err := f.Fetch(context.Background(), "BTCUSDT", "1m", 300); err == nil {
		t.Fatal("expected error")
	}
	if primary.calls != 3 {
		t.Errorf("primary calls = %d, want default of 3", primary.calls)
	}
}

func TestFetcher_CancelledContextStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &scriptedSource{name: "primary", errs: repeat(transient("primary"), 3)}
	secondary := &scriptedSource{name: "secondary", series: okSeries}
	f := NewFetcher(primary, secondary, FetcherConfig{MaxRetries: 3})

	_, err := f.Fetch(ctx, "BTCUSDT", "1m", 300)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("error = %v, want ErrDataUnavailable", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary calls = %d, want 0 after cancellation", secondary.calls)
	}
}
