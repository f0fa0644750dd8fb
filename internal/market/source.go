// Package market fetches kline close series from Binance-compatible REST
// endpoints, with retry and primary-to-secondary fallback.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/rewired-gh/almacross/internal/models"
)

const (
	DefaultPrimaryURL   = "https://api.binance.com"
	DefaultSecondaryURL = "https://data-api.binance.vision"

	klinesPath = "/api/v3/klines"

	// positions inside a kline record array
	closePriceField = 4
	closeTimeField  = 6
)

// Source returns up to limit candles for symbol and interval, oldest first.
type Source interface {
	Name() string
	FetchKlines(ctx context.Context, symbol, interval string, limit int) (models.Series, error)
}

// HTTPSource reads klines from a Binance-compatible REST endpoint.
type HTTPSource struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a kline source rooted at baseURL.
func NewHTTPSource(name, baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *HTTPSource) Name() string { return s.name }

// FetchKlines performs a single request. Failures are returned as *SourceError.
func (s *HTTPSource) FetchKlines(ctx context.Context, symbol, interval string, limit int) (models.Series, error) {
	u, err := url.Parse(s.baseURL + klinesPath)
	if err != nil {
		return nil, s.fail(ClassMalformed, 0, fmt.Errorf("failed to parse URL: %w", err))
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, s.fail(ClassMalformed, 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, s.fail(ClassTransient, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, s.fail(ClassTransient, resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}

	if class, failed := classifyStatus(resp.StatusCode); failed {
		return nil, s.fail(class, resp.StatusCode, errors.New(snippet(body)))
	}

	series, err := parseKlines(body)
	if err != nil {
		return nil, s.fail(ClassMalformed, resp.StatusCode, err)
	}
	return series, nil
}

func (s *HTTPSource) fail(class Class, status int, err error) error {
	return &SourceError{Source: s.name, Class: class, StatusCode: status, Err: err}
}

// classifyStatus maps an HTTP status to a failure class. failed is false for 2xx.
func classifyStatus(code int) (Class, bool) {
	switch {
	case code >= 200 && code < 300:
		return 0, false
	case code == http.StatusForbidden,
		code == http.StatusTeapot, // Binance IP ban
		code == http.StatusTooManyRequests,
		code == http.StatusUnavailableForLegalReasons:
		return ClassBlocked, true
	case code >= 500:
		return ClassTransient, true
	default:
		return ClassMalformed, true
	}
}

// parseKlines converts a kline array response into a validated series.
func parseKlines(body []byte) (models.Series, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("expected array, got %s", snippet(body))
	}

	rows := root.Array()
	series := make(models.Series, 0, len(rows))
	for i, row := range rows {
		if !row.IsArray() {
			return nil, fmt.Errorf("record %d is not an array", i)
		}
		fields := row.Array()
		if len(fields) <= closeTimeField {
			return nil, fmt.Errorf("record %d has %d fields", i, len(fields))
		}

		price, err := decimal.NewFromString(fields[closePriceField].String())
		if err != nil {
			return nil, fmt.Errorf("record %d close price: %w", i, err)
		}
		closeTime := fields[closeTimeField]
		if closeTime.Type != gjson.Number {
			return nil, fmt.Errorf("record %d close time is not a number", i)
		}

		series = append(series, models.Candle{
			Close:     price.InexactFloat64(),
			CloseTime: closeTime.Int(),
		})
	}

	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
