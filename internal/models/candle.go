// Package models defines the core domain values: candles, indicator series,
// cross events, alerts and the persisted alert state.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Candle is a single closed (or forming) price bucket reduced to the two
// fields the crossover pipeline needs.
type Candle struct {
	Close     float64 `json:"close"`
	CloseTime int64   `json:"close_time"` // milliseconds since epoch
}

// ClosedAt returns the candle close time in UTC.
func (c Candle) ClosedAt() time.Time {
	return time.UnixMilli(c.CloseTime).UTC()
}

// Series is an ordered candle sequence, index 0 = oldest.
type Series []Candle

// Closes extracts the closing prices in series order.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, c := range s {
		closes[i] = c.Close
	}
	return closes
}

// Last returns the newest candle. The series must not be empty.
func (s Series) Last() Candle {
	return s[len(s)-1]
}

// Validate checks that the series is non-empty and strictly increasing in close time.
func (s Series) Validate() error {
	if len(s) == 0 {
		return errors.New("series must contain at least one candle")
	}
	for i := 1; i < len(s); i++ {
		if s[i].CloseTime <= s[i-1].CloseTime {
			return fmt.Errorf("close time at index %d (%d) is not after index %d (%d)",
				i, s[i].CloseTime, i-1, s[i-1].CloseTime)
		}
	}
	return nil
}
