package models

import "time"

// AlertState is the single durable record used for alert deduplication.
// The zero value means no alert has ever been dispatched.
type AlertState struct {
	LastAlertedCandle int64
	HasAlerted        bool
	UpdatedAt         time.Time
}

// Alert describes one dispatched crossover notification.
type Alert struct {
	ID          string
	Symbol      string
	Interval    string
	Event       CrossEvent
	CandleTime  int64
	Close       float64
	ShortWindow int
	LongWindow  int
	ShortALMA   float64
	LongALMA    float64
	DetectedAt  time.Time
}

// CandleClosedAt returns the crossing candle close time in UTC.
func (a Alert) CandleClosedAt() time.Time {
	return time.UnixMilli(a.CandleTime).UTC()
}
