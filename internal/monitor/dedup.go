package monitor

import (
	"time"

	"github.com/rewired-gh/almacross/internal/models"
)

// ShouldSuppress reports whether an alert for the candle closing at candidate
// was already dispatched. The empty state never suppresses.
func ShouldSuppress(candidate int64, state models.AlertState) bool {
	return state.HasAlerted && state.LastAlertedCandle == candidate
}

// Record returns the state that marks candidate as alerted.
func Record(candidate int64, at time.Time) models.AlertState {
	return models.AlertState{
		LastAlertedCandle: candidate,
		HasAlerted:        true,
		UpdatedAt:         at,
	}
}
