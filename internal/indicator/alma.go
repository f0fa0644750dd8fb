// Package indicator computes the Arnaud Legoux Moving Average and detects
// crossovers between two indicator series.
package indicator

import (
	"math"

	"github.com/rewired-gh/almacross/internal/models"
)

const (
	DefaultOffset = 0.85
	DefaultSigma  = 6.0
)

// ALMA computes the Arnaud Legoux Moving Average of series over window
// points. Entries with fewer than window points of history are invalid.
//
// The Gaussian weights are centred at offset*(window-1) with width
// window/sigma, so an offset near 1 biases the average toward recent samples.
func ALMA(series []float64, window int, offset, sigma float64) models.Indicator {
	out := make(models.Indicator, len(series))
	if window <= 0 || len(series) < window {
		return out
	}

	weights, weightSum := almaWeights(window, offset, sigma)
	if weightSum == 0 || math.IsNaN(weightSum) {
		return out
	}

	for i := window - 1; i < len(series); i++ {
		start := i + 1 - window
		var acc float64
		for j, w := range weights {
			acc += w * series[start+j]
		}
		out[i] = models.Point{Value: acc / weightSum, Valid: true}
	}
	return out
}

// almaWeights returns the window weights, oldest sample first, and their sum.
func almaWeights(window int, offset, sigma float64) ([]float64, float64) {
	m := offset * float64(window-1)
	s := float64(window) / sigma

	weights := make([]float64, window)
	var sum float64
	for j := range weights {
		d := float64(j) - m
		weights[j] = math.Exp(-(d * d) / (2 * s * s))
		sum += weights[j]
	}
	return weights, sum
}
