package indicator

import "github.com/rewired-gh/almacross/internal/models"

// Detect classifies the crossing between short and long at the latest closed
// pair of adjacent indices. lag is the number of most recent entries treated
// as not yet closed: the pair compared is (p-1, p) with p = len-1-lag.
//
// The earlier point is compared inclusively and the later point strictly, so
// a short value that sits exactly on the long value only fires once the two
// separate.
//
// The returned index is p when a cross is found and -1 otherwise.
func Detect(short, long models.Indicator, lag int) (models.CrossEvent, int) {
	if lag < 0 || len(short) != len(long) || len(short) <= lag+1 {
		return models.CrossNone, -1
	}

	p := len(short) - 1 - lag
	s0, l0 := short[p-1], long[p-1]
	s1, l1 := short[p], long[p]
	if !s0.Valid || !l0.Valid || !s1.Valid || !l1.Valid {
		return models.CrossNone, -1
	}

	switch {
	case s0.Value <= l0.Value && s1.Value > l1.Value:
		return models.CrossBullish, p
	case s0.Value >= l0.Value && s1.Value < l1.Value:
		return models.CrossBearish, p
	default:
		return models.CrossNone, -1
	}
}
