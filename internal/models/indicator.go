package models

// Point is one entry of an indicator series. Valid is false while the
// indicator has insufficient history at that index.
type Point struct {
	Value float64
	Valid bool
}

// Indicator is a series of optional values aligned index-for-index with the
// candle series it was derived from.
type Indicator []Point

// CrossEvent classifies the relation change between a short and a long indicator.
type CrossEvent int

const (
	CrossNone CrossEvent = iota
	CrossBullish
	CrossBearish
)

func (e CrossEvent) String() string {
	switch e {
	case CrossBullish:
		return "bullish"
	case CrossBearish:
		return "bearish"
	default:
		return "none"
	}
}
