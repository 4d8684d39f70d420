package domain

import "math"

// tickBand is one row of the exchange's non-uniform price increment table.
type tickBand struct {
	upTo      float64
	increment float64
}

// Exchange tick ladder: prices at or below upTo move in steps of increment.
var tickBands = []tickBand{
	{2, 0.01},
	{3, 0.02},
	{4, 0.05},
	{6, 0.10},
	{10, 0.20},
	{20, 0.50},
	{30, 1.00},
	{50, 2.00},
	{100, 5.00},
	{1000, 10.00},
}

// TickSize returns the minimum price increment at the given price.
// Prices above the top band keep the top band's increment.
func TickSize(price float64) float64 {
	for _, band := range tickBands {
		if price <= band.upTo {
			return band.increment
		}
	}
	return tickBands[len(tickBands)-1].increment
}

// SpreadTicks expresses the back/lay spread as a number of ticks, using the
// tick size at the mid price. Returns 0 for an empty or crossed side.
func SpreadTicks(bestBack, bestLay float64) float64 {
	if bestBack <= 0 || bestLay <= 0 || bestLay < bestBack {
		return 0
	}
	mid := (bestBack + bestLay) / 2
	tick := TickSize(mid)
	if tick <= 0 {
		return 0
	}
	return (bestLay - bestBack) / tick
}

// DepthWithinTicks sums the sizes of levels priced within n tick-increments
// of the side's best level.
func DepthWithinTicks(levels []PriceSize, n int) float64 {
	if len(levels) == 0 {
		return 0
	}
	best := levels[0].Price
	window := float64(n) * TickSize(best)
	var sum float64
	for _, lv := range levels {
		if math.Abs(lv.Price-best) <= window {
			sum += lv.Size
		}
	}
	return sum
}

// Round rounds half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
