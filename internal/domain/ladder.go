package domain

import "fmt"

// PriceSize is one level of an order-book ladder.
type PriceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// RunnerLadder holds the captured book for a single runner: best-first back
// and lay levels plus the runner's traded totals.
type RunnerLadder struct {
	RunnerID     int64       `json:"runner_id"`
	LastTraded   float64     `json:"last_traded,omitempty"`
	TotalMatched float64     `json:"total_matched,omitempty"`
	Back         []PriceSize `json:"back"`
	Lay          []PriceSize `json:"lay"`
}

// BestBack returns the best available back price, or 0 if the side is empty.
func (rl RunnerLadder) BestBack() float64 {
	if len(rl.Back) == 0 {
		return 0
	}
	return rl.Back[0].Price
}

// BestLay returns the best available lay price, or 0 if the side is empty.
func (rl RunnerLadder) BestLay() float64 {
	if len(rl.Lay) == 0 {
		return 0
	}
	return rl.Lay[0].Price
}

// MidPrice returns the back/lay midpoint, falling back to the one populated
// side when the other is empty. Returns 0 for an empty book.
func (rl RunnerLadder) MidPrice() float64 {
	back, lay := rl.BestBack(), rl.BestLay()
	switch {
	case back > 0 && lay > 0:
		return (back + lay) / 2
	case back > 0:
		return back
	default:
		return lay
	}
}

// Ladder is the point-in-time book for a whole market, one entry per runner.
// It is persisted as a JSON blob but handled as a typed value in memory.
type Ladder struct {
	Runners []RunnerLadder `json:"runners"`
	Depth   int            `json:"depth"`
}

// Runner returns the ladder entry for the given runner external id.
func (l Ladder) Runner(runnerID int64) (RunnerLadder, bool) {
	for _, rl := range l.Runners {
		if rl.RunnerID == runnerID {
			return rl, true
		}
	}
	return RunnerLadder{}, false
}

// Validate rejects ladders that would violate storage assumptions: duplicate
// runner ids or non-positive prices on populated levels.
func (l Ladder) Validate() error {
	seen := make(map[int64]bool, len(l.Runners))
	for _, rl := range l.Runners {
		if seen[rl.RunnerID] {
			return fmt.Errorf("ladder: duplicate runner %d", rl.RunnerID)
		}
		seen[rl.RunnerID] = true
		for _, lv := range rl.Back {
			if lv.Price <= 0 {
				return fmt.Errorf("ladder: runner %d back level with price %.2f", rl.RunnerID, lv.Price)
			}
		}
		for _, lv := range rl.Lay {
			if lv.Price <= 0 {
				return fmt.Errorf("ladder: runner %d lay level with price %.2f", rl.RunnerID, lv.Price)
			}
		}
	}
	return nil
}

// Overround is the sum of implied probabilities (1/best_back) across runners,
// rounded to 4 decimal places. A value above 1 is the exchange margin.
func (l Ladder) Overround() float64 {
	var sum float64
	for _, rl := range l.Runners {
		if back := rl.BestBack(); back > 0 {
			sum += 1 / back
		}
	}
	return Round(sum, 4)
}

// TotalAvailable sums every size on both sides of every runner.
func (l Ladder) TotalAvailable() float64 {
	var sum float64
	for _, rl := range l.Runners {
		for _, lv := range rl.Back {
			sum += lv.Size
		}
		for _, lv := range rl.Lay {
			sum += lv.Size
		}
	}
	return sum
}
