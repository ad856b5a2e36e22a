package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Rung maps every indicator value up to and including UpperBound to a buy increment.
type Rung struct {
	UpperBound float64 `yaml:"upper_bound"`
	Increment  float64 `yaml:"increment"`
}

// BuyLadder is an ordered threshold table, lowest bound first. Rungs are
// mutually exclusive: a value belongs to the first rung whose bound it does not exceed.
type BuyLadder []Rung

// DefaultBuyLadder buys harder the more oversold the market is.
func DefaultBuyLadder() BuyLadder {
	return BuyLadder{
		{UpperBound: 30, Increment: 50},
		{UpperBound: 40, Increment: 20},
		{UpperBound: 70, Increment: 5},
	}
}

// NewBuyLadder validates rungs and returns them as a ladder.
func NewBuyLadder(rungs []Rung) (BuyLadder, error) {
	if len(rungs) == 0 {
		return nil, fmt.Errorf("buy ladder needs at least one rung")
	}
	ladder := make(BuyLadder, len(rungs))
	copy(ladder, rungs)
	for i, r := range ladder {
		if r.Increment <= 0 {
			return nil, fmt.Errorf("rung %d: increment must be positive, got %v", i, r.Increment)
		}
		if i > 0 && r.UpperBound <= ladder[i-1].UpperBound {
			return nil, fmt.Errorf("rung %d: upper bound %v must be greater than %v", i, r.UpperBound, ladder[i-1].UpperBound)
		}
	}
	return ladder, nil
}

// ParseBuyLadder reads "bound:increment" pairs separated by commas, e.g. "30:50,40:20,70:5".
// Pairs may be given in any order; they are sorted by bound.
func ParseBuyLadder(s string) (BuyLadder, error) {
	var rungs []Rung
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bound, inc, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid ladder rung %q: want bound:increment", part)
		}
		b, err := decimal.NewFromString(strings.TrimSpace(bound))
		if err != nil {
			return nil, fmt.Errorf("invalid ladder bound %q: %w", bound, err)
		}
		n, err := decimal.NewFromString(strings.TrimSpace(inc))
		if err != nil {
			return nil, fmt.Errorf("invalid ladder increment %q: %w", inc, err)
		}
		rungs = append(rungs, Rung{UpperBound: b.InexactFloat64(), Increment: n.InexactFloat64()})
	}
	sort.SliceStable(rungs, func(i, j int) bool { return rungs[i].UpperBound < rungs[j].UpperBound })
	return NewBuyLadder(rungs)
}

// Increment returns the buy size for an indicator value, or false when the
// value is above the top rung.
func (l BuyLadder) Increment(value float64) (float64, bool) {
	for _, r := range l {
		if value <= r.UpperBound {
			return r.Increment, true
		}
	}
	return 0, false
}

// String renders the ladder in the format ParseBuyLadder accepts.
func (l BuyLadder) String() string {
	parts := make([]string, len(l))
	for i, r := range l {
		parts[i] = fmt.Sprintf("%g:%g", r.UpperBound, r.Increment)
	}
	return strings.Join(parts, ",")
}
