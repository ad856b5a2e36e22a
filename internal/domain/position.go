package domain

import "time"

// Position is the ledger's view of what is held for one symbol.
// A nil *Position means nothing is held, which is not the same thing as a
// Position whose Amount is zero.
type Position struct {
	Symbol    string    // Trading symbol (e.g., "XRPUSDT")
	Amount    float64   // Units held, never negative
	CostBasis float64   // Volume-weighted average price paid per unit
	OpenedAt  time.Time // First buy of the current holding
	UpdatedAt time.Time // Last fill applied
}

// MarketValue returns the value of the holding at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Amount * price
}

// UnrealizedPNL returns the profit of the holding at the given price, no fees.
func (p *Position) UnrealizedPNL(price float64) float64 {
	return price*p.Amount - p.CostBasis*p.Amount
}

// Clone returns a copy that callers may hold on to without aliasing ledger state.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
