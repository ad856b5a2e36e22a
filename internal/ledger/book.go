// Package ledger keeps cash and positions up to date from fills.
package ledger

import (
	"fmt"
	"math"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
)

// dust is the amount below which a position counts as fully closed.
const dust = 1e-9

// Book tracks cash and one position per symbol. Cost basis is the volume-weighted
// average buy price of the current holding. Not safe for concurrent use.
type Book struct {
	cash      float64
	positions map[string]*domain.Position
}

// NewBook creates a book holding only cash.
func NewBook(cash float64) *Book {
	return &Book{cash: cash, positions: make(map[string]*domain.Position)}
}

// Cash returns the quote currency balance.
func (b *Book) Cash() float64 {
	return b.cash
}

// Position returns a copy of the holding for symbol, or nil.
func (b *Book) Position(symbol string) *domain.Position {
	return b.positions[symbol].Clone()
}

// Clone returns an independent copy of the book.
func (b *Book) Clone() *Book {
	c := NewBook(b.cash)
	for sym, pos := range b.positions {
		c.positions[sym] = pos.Clone()
	}
	return c
}

// Restore puts a previously persisted holding back into the book.
func (b *Book) Restore(pos *domain.Position) {
	if pos == nil || pos.Amount <= dust {
		return
	}
	b.positions[pos.Symbol] = pos.Clone()
}

// Apply books a fill. A sell returns the realized trade; selling more than is
// held is rejected and leaves the book unchanged.
func (b *Book) Apply(f *domain.Fill) (*domain.Trade, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil fill", ports.ErrInvalidRequest)
	}
	if !(f.Quantity > 0) || !(f.Price > 0) || math.IsInf(f.Quantity, 0) || math.IsInf(f.Price, 0) {
		return nil, fmt.Errorf("%w: fill quantity %v at price %v", ports.ErrInvalidRequest, f.Quantity, f.Price)
	}

	switch f.Side {
	case domain.Buy:
		b.buy(f)
		return nil, nil
	case domain.Sell:
		return b.sell(f)
	default:
		return nil, fmt.Errorf("%w: unknown fill side %q", ports.ErrInvalidRequest, f.Side)
	}
}

func (b *Book) buy(f *domain.Fill) {
	b.cash -= f.Quantity * f.Price
	pos, ok := b.positions[f.Symbol]
	if !ok {
		b.positions[f.Symbol] = &domain.Position{
			Symbol:    f.Symbol,
			Amount:    f.Quantity,
			CostBasis: f.Price,
			OpenedAt:  f.Time,
			UpdatedAt: f.Time,
		}
		return
	}
	total := pos.Amount + f.Quantity
	pos.CostBasis = (pos.Amount*pos.CostBasis + f.Quantity*f.Price) / total
	pos.Amount = total
	pos.UpdatedAt = f.Time
}

func (b *Book) sell(f *domain.Fill) (*domain.Trade, error) {
	pos, ok := b.positions[f.Symbol]
	if !ok || f.Quantity > pos.Amount+dust {
		held := 0.0
		if ok {
			held = pos.Amount
		}
		return nil, fmt.Errorf("%w: selling %v %s with %v held", ports.ErrInsufficientFunds, f.Quantity, f.Symbol, held)
	}

	qty := math.Min(f.Quantity, pos.Amount)
	b.cash += qty * f.Price

	reason := domain.CloseReasonManual
	if f.Intent == domain.IntentClose {
		reason = domain.CloseReasonTakeProfit
	}
	trade := &domain.Trade{
		Symbol:      f.Symbol,
		EntryPrice:  pos.CostBasis,
		ExitPrice:   f.Price,
		Quantity:    qty,
		PNL:         (f.Price - pos.CostBasis) * qty,
		EntryTime:   pos.OpenedAt,
		ExitTime:    f.Time,
		CloseReason: reason,
	}

	pos.Amount -= qty
	pos.UpdatedAt = f.Time
	if pos.Amount <= dust {
		delete(b.positions, f.Symbol)
	}
	return trade, nil
}
