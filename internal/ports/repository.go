package ports

import (
	"context"

	"buyLowSellHigh/internal/domain"
)

// PositionRepository persists the ledger's current holding per symbol.
type PositionRepository interface {
	// FindBySymbol returns the stored holding, or nil, nil if none is stored.
	FindBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// Save inserts or replaces the holding for pos.Symbol.
	Save(ctx context.Context, pos *domain.Position) error
	// Delete removes the holding for symbol; deleting a missing row is not an error.
	Delete(ctx context.Context, symbol string) error
}

// FillRepository stores executions applied to the ledger.
type FillRepository interface {
	// CreateFill saves a fill. A fill whose exchange id already exists yields ErrDuplicateEntry.
	CreateFill(ctx context.Context, fill *domain.Fill) (int64, error)
	// LastExchangeFillID returns the highest exchange fill id stored for symbol, 0 if none.
	LastExchangeFillID(ctx context.Context, symbol string) (int64, error)
	// FindFillsBySymbol returns fills for symbol, oldest first.
	FindFillsBySymbol(ctx context.Context, symbol string) ([]*domain.Fill, error)
}

// TradeRepository defines the interface for storing and retrieving realized trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// GetTotalProfit sums PNL over all trades for symbol.
	GetTotalProfit(ctx context.Context, symbol string) (float64, error)
}

// LedgerSyncRepository commits the outcome of one ledger sync.
type LedgerSyncRepository interface {
	// CommitSync stores fills and trades and replaces the holding for symbol (nil
	// deletes it), all or nothing. Fills already stored are skipped.
	CommitSync(ctx context.Context, symbol string, fills []*domain.Fill, trades []*domain.Trade, pos *domain.Position) error
}

// BarErrorRepository mirrors the in-memory error log to storage for reporting.
type BarErrorRepository interface {
	CreateBarError(ctx context.Context, e *domain.BarError) (int64, error)
	FindByRun(ctx context.Context, runID string) ([]*domain.BarError, error)
	CountByRun(ctx context.Context, runID string) (int, error)
}
