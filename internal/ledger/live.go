package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"
	"buyLowSellHigh/internal/utils"
)

// LiveConfig configures the live portfolio.
type LiveConfig struct {
	Symbol      string
	QuoteAsset  string
	OpenOrders  utils.RetryPolicy // RETRY_CHECK_OPEN_ORDERS
	UpdateState utils.RetryPolicy // RETRY_UPDATE_PORTFOLIO
}

// LivePortfolio implements ports.Portfolio against the exchange. The position is
// rebuilt from the account's fills, which are persisted so a restart resumes
// where it left off; cash is the exchange's free quote balance.
type LivePortfolio struct {
	cfg       LiveConfig
	logger    ports.Logger
	exchange  ports.ExchangeClient
	positions ports.PositionRepository
	fills     ports.FillRepository
	store     ports.LedgerSyncRepository

	mu         sync.Mutex
	book       *Book
	lastFillID int64
}

// NewLivePortfolio creates a live portfolio. Call Load before use.
func NewLivePortfolio(
	cfg LiveConfig,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	positions ports.PositionRepository,
	fills ports.FillRepository,
	store ports.LedgerSyncRepository,
) (*LivePortfolio, error) {
	if logger == nil || exchange == nil || positions == nil || fills == nil || store == nil {
		return nil, fmt.Errorf("missing required dependencies for LivePortfolio")
	}
	if cfg.Symbol == "" || cfg.QuoteAsset == "" {
		return nil, fmt.Errorf("%w: symbol and quote asset are required", ports.ErrConfigurationError)
	}
	return &LivePortfolio{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		positions: positions,
		fills:     fills,
		store:     store,
		book:      NewBook(0),
	}, nil
}

// Load restores the persisted position and fill cursor.
func (p *LivePortfolio) Load(ctx context.Context) error {
	pos, err := p.positions.FindBySymbol(ctx, p.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to load position: %w", err)
	}
	last, err := p.fills.LastExchangeFillID(ctx, p.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to load fill cursor: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.book = NewBook(0)
	p.book.Restore(pos)
	p.lastFillID = last

	fields := map[string]interface{}{"symbol": p.cfg.Symbol, "lastFillID": last}
	if pos != nil {
		fields["amount"] = pos.Amount
		fields["costBasis"] = pos.CostBasis
	}
	p.logger.Info(ctx, "Ledger state loaded", fields)
	return nil
}

// Sync applies fills the exchange reported since the last sync. The fills, the
// realized trades and the resulting position are committed together; the book
// and the fill cursor only move once that commit succeeds.
func (p *LivePortfolio) Sync(ctx context.Context) error {
	p.mu.Lock()
	from := p.lastFillID + 1
	p.mu.Unlock()

	var fills []*domain.Fill
	err := utils.Retry(ctx, p.cfg.UpdateState, ports.IsTransient, func() error {
		var err error
		fills, err = p.exchange.ListFills(ctx, p.cfg.Symbol, from)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list fills: %w", err)
	}
	if len(fills) == 0 {
		return nil
	}
	sort.Slice(fills, func(i, j int) bool { return fills[i].ExchangeID < fills[j].ExchangeID })

	p.mu.Lock()
	defer p.mu.Unlock()

	book := p.book.Clone()
	last := p.lastFillID
	var (
		fresh  []*domain.Fill
		trades []*domain.Trade
	)
	for _, f := range fills {
		if f.ExchangeID <= last {
			continue
		}
		// Stored even when unmatched so the cursor moves past it.
		fresh = append(fresh, f)
		last = f.ExchangeID

		trade, err := book.Apply(f)
		if err != nil {
			// Fills for units bought before the ledger existed.
			p.logger.Warn(ctx, "Fill does not match ledger, skipping", map[string]interface{}{
				"exchangeID": f.ExchangeID,
				"side":       string(f.Side),
				"quantity":   f.Quantity,
				"error":      err.Error(),
			})
			continue
		}
		if trade != nil {
			trades = append(trades, trade)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := p.store.CommitSync(ctx, p.cfg.Symbol, fresh, trades, book.Position(p.cfg.Symbol)); err != nil {
		return fmt.Errorf("failed to commit ledger sync: %w", err)
	}
	p.book = book
	p.lastFillID = last

	for _, trade := range trades {
		p.logger.Info(ctx, "Trade realized", map[string]interface{}{
			"quantity":  trade.Quantity,
			"exitPrice": trade.ExitPrice,
			"pnl":       trade.PNL,
		})
	}
	p.logger.Info(ctx, "Ledger synced", map[string]interface{}{"fills": len(fresh), "trades": len(trades), "lastFillID": last})
	return nil
}

// Cash returns the free quote asset balance.
func (p *LivePortfolio) Cash(ctx context.Context) (float64, error) {
	var cash float64
	err := utils.Retry(ctx, p.cfg.UpdateState, ports.IsTransient, func() error {
		var err error
		cash, err = p.exchange.GetAccountBalance(ctx, p.cfg.QuoteAsset)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get %s balance: %w", p.cfg.QuoteAsset, err)
	}
	return cash, nil
}

// Position returns the ledger holding for symbol, or nil.
func (p *LivePortfolio) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.Position(symbol), nil
}

// HasOpenOrders reports whether the exchange lists unfilled orders for symbol.
func (p *LivePortfolio) HasOpenOrders(ctx context.Context, symbol string) (bool, error) {
	var orders []*domain.Order
	err := utils.Retry(ctx, p.cfg.OpenOrders, ports.IsTransient, func() error {
		var err error
		orders, err = p.exchange.ListOpenOrders(ctx, symbol)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to list open orders: %w", err)
	}
	return len(orders) > 0, nil
}
