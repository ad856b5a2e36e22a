package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"buyLowSellHigh/internal/domain"
	"buyLowSellHigh/internal/ports"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.FillRepository, ports.TradeRepository,
// ports.LedgerSyncRepository and ports.BarErrorRepository using SQLite. Positions are served by the
// PositionStore returned from Positions, which shares the same connection.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/lowbuyer.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer; the driver serializes the rest.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		amount REAL NOT NULL,
		cost_basis REAL NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exchange_id INTEGER NOT NULL,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		intent TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		filled_at TIMESTAMP NOT NULL,
		UNIQUE (symbol, exchange_id)
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS bar_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		bar_time TIMESTAMP NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_exit_time ON trade_history (symbol, exit_time);
	CREATE INDEX IF NOT EXISTS idx_bar_errors_run_id ON bar_errors (run_id);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Positions returns the ports.PositionRepository view of this database.
func (r *Repository) Positions() *PositionStore {
	return &PositionStore{repo: r}
}

// --- PositionRepository Implementation ---

// PositionStore persists the current holding per symbol.
type PositionStore struct {
	repo *Repository
}

// FindBySymbol returns the stored holding for symbol, or nil, nil.
func (s *PositionStore) FindBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	const query = `
	SELECT symbol, amount, cost_basis, opened_at, updated_at
	FROM positions
	WHERE symbol = ?`

	pos, err := scanPosition(s.repo.db.QueryRowContext(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	return pos, nil
}

// Save inserts or replaces the holding for pos.Symbol.
func (s *PositionStore) Save(ctx context.Context, pos *domain.Position) error {
	if err := savePosition(ctx, s.repo.db, pos); err != nil {
		return err
	}
	s.repo.logger.Debug(ctx, "Position saved", map[string]interface{}{
		"symbol": pos.Symbol, "amount": pos.Amount, "costBasis": pos.CostBasis,
	})
	return nil
}

// Delete removes the holding for symbol.
func (s *PositionStore) Delete(ctx context.Context, symbol string) error {
	if err := deletePosition(ctx, s.repo.db, symbol); err != nil {
		return err
	}
	s.repo.logger.Debug(ctx, "Position deleted", map[string]interface{}{"symbol": symbol})
	return nil
}

func savePosition(ctx context.Context, ex execer, pos *domain.Position) error {
	if pos == nil || pos.Symbol == "" {
		return fmt.Errorf("position without symbol: %w", ports.ErrInvalidRequest)
	}
	const query = `
	INSERT INTO positions (symbol, amount, cost_basis, opened_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		amount = excluded.amount,
		cost_basis = excluded.cost_basis,
		opened_at = excluded.opened_at,
		updated_at = excluded.updated_at`

	_, err := ex.ExecContext(ctx, query,
		pos.Symbol, pos.Amount, pos.CostBasis, pos.OpenedAt.UTC(), pos.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save position for symbol %s: %w: %w", pos.Symbol, ports.ErrUpdateFailed, err)
	}
	return nil
}

func deletePosition(ctx context.Context, ex execer, symbol string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to delete position for symbol %s: %w: %w", symbol, ports.ErrUpdateFailed, err)
	}
	return nil
}

// --- FillRepository Implementation ---

// CreateFill saves a fill and returns its row id.
func (r *Repository) CreateFill(ctx context.Context, fill *domain.Fill) (int64, error) {
	id, err := insertFill(ctx, r.db, fill)
	if err != nil {
		return 0, err
	}
	r.logger.Debug(ctx, "Fill stored", map[string]interface{}{"fillID": id, "exchangeID": fill.ExchangeID, "symbol": fill.Symbol})
	return id, nil
}

func insertFill(ctx context.Context, ex execer, fill *domain.Fill) (int64, error) {
	const query = `
	INSERT INTO fills (exchange_id, order_id, symbol, side, intent, quantity, price, filled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := ex.ExecContext(ctx, query,
		fill.ExchangeID, fill.OrderID, fill.Symbol, string(fill.Side), string(fill.Intent),
		fill.Quantity, fill.Price, fill.Time.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("fill %d for symbol %s: %w", fill.ExchangeID, fill.Symbol, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert fill for symbol %s: %w: %w", fill.Symbol, ports.ErrUpdateFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for fill %s: %w", fill.Symbol, err)
	}
	fill.ID = id
	return id, nil
}

// LastExchangeFillID returns the highest stored exchange trade id for symbol.
func (r *Repository) LastExchangeFillID(ctx context.Context, symbol string) (int64, error) {
	const query = `SELECT COALESCE(MAX(exchange_id), 0) FROM fills WHERE symbol = ?`
	var last int64
	if err := r.db.QueryRowContext(ctx, query, symbol).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to query last fill id for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	return last, nil
}

// FindFillsBySymbol returns all fills for symbol, oldest first.
func (r *Repository) FindFillsBySymbol(ctx context.Context, symbol string) ([]*domain.Fill, error) {
	const query = `
	SELECT id, exchange_id, order_id, symbol, side, intent, quantity, price, filled_at
	FROM fills
	WHERE symbol = ? ORDER BY exchange_id ASC`

	rows, err := r.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	fills := make([]*domain.Fill, 0)
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fill rows: %w", err)
	}
	return fills, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	id, err := insertTrade(ctx, r.db, trade)
	if err != nil {
		return 0, err
	}
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

func insertTrade(ctx context.Context, ex execer, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, entry_price, exit_price, quantity, pnl, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := ex.ExecContext(ctx, query,
		trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PNL,
		trade.EntryTime.UTC(), trade.ExitTime.UTC(), string(trade.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w: %w", trade.Symbol, ports.ErrUpdateFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, entry_price, exit_price, quantity, pnl, entry_time, exit_time, close_reason
	FROM trade_history
	WHERE symbol = ? ORDER BY exit_time DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during FindBySymbol: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// GetTotalProfit sums realized PNL for symbol.
func (r *Repository) GetTotalProfit(ctx context.Context, symbol string) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trade_history WHERE symbol = ?`
	var total float64
	if err := r.db.QueryRowContext(ctx, query, symbol).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to calculate total profit: %w: %w", ports.ErrQueryFailed, err)
	}
	return total, nil
}

// --- LedgerSyncRepository Implementation ---

// CommitSync stores one sync's fills and trades and replaces the holding for
// symbol in a single transaction. A nil pos deletes the holding.
func (r *Repository) CommitSync(ctx context.Context, symbol string, fills []*domain.Fill, trades []*domain.Trade, pos *domain.Position) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger sync for symbol %s: %w: %w", symbol, ports.ErrDBConnection, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error(ctx, rbErr, "Failed to roll back ledger sync", map[string]interface{}{"symbol": symbol})
			}
		}
	}()

	stored := 0
	for _, f := range fills {
		if _, err = insertFill(ctx, tx, f); err != nil {
			if !errors.Is(err, ports.ErrDuplicateEntry) {
				return err
			}
			err = nil
			continue
		}
		stored++
	}
	for _, t := range trades {
		if _, err = insertTrade(ctx, tx, t); err != nil {
			return err
		}
	}
	if pos == nil {
		err = deletePosition(ctx, tx, symbol)
	} else {
		err = savePosition(ctx, tx, pos)
	}
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger sync for symbol %s: %w: %w", symbol, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Ledger sync committed", map[string]interface{}{
		"symbol": symbol, "fills": stored, "trades": len(trades), "holding": pos != nil,
	})
	return nil
}

// --- BarErrorRepository Implementation ---

// CreateBarError stores a captured bar fault.
func (r *Repository) CreateBarError(ctx context.Context, e *domain.BarError) (int64, error) {
	const query = `INSERT INTO bar_errors (run_id, symbol, bar_time, message) VALUES (?, ?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query, e.RunID, e.Symbol, e.BarTime.UTC(), e.Message)
	if err != nil {
		return 0, fmt.Errorf("failed to insert bar error for run %s: %w: %w", e.RunID, ports.ErrUpdateFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for bar error: %w", err)
	}
	e.ID = id
	return id, nil
}

// FindByRun returns the faults captured during one run, oldest first.
func (r *Repository) FindByRun(ctx context.Context, runID string) ([]*domain.BarError, error) {
	const query = `
	SELECT id, run_id, symbol, bar_time, message
	FROM bar_errors
	WHERE run_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bar errors for run %s: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	out := make([]*domain.BarError, 0)
	for rows.Next() {
		e := &domain.BarError{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Symbol, &e.BarTime, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan bar error: %w", err)
		}
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bar error rows: %w", err)
	}
	return out, nil
}

// CountByRun returns how many faults were captured during one run.
func (r *Repository) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bar_errors WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bar errors for run %s: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	return n, nil
}

// --- Helper Scan Functions ---

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	if err := s.Scan(&p.Symbol, &p.Amount, &p.CostBasis, &p.OpenedAt, &p.UpdatedAt); err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	return p, nil
}

func scanFill(s scanner) (*domain.Fill, error) {
	f := &domain.Fill{}
	var side, intent string
	err := s.Scan(&f.ID, &f.ExchangeID, &f.OrderID, &f.Symbol, &side, &intent, &f.Quantity, &f.Price, &f.Time)
	if err != nil {
		return nil, err
	}
	f.Side = domain.OrderSide(side)
	f.Intent = domain.OrderIntent(intent)
	return f, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.Symbol, &th.EntryPrice, &th.ExitPrice, &th.Quantity, &th.PNL,
		&th.EntryTime, &th.ExitTime, &closeReason)
	if err != nil {
		return nil, err
	}
	if closeReason.Valid && closeReason.String != "" {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	return th, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var (
	_ ports.PositionRepository = (*PositionStore)(nil)
	_ ports.FillRepository     = (*Repository)(nil)
	_ ports.TradeRepository    = (*Repository)(nil)
	_ ports.BarErrorRepository = (*Repository)(nil)

	_ ports.LedgerSyncRepository = (*Repository)(nil)
)
