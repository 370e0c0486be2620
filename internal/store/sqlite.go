package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"

	"folio/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ PriceStore = (*SQLiteStore)(nil)
var _ HoldingStore = (*SQLiteStore)(nil)

// SQLiteStore implements PriceStore and HoldingStore backed by a SQLite
// database. It is opened once at process start and closed at shutdown.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the wall clock used for fetch timestamps and the
// same-day refresh rule.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dbPath, err)
	}
	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS holdings (
			ticker            TEXT PRIMARY KEY,
			shares            REAL NOT NULL,
			cost_basis        REAL NOT NULL,
			current_price     REAL,
			target_allocation REAL,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			ticker      TEXT NOT NULL,
			date        TEXT NOT NULL,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      INTEGER NOT NULL DEFAULT 0,
			vwap        REAL,
			trade_count INTEGER,
			fetched_at  INTEGER NOT NULL,
			UNIQUE (ticker, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_ticker_date ON price_history(ticker, date)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// ExistingDates returns stored dates for ticker in [start, end] whose fetch
// timestamp is before the start of the current UTC day.
func (s *SQLiteStore) ExistingDates(ctx context.Context, ticker, start, end string) (map[string]struct{}, error) {
	today := domain.StartOfDay(s.now()).UnixMilli()

	rows, err := s.db.QueryContext(ctx,
		`SELECT date FROM price_history
		 WHERE ticker = ? AND date >= ? AND date <= ? AND fetched_at < ?`,
		ticker, start, end, today,
	)
	if err != nil {
		return nil, fmt.Errorf("querying dates for %s: %w", ticker, err)
	}
	defer rows.Close()

	dates := make(map[string]struct{})
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning date for %s: %w", ticker, err)
		}
		dates[d] = struct{}{}
	}
	return dates, rows.Err()
}

// BatchUpsert writes bars in a single transaction, replacing existing rows
// on (ticker, date) and refreshing fetched_at.
func (s *SQLiteStore) BatchUpsert(ctx context.Context, bars []domain.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO price_history
		(ticker, date, open, high, low, close, volume, vwap, trade_count, fetched_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(ticker, date) DO UPDATE SET
			open        = excluded.open,
			high        = excluded.high,
			low         = excluded.low,
			close       = excluded.close,
			volume      = excluded.volume,
			vwap        = excluded.vwap,
			trade_count = excluded.trade_count,
			fetched_at  = excluded.fetched_at`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	fetchedAt := s.now().UnixMilli()
	var affected int64
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx,
			b.Ticker, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume,
			b.VWAP, b.TradeCount, fetchedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("upserting %s %s: %w", b.Ticker, b.Date, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return affected, nil
}

// AllTickers returns the sorted distinct tickers of all holdings.
func (s *SQLiteStore) AllTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM holdings ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("querying tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// ReadBars returns stored bars for ticker within [start, end].
func (s *SQLiteStore) ReadBars(ctx context.Context, ticker, start, end string) ([]domain.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, date, open, high, low, close, volume, vwap, trade_count, fetched_at
		 FROM price_history
		 WHERE ticker = ? AND date >= ? AND date <= ?
		 ORDER BY date`,
		ticker, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("querying bars for %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var (
			b         domain.PriceBar
			fetchedAt int64
		)
		if err := rows.Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close,
			&b.Volume, &b.VWAP, &b.TradeCount, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scanning bar for %s: %w", ticker, err)
		}
		b.FetchedAt = time.UnixMilli(fetchedAt).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ---------------------------------------------------------------------------
// HoldingStore implementation
// ---------------------------------------------------------------------------

const holdingColumns = `ticker, shares, cost_basis, current_price, target_allocation, updated_at`

const upsertHoldingSQL = `INSERT INTO holdings (` + holdingColumns + `)
	VALUES (?,?,?,?,?,?)
	ON CONFLICT(ticker) DO UPDATE SET
		shares            = excluded.shares,
		cost_basis        = excluded.cost_basis,
		current_price     = excluded.current_price,
		target_allocation = excluded.target_allocation,
		updated_at        = excluded.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHolding(row rowScanner) (domain.Holding, error) {
	var (
		h         domain.Holding
		updatedAt int64
	)
	if err := row.Scan(&h.Ticker, &h.Shares, &h.CostBasis, &h.CurrentPrice, &h.TargetAllocation, &updatedAt); err != nil {
		return domain.Holding{}, err
	}
	h.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return h, nil
}

// ListHoldings returns all holdings ordered by ticker.
func (s *SQLiteStore) ListHoldings(ctx context.Context) ([]domain.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+holdingColumns+` FROM holdings ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("querying holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// GetHolding returns the holding for ticker.
func (s *SQLiteStore) GetHolding(ctx context.Context, ticker string) (*domain.Holding, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+holdingColumns+` FROM holdings WHERE ticker = ?`,
		domain.NormalizeTicker(ticker))
	h, err := scanHolding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("holding %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying holding %s: %w", ticker, err)
	}
	return &h, nil
}

// UpsertHolding validates and inserts or replaces a holding.
func (s *SQLiteStore) UpsertHolding(ctx context.Context, h domain.Holding) error {
	h.Normalize()
	if err := h.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, upsertHoldingSQL,
		h.Ticker, h.Shares, h.CostBasis, h.CurrentPrice, h.TargetAllocation, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting holding %s: %w", h.Ticker, err)
	}
	return nil
}

// DeleteHolding removes the holding for ticker. Its price history is kept.
func (s *SQLiteStore) DeleteHolding(ctx context.Context, ticker string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM holdings WHERE ticker = ?`, domain.NormalizeTicker(ticker))
	if err != nil {
		return fmt.Errorf("deleting holding %s: %w", ticker, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("holding %s: %w", ticker, ErrNotFound)
	}
	return nil
}

// ImportHoldings validates every holding first and then upserts the batch
// in one transaction; an invalid row rejects the whole batch.
func (s *SQLiteStore) ImportHoldings(ctx context.Context, holdings []domain.Holding) (int64, error) {
	if len(holdings) == 0 {
		return 0, nil
	}
	for i := range holdings {
		holdings[i].Normalize()
		if err := holdings[i].Validate(); err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.PrepareContext(ctx, upsertHoldingSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing holding upsert: %w", err)
	}
	defer stmt.Close()

	updatedAt := s.now().UnixMilli()
	var affected int64
	for _, h := range holdings {
		res, err := stmt.ExecContext(ctx,
			h.Ticker, h.Shares, h.CostBasis, h.CurrentPrice, h.TargetAllocation, updatedAt)
		if err != nil {
			return 0, fmt.Errorf("importing holding %s: %w", h.Ticker, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return affected, nil
}

// UpdatePrices sets current_price for each listed ticker that exists.
// Non-positive prices are ignored.
func (s *SQLiteStore) UpdatePrices(ctx context.Context, prices map[string]float64) (int64, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	updatedAt := s.now().UnixMilli()
	var affected int64
	for ticker, price := range prices {
		if price <= 0 {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE holdings SET current_price = ?, updated_at = ? WHERE ticker = ?`,
			null.FloatFrom(price), updatedAt, domain.NormalizeTicker(ticker))
		if err != nil {
			return 0, fmt.Errorf("updating price for %s: %w", ticker, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing price update: %w", err)
	}
	return affected, nil
}
