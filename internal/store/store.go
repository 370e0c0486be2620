// Package store defines storage interfaces for persisting and retrieving
// holdings and daily price history.
package store

import (
	"context"
	"errors"

	"folio/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// PriceStore persists daily price history keyed by (ticker, date).
type PriceStore interface {
	// ExistingDates returns the dates in [start, end] that already have a
	// stored bar for ticker. Bars fetched during the current UTC day are
	// excluded so that they are re-fetched until the day has passed.
	ExistingDates(ctx context.Context, ticker, start, end string) (map[string]struct{}, error)

	// BatchUpsert creates or replaces every bar in one transaction and
	// returns the number of rows affected. Either all bars are applied or
	// none are.
	BatchUpsert(ctx context.Context, bars []domain.PriceBar) (int64, error)

	// AllTickers returns the sorted distinct set of tracked tickers.
	AllTickers(ctx context.Context) ([]string, error)

	// ReadBars returns stored bars for ticker within [start, end], ordered
	// by date.
	ReadBars(ctx context.Context, ticker, start, end string) ([]domain.PriceBar, error)
}

// HoldingStore persists portfolio holdings.
type HoldingStore interface {
	// ListHoldings returns all holdings ordered by ticker.
	ListHoldings(ctx context.Context) ([]domain.Holding, error)

	// GetHolding returns the holding for ticker, or ErrNotFound.
	GetHolding(ctx context.Context, ticker string) (*domain.Holding, error)

	// UpsertHolding inserts or replaces a holding.
	UpsertHolding(ctx context.Context, h domain.Holding) error

	// DeleteHolding removes the holding for ticker, or returns ErrNotFound.
	DeleteHolding(ctx context.Context, ticker string) error

	// ImportHoldings upserts a batch of holdings in one transaction.
	ImportHoldings(ctx context.Context, holdings []domain.Holding) (int64, error)

	// UpdatePrices sets the current price of existing holdings.
	UpdatePrices(ctx context.Context, prices map[string]float64) (int64, error)
}
