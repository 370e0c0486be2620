// Package app assembles the store, providers and sync service from
// configuration. It is shared by cmd/folio-server and cmd/folio.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"folio/internal/config"
	"folio/internal/domain"
	"folio/internal/gather/history"
	"folio/internal/provider"
	"folio/internal/store"
)

// App holds the initialized components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *store.SQLiteStore
	Archive  *store.ParquetArchive
	Primary  *provider.Alpaca
	Fallback *provider.Chain
	Syncer   *history.Syncer
}

// New opens the store and builds the provider chain and Syncer.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	epoch, err := domain.ParseDate(cfg.Sync.StartDate)
	if err != nil {
		return nil, fmt.Errorf("sync.start_date: %w", err)
	}

	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	primary, fallback := Sources(cfg, log)

	return &App{
		Config:   cfg,
		Logger:   log,
		Store:    st,
		Archive:  store.NewParquetArchive(cfg.Storage.ArchiveDir),
		Primary:  primary,
		Fallback: fallback,
		Syncer:   history.NewSyncer(st, primary, fallback, epoch, history.WithLogger(log)),
	}, nil
}

// Sources builds the primary Alpaca source and the fallback chain in fixed
// order: Alpaca OTC feed, Yahoo, then Polygon when a key is configured.
func Sources(cfg *config.Config, log *slog.Logger) (*provider.Alpaca, *provider.Chain) {
	if log == nil {
		log = slog.Default()
	}
	primary := provider.NewAlpaca(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
		provider.WithAlpacaLogger(log))

	var fallbacks []provider.Source
	if cfg.OTCFallbackEnabled() {
		fallbacks = append(fallbacks, provider.NewAlpaca(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
			provider.WithOTCFeed(), provider.WithAlpacaLogger(log)))
	}
	if cfg.YahooEnabled() {
		opts := []provider.YahooOption{
			provider.WithYahooRateLimit(cfg.Yahoo.RateLimit),
			provider.WithYahooLogger(log),
		}
		if cfg.Yahoo.BaseURL != "" {
			opts = append(opts, provider.WithYahooBaseURL(cfg.Yahoo.BaseURL))
		}
		fallbacks = append(fallbacks, provider.NewYahoo(opts...))
	}
	if cfg.Polygon.APIKey != "" {
		fallbacks = append(fallbacks, provider.NewPolygon(cfg.Polygon.APIKey, nil, log))
	}

	return primary, provider.NewChain(log, fallbacks...)
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// Export copies stored bars in [start, end] for every tracked ticker into
// the Parquet archive and returns the number of bars written.
func (a *App) Export(ctx context.Context, start, end string) (int, error) {
	tickers, err := a.Store.AllTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing tickers: %w", err)
	}

	exported := 0
	for _, ticker := range tickers {
		bars, err := a.Store.ReadBars(ctx, ticker, start, end)
		if err != nil {
			return exported, err
		}
		if len(bars) == 0 {
			continue
		}
		if _, err := a.Archive.WriteBars(ctx, bars); err != nil {
			return exported, fmt.Errorf("archiving %s: %w", ticker, err)
		}
		exported += len(bars)
	}
	a.Logger.Info("export complete", "tickers", len(tickers), "bars", exported, "dir", a.Archive.DataDir)
	return exported, nil
}

// RefreshPrices sets each holding's current price from the latest Alpaca
// daily bar and returns the number of holdings updated.
func (a *App) RefreshPrices(ctx context.Context) (int64, error) {
	tickers, err := a.Store.AllTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing tickers: %w", err)
	}
	closes, err := a.Primary.LatestCloses(ctx, tickers)
	if err != nil {
		return 0, err
	}
	return a.Store.UpdatePrices(ctx, closes)
}
