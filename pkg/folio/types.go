package folio

import (
	"folio/internal/domain"
	"folio/internal/gather/history"
	"folio/internal/httpapi"
	"folio/internal/portfolio"
)

// Wire types used by the client. They are the server's own types, so the
// JSON encoding on both sides cannot drift.
type (
	// Holding is one position in the tracked portfolio.
	Holding = domain.Holding
	// Bar is one normalized daily OHLCV observation.
	Bar = domain.Bar
	// PriceBar is a stored Bar with its fetch time.
	PriceBar = domain.PriceBar

	// SyncSummary describes one completed sync run.
	SyncSummary = history.Summary
	// TickerStatus is the stored coverage of one ticker.
	TickerStatus = history.TickerStatus
	// LastRun is the outcome of the most recent sync.
	LastRun = history.LastRun

	Position         = portfolio.Position
	PortfolioSummary = portfolio.Summary
	ValuePoint       = portfolio.ValuePoint

	SyncResponse         = httpapi.SyncResponse
	SyncStatusResponse   = httpapi.SyncStatusResponse
	SummaryResponse      = httpapi.SummaryResponse
	ValueHistoryResponse = httpapi.ValueHistoryResponse
)
