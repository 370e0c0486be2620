// Package httpapi provides the JSON REST API used by the browser extension
// and dashboards: price sync, holdings management, price history and
// portfolio reports.
package httpapi

import (
	"folio/internal/domain"
	"folio/internal/gather/history"
	"folio/internal/portfolio"
)

// SyncResponse is returned by POST /api/sync.
type SyncResponse struct {
	Success bool             `json:"success"`
	Synced  int64            `json:"synced"`
	Message string           `json:"message,omitempty"`
	Details *history.Summary `json:"details,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// SyncStatusResponse is returned by GET /api/sync/status.
type SyncStatusResponse struct {
	Success bool                   `json:"success"`
	Tickers []history.TickerStatus `json:"tickers"`
	LastRun *history.LastRun       `json:"last_run,omitempty"`
}

// HoldingsResponse lists holdings.
type HoldingsResponse struct {
	Success  bool             `json:"success"`
	Holdings []domain.Holding `json:"holdings"`
}

// HoldingResponse returns a single holding.
type HoldingResponse struct {
	Success bool            `json:"success"`
	Holding *domain.Holding `json:"holding"`
}

// ImportRequest is the bulk-import body sent by the browser extension. A
// bare JSON array of holdings is accepted as well.
type ImportRequest struct {
	Holdings []domain.Holding `json:"holdings"`
}

// ImportResponse reports a bulk import.
type ImportResponse struct {
	Success  bool  `json:"success"`
	Imported int64 `json:"imported"`
}

// RefreshResponse reports a latest-price refresh.
type RefreshResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated"`
}

// HistoryResponse returns stored bars for one ticker.
type HistoryResponse struct {
	Success bool              `json:"success"`
	Ticker  string            `json:"ticker"`
	Bars    []domain.PriceBar `json:"bars"`
}

// SummaryResponse wraps the portfolio valuation.
type SummaryResponse struct {
	Success bool              `json:"success"`
	Summary portfolio.Summary `json:"summary"`
}

// ValueHistoryResponse returns portfolio value per trading day.
type ValueHistoryResponse struct {
	Success bool                   `json:"success"`
	Points  []portfolio.ValuePoint `json:"points"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
