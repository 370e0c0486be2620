package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"folio/internal/domain"
	"folio/internal/gather"
	"folio/internal/gather/history"
	"folio/internal/portfolio"
	"folio/internal/provider"
	"folio/internal/store"
)

const maxBodyBytes = 1 << 20

// Syncer runs and reports price-history syncs.
type Syncer interface {
	Sync(ctx context.Context) (*history.Summary, error)
	Status(ctx context.Context) ([]history.TickerStatus, error)
	Last() *history.LastRun
}

// PriceRefresher updates holdings' current prices from the latest market
// data.
type PriceRefresher interface {
	RefreshPrices(ctx context.Context) (int64, error)
}

// Server serves the folio HTTP API.
type Server struct {
	syncer      Syncer
	holdings    store.HoldingStore
	prices      store.PriceStore
	refresher   PriceRefresher
	epoch       string
	syncTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSyncTimeout bounds a sync triggered over HTTP.
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.syncTimeout = d
	}
}

// WithClock overrides the clock used for default date ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a Server. epoch is the first tracked date
// (YYYY-MM-DD) and the default start of history queries. refresher may be
// nil, in which case price refresh is unavailable.
func NewServer(syncer Syncer, holdings store.HoldingStore, prices store.PriceStore, refresher PriceRefresher, epoch string, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		syncer:    syncer,
		holdings:  holdings,
		prices:    prices,
		refresher: refresher,
		epoch:     epoch,
		now:       time.Now,
		log:       log.With("component", "httpapi"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)
	mux.HandleFunc("GET /api/holdings", s.handleListHoldings)
	mux.HandleFunc("POST /api/holdings", s.handleUpsertHolding)
	mux.HandleFunc("DELETE /api/holdings/{ticker}", s.handleDeleteHolding)
	mux.HandleFunc("POST /api/holdings/import", s.handleImport)
	mux.HandleFunc("POST /api/holdings/refresh-prices", s.handleRefreshPrices)
	mux.HandleFunc("GET /api/history/{ticker}", s.handleHistory)
	mux.HandleFunc("GET /api/portfolio/summary", s.handlePortfolioSummary)
	mux.HandleFunc("GET /api/portfolio/history", s.handlePortfolioHistory)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"ok": true})
	})
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Success: false, Error: msg})
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

// syncErrorMessage maps a sync failure to a status code and a message safe
// to show to the caller.
func syncErrorMessage(err error) (int, string) {
	switch {
	case errors.Is(err, provider.ErrMissingCredentials):
		return http.StatusServiceUnavailable, "market data credentials are not configured"
	case errors.Is(err, history.ErrSyncInProgress):
		return http.StatusConflict, "a price sync is already running"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "price sync timed out; it is safe to retry"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "price sync was cancelled"
	default:
		return http.StatusInternalServerError, "price sync failed"
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.syncTimeout)
		defer cancel()
	}

	sum, err := s.syncer.Sync(ctx)
	if err != nil {
		s.log.Error("sync failed", "error", err)
		status, msg := syncErrorMessage(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(SyncResponse{Success: false, Error: msg})
		return
	}

	resp := SyncResponse{Success: true, Synced: sum.Synced, Details: sum}
	switch {
	case sum.Synced > 0:
		resp.Message = fmt.Sprintf("synced %d price records", sum.Synced)
	case len(sum.Tickers) == 0:
		resp.Message = "price history is up to date"
	default:
		resp.Message = "no new price data available"
	}
	writeJSON(w, resp)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.syncer.Status(r.Context())
	if err != nil {
		s.log.Error("sync status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute sync status")
		return
	}
	writeJSON(w, SyncStatusResponse{Success: true, Tickers: tickers, LastRun: s.syncer.Last()})
}

// ---------------------------------------------------------------------------
// Holdings
// ---------------------------------------------------------------------------

func (s *Server) handleListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.holdings.ListHoldings(r.Context())
	if err != nil {
		s.log.Error("listing holdings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list holdings")
		return
	}
	if holdings == nil {
		holdings = []domain.Holding{}
	}
	writeJSON(w, HoldingsResponse{Success: true, Holdings: holdings})
}

func (s *Server) handleUpsertHolding(w http.ResponseWriter, r *http.Request) {
	var h domain.Holding
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&h); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.holdings.UpsertHolding(r.Context(), h); err != nil {
		if errors.Is(err, domain.ErrInvalidHolding) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("saving holding", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save holding")
		return
	}

	saved, err := s.holdings.GetHolding(r.Context(), h.Ticker)
	if err != nil {
		s.log.Error("reading saved holding", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read holding")
		return
	}
	writeJSON(w, HoldingResponse{Success: true, Holding: saved})
}

func (s *Server) handleDeleteHolding(w http.ResponseWriter, r *http.Request) {
	ticker := domain.NormalizeTicker(r.PathValue("ticker"))
	if err := s.holdings.DeleteHolding(r.Context(), ticker); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("holding %s not found", ticker))
			return
		}
		s.log.Error("deleting holding", "ticker", ticker, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete holding")
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req ImportRequest
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &req.Holdings)
	} else {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Holdings) == 0 {
		writeError(w, http.StatusBadRequest, "no holdings to import")
		return
	}

	n, err := s.holdings.ImportHoldings(r.Context(), req.Holdings)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidHolding) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("importing holdings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to import holdings")
		return
	}
	s.log.Info("holdings imported", "count", len(req.Holdings))
	writeJSON(w, ImportResponse{Success: true, Imported: n})
}

func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "price refresh not configured")
		return
	}
	n, err := s.refresher.RefreshPrices(r.Context())
	if err != nil {
		s.log.Error("refreshing prices", "error", err)
		if errors.Is(err, provider.ErrMissingCredentials) {
			writeError(w, http.StatusServiceUnavailable, "market data credentials are not configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to refresh prices")
		return
	}
	writeJSON(w, RefreshResponse{Success: true, Updated: n})
}

// ---------------------------------------------------------------------------
// History and reports
// ---------------------------------------------------------------------------

// dateRange reads ?start= and ?end=, defaulting to the epoch and today.
func (s *Server) dateRange(r *http.Request) (gather.DateRange, error) {
	start := r.URL.Query().Get("start")
	if start == "" {
		start = s.epoch
	}
	end := r.URL.Query().Get("end")
	if end == "" {
		end = domain.FormatDate(s.now())
	}

	var (
		rng gather.DateRange
		err error
	)
	if rng.Start, err = domain.ParseDate(start); err != nil {
		return rng, fmt.Errorf("invalid start date %q", start)
	}
	if rng.End, err = domain.ParseDate(end); err != nil {
		return rng, fmt.Errorf("invalid end date %q", end)
	}
	if !rng.Valid() {
		return rng, fmt.Errorf("start %s is after end %s", start, end)
	}
	return rng, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ticker := domain.NormalizeTicker(r.PathValue("ticker"))
	rng, err := s.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end := domain.FormatDate(rng.Start), domain.FormatDate(rng.End)

	bars, err := s.prices.ReadBars(r.Context(), ticker, start, end)
	if err != nil {
		s.log.Error("reading history", "ticker", ticker, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read price history")
		return
	}
	if bars == nil {
		bars = []domain.PriceBar{}
	}
	writeJSON(w, HistoryResponse{Success: true, Ticker: ticker, Bars: bars})
}

// loadSeries reads each holding's stored bars from the epoch through end.
func (s *Server) loadSeries(ctx context.Context, holdings []domain.Holding, end string) (map[string][]domain.PriceBar, error) {
	series := make(map[string][]domain.PriceBar, len(holdings))
	for _, h := range holdings {
		bars, err := s.prices.ReadBars(ctx, h.Ticker, s.epoch, end)
		if err != nil {
			return nil, err
		}
		series[h.Ticker] = bars
	}
	return series, nil
}

func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.holdings.ListHoldings(r.Context())
	if err != nil {
		s.log.Error("listing holdings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list holdings")
		return
	}
	series, err := s.loadSeries(r.Context(), holdings, domain.FormatDate(s.now()))
	if err != nil {
		s.log.Error("reading history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read price history")
		return
	}
	writeJSON(w, SummaryResponse{Success: true, Summary: portfolio.Summarize(holdings, portfolio.LatestCloses(series))})
}

func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	rng, err := s.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holdings, err := s.holdings.ListHoldings(r.Context())
	if err != nil {
		s.log.Error("listing holdings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list holdings")
		return
	}
	series, err := s.loadSeries(r.Context(), holdings, domain.FormatDate(rng.End))
	if err != nil {
		s.log.Error("reading history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read price history")
		return
	}

	dates := history.TradingDaysIn(rng)
	points := portfolio.History(holdings, series, dates)
	writeJSON(w, ValueHistoryResponse{Success: true, Points: points})
}
