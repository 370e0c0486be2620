package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"folio/internal/domain"
	"folio/internal/gather"
	"folio/internal/provider"
	"folio/internal/store"
)

var _ gather.Gatherer = (*Syncer)(nil)

// ErrSyncInProgress is returned when Sync is called while another sync on
// the same Syncer is still running.
var ErrSyncInProgress = errors.New("price sync already in progress")

// Summary describes one completed sync run.
type Summary struct {
	RunID    string            `json:"run_id"`
	Synced   int64             `json:"synced"`
	Tickers  []string          `json:"tickers,omitempty"`
	Fallback map[string]string `json:"fallback,omitempty"`
	NoData   []string          `json:"no_data,omitempty"`
	Start    string            `json:"start,omitempty"`
	End      string            `json:"end,omitempty"`
}

// TickerStatus reports how much of the epoch-to-today calendar is stored
// for a ticker.
type TickerStatus struct {
	Ticker   string `json:"ticker"`
	Total    int    `json:"total"`
	Existing int    `json:"existing"`
	Missing  int    `json:"missing"`
}

// LastRun records the outcome of the most recent sync.
type LastRun struct {
	Summary  *Summary  `json:"summary,omitempty"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished"`
}

// Syncer reconciles stored price history against the providers.
type Syncer struct {
	store    store.PriceStore
	primary  provider.Source
	fallback *provider.Chain
	epoch    time.Time
	now      func() time.Time
	log      *slog.Logger

	running sync.Mutex

	mu   sync.RWMutex
	last *LastRun
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithClock overrides the clock that decides "today".
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Syncer) {
		s.log = log
	}
}

// NewSyncer creates a Syncer. fallback may be nil. epoch is the first
// calendar day tracked for every ticker.
func NewSyncer(st store.PriceStore, primary provider.Source, fallback *provider.Chain, epoch time.Time, opts ...Option) *Syncer {
	s := &Syncer{
		store:    st,
		primary:  primary,
		fallback: fallback,
		epoch:    domain.StartOfDay(epoch),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "price-sync")
	return s
}

// Name returns the gatherer identifier.
func (s *Syncer) Name() string { return "price-sync" }

// Run performs one sync and discards the summary.
func (s *Syncer) Run(ctx context.Context) error {
	_, err := s.Sync(ctx)
	return err
}

// Last returns the outcome of the most recent sync, or nil if none has
// finished.
func (s *Syncer) Last() *LastRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// Sync fills every tracked ticker's missing trading days from epoch through
// today. All fetched bars are written in one transaction: on any fatal
// error nothing is persisted and the run can simply be repeated.
func (s *Syncer) Sync(ctx context.Context) (*Summary, error) {
	if !s.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.running.Unlock()

	sum, err := s.sync(ctx)

	run := &LastRun{Summary: sum, Finished: s.now()}
	if err != nil {
		run.Error = err.Error()
	}
	s.mu.Lock()
	s.last = run
	s.mu.Unlock()

	return sum, err
}

func (s *Syncer) sync(ctx context.Context) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString()}
	log := s.log.With("run_id", sum.RunID)

	if v, ok := s.primary.(provider.Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.primary.Name(), err)
		}
	}

	tickers, err := s.store.AllTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tickers: %w", err)
	}
	if len(tickers) == 0 {
		log.Info("no tracked tickers")
		return sum, nil
	}

	today := domain.StartOfDay(s.now())
	calendar := TradingDaysIn(gather.DateRange{Start: s.epoch, End: today})
	sum.End = domain.FormatDate(today)

	gaps, err := s.findGaps(ctx, tickers, calendar, sum.End)
	if err != nil {
		return nil, err
	}
	if len(gaps) == 0 {
		log.Info("all tickers up to date", "tickers", len(tickers))
		return sum, nil
	}

	sum.Start = earliest(gaps)
	gapped := make([]string, len(gaps))
	for i, g := range gaps {
		gapped[i] = g.Ticker
	}
	sum.Tickers = gapped
	log.Info("sync starting", "tickers", len(tickers), "gapped", len(gaps), "start", sum.Start, "end", sum.End)

	start, err := domain.ParseDate(sum.Start)
	if err != nil {
		return nil, fmt.Errorf("parsing earliest gap: %w", err)
	}

	fetched, err := s.primary.FetchBars(ctx, gapped, start, today)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.primary.Name(), err)
	}
	if fetched == nil {
		fetched = make(map[string][]domain.Bar)
	}

	for _, ticker := range gapped {
		if len(fetched[ticker]) > 0 {
			continue
		}
		if s.fallback == nil || s.fallback.Len() == 0 {
			sum.NoData = append(sum.NoData, ticker)
			continue
		}
		bars, source := s.fallback.Fetch(ctx, ticker, start, today)
		if len(bars) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sum.NoData = append(sum.NoData, ticker)
			continue
		}
		fetched[ticker] = bars
		if sum.Fallback == nil {
			sum.Fallback = make(map[string]string)
		}
		sum.Fallback[ticker] = source
	}

	var rows []domain.PriceBar
	for _, g := range gaps {
		want := toSet(g.Missing)
		for _, b := range fetched[g.Ticker] {
			if _, ok := want[b.Date]; !ok {
				continue
			}
			rows = append(rows, domain.PriceBar{Bar: b})
		}
	}

	if len(rows) > 0 {
		n, err := s.store.BatchUpsert(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("storing bars: %w", err)
		}
		sum.Synced = n
	}

	log.Info("sync complete",
		"synced", sum.Synced,
		"bars", len(rows),
		"fallback", len(sum.Fallback),
		"no_data", len(sum.NoData),
	)
	return sum, nil
}

// findGaps returns the tickers that miss at least one calendar date, in
// ticker order.
func (s *Syncer) findGaps(ctx context.Context, tickers, calendar []string, end string) ([]SyncGap, error) {
	if len(calendar) == 0 {
		return nil, nil
	}
	var gaps []SyncGap
	for _, ticker := range tickers {
		existing, err := s.store.ExistingDates(ctx, ticker, calendar[0], end)
		if err != nil {
			return nil, fmt.Errorf("existing dates for %s: %w", ticker, err)
		}
		if missing := MissingDates(calendar, existing); len(missing) > 0 {
			gaps = append(gaps, SyncGap{Ticker: ticker, Missing: missing})
		}
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Ticker < gaps[j].Ticker })
	return gaps, nil
}

// Status reports calendar coverage for every tracked ticker.
func (s *Syncer) Status(ctx context.Context) ([]TickerStatus, error) {
	tickers, err := s.store.AllTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tickers: %w", err)
	}

	today := domain.StartOfDay(s.now())
	calendar := TradingDaysIn(gather.DateRange{Start: s.epoch, End: today})
	out := make([]TickerStatus, 0, len(tickers))
	for _, ticker := range tickers {
		st := TickerStatus{Ticker: ticker, Total: len(calendar)}
		if len(calendar) > 0 {
			existing, err := s.store.ExistingDates(ctx, ticker, calendar[0], domain.FormatDate(today))
			if err != nil {
				return nil, fmt.Errorf("existing dates for %s: %w", ticker, err)
			}
			st.Missing = len(MissingDates(calendar, existing))
			st.Existing = st.Total - st.Missing
		}
		out = append(out, st)
	}
	return out, nil
}
