package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/domain"
	"folio/internal/provider"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// memStore is an in-memory PriceStore applying the same-day refresh rule.
type memStore struct {
	mu        sync.Mutex
	now       func() time.Time
	tickers   []string
	rows      map[string]domain.PriceBar // key: ticker|date
	upserts   int
	upsertErr error
}

func newMemStore(now func() time.Time, tickers ...string) *memStore {
	return &memStore{now: now, tickers: tickers, rows: make(map[string]domain.PriceBar)}
}

func (m *memStore) ExistingDates(_ context.Context, ticker, start, end string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	today := domain.StartOfDay(m.now())
	out := make(map[string]struct{})
	for _, r := range m.rows {
		if r.Ticker == ticker && r.Date >= start && r.Date <= end && r.FetchedAt.Before(today) {
			out[r.Date] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) BatchUpsert(_ context.Context, bars []domain.PriceBar) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	for _, b := range bars {
		b.FetchedAt = m.now()
		m.rows[b.Ticker+"|"+b.Date] = b
	}
	return int64(len(bars)), nil
}

func (m *memStore) AllTickers(context.Context) ([]string, error) {
	out := append([]string(nil), m.tickers...)
	sort.Strings(out)
	return out, nil
}

func (m *memStore) ReadBars(_ context.Context, ticker, start, end string) ([]domain.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceBar
	for _, r := range m.rows {
		if r.Ticker == ticker && r.Date >= start && r.Date <= end {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// seed stores bars as if fetched at the given time.
func (m *memStore) seed(ticker string, fetchedAt time.Time, dates ...string) {
	for _, d := range dates {
		m.rows[ticker+"|"+d] = domain.PriceBar{
			Bar:       domain.Bar{Ticker: ticker, Date: d, Close: 1},
			FetchedAt: fetchedAt,
		}
	}
}

type fetchCall struct {
	tickers    []string
	start, end string
}

// fakeSource serves bars from a fixed table, restricted to the requested
// range.
type fakeSource struct {
	name  string
	bars  map[string][]domain.Bar
	err   error
	calls []fetchCall

	// entered is closed and block awaited before serving, when set.
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchBars(ctx context.Context, tickers []string, start, end time.Time) (map[string][]domain.Bar, error) {
	if f.block != nil {
		close(f.entered)
		<-f.block
	}
	f.calls = append(f.calls, fetchCall{tickers: tickers, start: domain.FormatDate(start), end: domain.FormatDate(end)})
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]domain.Bar)
	s, e := domain.FormatDate(start), domain.FormatDate(end)
	for _, t := range tickers {
		for _, b := range f.bars[t] {
			if b.Date >= s && b.Date <= e {
				out[t] = append(out[t], b)
			}
		}
	}
	return out, nil
}

type credentialSource struct{ fakeSource }

func (c *credentialSource) Validate() error { return provider.ErrMissingCredentials }

func barsFor(ticker string, dates ...string) []domain.Bar {
	out := make([]domain.Bar, len(dates))
	for i, d := range dates {
		out[i] = domain.Bar{Ticker: ticker, Date: d, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000}
	}
	return out
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

var weekOne = []string{"2026-01-01", "2026-01-02", "2026-01-05", "2026-01-06", "2026-01-07", "2026-01-08"}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSyncEmptyTickerSet(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now)
	primary := &fakeSource{name: "primary"}
	fallback := &fakeSource{name: "fallback"}

	s := NewSyncer(st, primary, provider.NewChain(quiet(), fallback), epoch, WithClock(c.Now), WithLogger(quiet()))
	sum, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Zero(t, sum.Synced)
	assert.Empty(t, primary.calls)
	assert.Empty(t, fallback.calls)
	assert.Zero(t, st.upserts)
}

func TestSyncMissingCredentialsBeforeAnything(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now) // no tickers: credentials are still checked
	primary := &credentialSource{fakeSource{name: "alpaca"}}

	s := NewSyncer(st, primary, nil, epoch, WithClock(c.Now), WithLogger(quiet()))
	_, err := s.Sync(context.Background())
	require.ErrorIs(t, err, provider.ErrMissingCredentials)
	assert.Empty(t, primary.calls)
}

func TestSyncEndToEnd(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)} // Thursday
	st := newMemStore(c.Now, "XYZ")
	primary := &fakeSource{name: "primary", bars: map[string][]domain.Bar{"XYZ": barsFor("XYZ", weekOne...)}}

	s := NewSyncer(st, primary, nil, epoch, WithClock(c.Now), WithLogger(quiet()))
	sum, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 6, sum.Synced)
	assert.Equal(t, "2026-01-01", sum.Start)
	assert.Equal(t, "2026-01-08", sum.End)
	assert.NotEmpty(t, sum.RunID)
	require.Len(t, primary.calls, 1)
	assert.Equal(t, fetchCall{tickers: []string{"XYZ"}, start: "2026-01-01", end: "2026-01-08"}, primary.calls[0])

	// Next day: only the new trading day is a gap.
	c.t = time.Date(2026, 1, 9, 1, 0, 0, 0, time.UTC)
	sum, err = s.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Synced, "provider has no bar for 2026-01-09 yet")
	require.Len(t, primary.calls, 2)
	assert.Equal(t, "2026-01-09", primary.calls[1].start)
	assert.Equal(t, []string{"XYZ"}, sum.NoData)
}

func TestSyncSameDayRefetchesTodaysRowsOnly(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now, "XYZ")
	st.seed("XYZ", time.Date(2026, 1, 7, 22, 0, 0, 0, time.UTC), weekOne[:5]...)
	primary := &fakeSource{name: "primary", bars: map[string][]domain.Bar{"XYZ": barsFor("XYZ", weekOne...)}}

	s := NewSyncer(st, primary, nil, epoch, WithClock(c.Now), WithLogger(quiet()))
	sum, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.Synced)

	// Later the same day 2026-01-08 is still provisional and fetched again.
	c.t = c.t.Add(3 * time.Hour)
	sum, err = s.Sync(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.Synced)
	require.Len(t, primary.calls, 2)
	assert.Equal(t, "2026-01-08", primary.calls[1].start)

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []TickerStatus{{Ticker: "XYZ", Total: 6, Existing: 5, Missing: 1}}, status)
}

func TestSyncFiltersToEachTickersGap(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now, "A", "B")
	// B already has the first three trading days.
	yesterday := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	st.seed("B", yesterday, "2026-01-01", "2026-01-02", "2026-01-05")

	primary := &fakeSource{name: "primary", bars: map[string][]domain.Bar{
		"A": barsFor("A", weekOne...),
		"B": barsFor("B", weekOne...),
	}}

	s := NewSyncer(st, primary, nil, epoch, WithClock(c.Now), WithLogger(quiet()))
	sum, err := s.Sync(context.Background())
	require.NoError(t, err)

	// One wide call from A's gap start covers both tickers.
	require.Len(t, primary.calls, 1)
	assert.Equal(t, []string{"A", "B"}, primary.calls[0].tickers)
	assert.Equal(t, "2026-01-01", primary.calls[0].start)

	assert.EqualValues(t, 6+3, sum.Synced)

	bBars, err := st.ReadBars(context.Background(), "B", "2026-01-01", "2026-01-08")
	require.NoError(t, err)
	for _, b := range bBars {
		if b.Date < "2026-01-06" {
			assert.Equal(t, yesterday, b.FetchedAt, "B's pre-existing %s must not be rewritten", b.Date)
		} else {
			assert.Equal(t, c.t, b.FetchedAt)
		}
	}
}

func TestSyncFallback(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now, "AAPL", "GBTC")

	primary := &fakeSource{name: "alpaca", bars: map[string][]domain.Bar{"AAPL": barsFor("AAPL", weekOne...)}}
	otc := &fakeSource{name: "alpaca-otc", err: errors.New("status 400")}
	yahoo := &fakeSource{name: "yahoo", bars: map[string][]domain.Bar{"GBTC": barsFor("GBTC", "2026-01-02", "2026-01-05", "2026-01-06", "2025-12-31")}}

	s := NewSyncer(st, primary, provider.NewChain(quiet(), otc, yahoo), epoch, WithClock(c.Now), WithLogger(quiet()))
	sum, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"GBTC": "yahoo"}, sum.Fallback)
	assert.Empty(t, sum.NoData)

	// Fallback sources are queried for the needy ticker only.
	require.Len(t, otc.calls, 1)
	assert.Equal(t, []string{"GBTC"}, otc.calls[0].tickers)
	require.Len(t, yahoo.calls, 1)

	gbtc, err := st.ReadBars(context.Background(), "GBTC", "2025-01-01", "2026-12-31")
	require.NoError(t, err)
	assert.Len(t, gbtc, 3)
	assert.EqualValues(t, 6+3, sum.Synced)
}

func TestSyncFallbackNoData(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now, "DEAD")
	primary := &fakeSource{name: "alpaca"}
	yahoo := &fakeSource{name: "yahoo", err: errors.New("boom")}

	s := NewSyncer(st, primary, provider.NewChain(quiet(), yahoo), epoch, WithClock(c.Now), WithLogger(quiet()))
	sum, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"DEAD"}, sum.NoData)
	assert.Zero(t, sum.Synced)
	assert.Zero(t, st.upserts)
}

func TestSyncPrimaryErrorPersistsNothing(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now, "AAPL")
	primary := &fakeSource{name: "alpaca", err: errors.New("status 500")}
	yahoo := &fakeSource{name: "yahoo", bars: map[string][]domain.Bar{"AAPL": barsFor("AAPL", weekOne...)}}

	s := NewSyncer(st, primary, provider.NewChain(quiet(), yahoo), epoch, WithClock(c.Now), WithLogger(quiet()))
	_, err := s.Sync(context.Background())
	require.Error(t, err)

	assert.Zero(t, st.upserts)
	assert.Empty(t, yahoo.calls, "fallbacks are not consulted after a fatal primary error")

	last := s.Last()
	require.NotNil(t, last)
	assert.Contains(t, last.Error, "status 500")
}

func TestSyncStorageErrorIsFatal(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now, "AAPL")
	st.upsertErr = errors.New("disk full")
	primary := &fakeSource{name: "alpaca", bars: map[string][]domain.Bar{"AAPL": barsFor("AAPL", weekOne...)}}

	s := NewSyncer(st, primary, nil, epoch, WithClock(c.Now), WithLogger(quiet()))
	_, err := s.Sync(context.Background())
	require.ErrorContains(t, err, "disk full")

	got, err := st.ReadBars(context.Background(), "AAPL", "2026-01-01", "2026-01-08")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSyncRejectsOverlap(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now, "AAPL")
	primary := &fakeSource{name: "alpaca", entered: make(chan struct{}), block: make(chan struct{})}

	s := NewSyncer(st, primary, nil, epoch, WithClock(c.Now), WithLogger(quiet()))

	done := make(chan error, 1)
	go func() {
		_, err := s.Sync(context.Background())
		done <- err
	}()

	select {
	case <-primary.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never reached the provider")
	}

	_, err := s.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(primary.block)
	require.NoError(t, <-done)
}

func TestRunImplementsGatherer(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	s := NewSyncer(newMemStore(c.Now), &fakeSource{name: "p"}, nil, epoch, WithClock(c.Now), WithLogger(quiet()))
	assert.Equal(t, "price-sync", s.Name())
	assert.NoError(t, s.Run(context.Background()))
}

func TestStatusAndLast(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)}
	st := newMemStore(c.Now, "AAPL", "VTI")
	st.seed("VTI", time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC), weekOne[:4]...)

	primary := &fakeSource{name: "alpaca", err: errors.New("upstream 500")}
	s := NewSyncer(st, primary, nil, epoch, WithClock(c.Now), WithLogger(quiet()))
	assert.Nil(t, s.Last())

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []TickerStatus{
		{Ticker: "AAPL", Total: 6, Existing: 0, Missing: 6},
		{Ticker: "VTI", Total: 6, Existing: 4, Missing: 2},
	}, status)

	_, err = s.Sync(context.Background())
	require.Error(t, err)

	last := s.Last()
	require.NotNil(t, last)
	assert.Contains(t, last.Error, "upstream 500")
	assert.Nil(t, last.Summary)
	assert.Equal(t, c.t, last.Finished)
}
