package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	rmodels "github.com/polygon-io/client-go/rest/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ---------------------------------------------------------------------------
// Alpaca
// ---------------------------------------------------------------------------

func TestAlpacaValidate(t *testing.T) {
	assert.ErrorIs(t, NewAlpaca("", "secret", "").Validate(), ErrMissingCredentials)
	assert.ErrorIs(t, NewAlpaca("key", "", "").Validate(), ErrMissingCredentials)
	assert.NoError(t, NewAlpaca("key", "secret", "").Validate())
}

func TestAlpacaMissingCredentialsMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := NewAlpaca("", "", srv.URL, WithAlpacaLogger(quietLogger()))
	_, err := a.FetchBars(context.Background(), []string{"AAPL"}, day("2026-01-01"), day("2026-01-08"))
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Zero(t, calls.Load())
}

func TestAlpacaFetchBarsPaginates(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/bars", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1Day", q.Get("timeframe"))
		assert.Equal(t, "split", q.Get("adjustment"))
		assert.Equal(t, "sip", q.Get("feed"))

		w.Header().Set("Content-Type", "application/json")
		pages.Add(1)
		if q.Get("page_token") == "" {
			fmt.Fprint(w, `{"bars":{
				"AAPL":[{"t":"2026-01-02T05:00:00Z","o":185,"h":186.5,"l":184,"c":185.5,"v":50000000,"n":500000,"vw":185.25}],
				"MSFT":[{"t":"2026-01-02T05:00:00Z","o":400,"h":405,"l":399,"c":404,"v":20000000,"n":250000,"vw":402.1}]
			},"next_page_token":"page2"}`)
			return
		}
		assert.Equal(t, "page2", q.Get("page_token"))
		fmt.Fprint(w, `{"bars":{
			"AAPL":[{"t":"2026-01-05T05:00:00Z","o":185.5,"h":187,"l":185,"c":186,"v":45000000,"n":450000,"vw":186.1}]
		},"next_page_token":null}`)
	}))
	defer srv.Close()

	a := NewAlpaca("key", "secret", srv.URL, WithAlpacaLogger(quietLogger()))
	got, err := a.FetchBars(context.Background(), []string{"AAPL", "MSFT"}, day("2026-01-01"), day("2026-01-08"))
	require.NoError(t, err)

	assert.EqualValues(t, 2, pages.Load())
	require.Len(t, got["AAPL"], 2, "pages must be merged per ticker")
	require.Len(t, got["MSFT"], 1)

	assert.Equal(t, "2026-01-02", got["AAPL"][0].Date)
	assert.Equal(t, "2026-01-05", got["AAPL"][1].Date)
	assert.Equal(t, int64(45000000), got["AAPL"][1].Volume)
	assert.True(t, got["AAPL"][0].VWAP.Valid)
	assert.Equal(t, int64(500000), got["AAPL"][0].TradeCount.Int64)
}

func TestAlpacaPrimaryErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewAlpaca("key", "secret", srv.URL, WithAlpacaLogger(quietLogger()))
	_, err := a.FetchBars(context.Background(), []string{"AAPL"}, day("2026-01-01"), day("2026-01-08"))
	assert.Error(t, err)
}

func TestAlpacaHungRequestBoundedByClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	a := NewAlpaca("key", "secret", srv.URL,
		WithAlpacaHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
		WithAlpacaLogger(quietLogger()))

	start := time.Now()
	_, err := a.FetchBars(context.Background(), []string{"AAPL"}, day("2026-01-01"), day("2026-01-08"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAlpacaSecondaryFeedAbsorbsErrors(t *testing.T) {
	var feed atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		feed.Store(r.URL.Query().Get("feed"))
		http.Error(w, `{"message":"invalid feed"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewAlpaca("key", "secret", srv.URL, WithOTCFeed(), WithAlpacaLogger(quietLogger()))
	assert.Equal(t, "alpaca-otc", a.Name())

	got, err := a.FetchBars(context.Background(), []string{"GBTC"}, day("2026-01-01"), day("2026-01-08"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "otc", feed.Load())
}

// ---------------------------------------------------------------------------
// Yahoo
// ---------------------------------------------------------------------------

const yahooChartBody = `{"chart":{"result":[{
	"meta":{"symbol":"GBTC"},
	"timestamp":[1767362400,1767621600,1767708000],
	"indicators":{"quote":[{
		"open":[50.1,null,51.0],
		"high":[51.0,null,52.0],
		"low":[49.5,null,50.5],
		"close":[50.8,null,51.7],
		"volume":[1200000,null,null]
	}]}
}],"error":null}}`

func TestYahooFetchBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/GBTC", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, yahooChartBody)
	}))
	defer srv.Close()

	y := NewYahoo(WithYahooBaseURL(srv.URL), WithYahooRateLimit(1000), WithYahooLogger(quietLogger()))
	got, err := y.FetchBars(context.Background(), []string{"GBTC"}, day("2026-01-01"), day("2026-01-08"))
	require.NoError(t, err)

	bars := got["GBTC"]
	require.Len(t, bars, 2, "null OHLC rows are skipped")
	assert.Equal(t, "2026-01-02", bars[0].Date)
	assert.Equal(t, int64(1200000), bars[0].Volume)
	assert.Equal(t, "2026-01-06", bars[1].Date)
	assert.Zero(t, bars[1].Volume, "null volume becomes zero")
	for _, b := range bars {
		assert.False(t, b.VWAP.Valid)
		assert.False(t, b.TradeCount.Valid)
	}
}

func TestYahooRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, yahooChartBody)
	}))
	defer srv.Close()

	y := NewYahoo(WithYahooBaseURL(srv.URL), WithYahooRateLimit(1000), WithYahooRetryDelay(0), WithYahooLogger(quietLogger()))
	got, err := y.FetchBars(context.Background(), []string{"GBTC"}, day("2026-01-01"), day("2026-01-08"))
	require.NoError(t, err)
	assert.Len(t, got["GBTC"], 2)
	assert.EqualValues(t, 2, calls.Load())
}

func TestYahooClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	y := NewYahoo(WithYahooBaseURL(srv.URL), WithYahooRateLimit(1000), WithYahooRetryDelay(0), WithYahooLogger(quietLogger()))
	_, err := y.FetchBars(context.Background(), []string{"GBTC"}, day("2026-01-01"), day("2026-01-08"))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestYahooUnknownSymbolIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer srv.Close()

	y := NewYahoo(WithYahooBaseURL(srv.URL), WithYahooRateLimit(1000), WithYahooLogger(quietLogger()))
	got, err := y.FetchBars(context.Background(), []string{"NOPE"}, day("2026-01-01"), day("2026-01-08"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

// ---------------------------------------------------------------------------
// Normalize
// ---------------------------------------------------------------------------

func TestNormalizeAlpacaSortsAndDedupes(t *testing.T) {
	ts := func(s string) time.Time { return day(s).Add(5 * time.Hour) }
	resp := AlpacaResponse{
		"aapl": []marketdata.Bar{
			{Timestamp: ts("2026-01-05"), Close: 2},
			{Timestamp: ts("2026-01-02"), Close: 1},
			{Timestamp: ts("2026-01-05"), Close: 3},
		},
		"EMPTY": nil,
	}

	got, err := Normalize(resp)
	require.NoError(t, err)
	require.NotContains(t, got, "EMPTY")

	bars := got["AAPL"]
	require.Len(t, bars, 2)
	assert.Equal(t, "2026-01-02", bars[0].Date)
	assert.Equal(t, "2026-01-05", bars[1].Date)
	assert.Equal(t, 3.0, bars[1].Close, "later duplicate wins")
	assert.Equal(t, "AAPL", bars[0].Ticker)
}

func TestNormalizePolygonNullability(t *testing.T) {
	resp := PolygonResponse{
		Ticker: "gbtc",
		Aggs: []rmodels.Agg{
			{Timestamp: rmodels.Millis(day("2026-01-02").Add(5 * time.Hour)), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1000, VWAP: 1.4, Transactions: 12},
			{Timestamp: rmodels.Millis(day("2026-01-05").Add(5 * time.Hour)), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 900},
		},
	}

	got, err := Normalize(resp)
	require.NoError(t, err)
	bars := got["GBTC"]
	require.Len(t, bars, 2)
	assert.True(t, bars[0].VWAP.Valid)
	assert.Equal(t, int64(12), bars[0].TradeCount.Int64)
	assert.False(t, bars[1].VWAP.Valid)
	assert.False(t, bars[1].TradeCount.Valid)
	assert.Equal(t, int64(900), bars[1].Volume)
}

func TestNormalizeAlpacaDateIsUTC(t *testing.T) {
	// 23:30 New York on Jan 2 is Jan 3 in UTC.
	ny := time.FixedZone("EST", -5*3600)
	resp := AlpacaResponse{"X": []marketdata.Bar{{Timestamp: time.Date(2026, 1, 2, 23, 30, 0, 0, ny)}}}

	got, err := Normalize(resp)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-03", got["X"][0].Date)
}

// ---------------------------------------------------------------------------
// Chain
// ---------------------------------------------------------------------------

type stubSource struct {
	name  string
	bars  map[string][]domain.Bar
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchBars(_ context.Context, tickers []string, _, _ time.Time) (map[string][]domain.Bar, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string][]domain.Bar)
	for _, t := range tickers {
		if b, ok := s.bars[t]; ok {
			out[t] = b
		}
	}
	return out, nil
}

func TestChainFirstNonEmptyWins(t *testing.T) {
	failing := &stubSource{name: "a", err: errors.New("boom")}
	empty := &stubSource{name: "b"}
	hit := &stubSource{name: "c", bars: map[string][]domain.Bar{"X": {{Ticker: "X", Date: "2026-01-02"}}}}
	never := &stubSource{name: "d", bars: map[string][]domain.Bar{"X": {{Ticker: "X", Date: "2026-01-05"}}}}

	c := NewChain(quietLogger(), failing, empty, hit, never)
	bars, src := c.Fetch(context.Background(), "X", day("2026-01-01"), day("2026-01-08"))

	assert.Equal(t, "c", src)
	require.Len(t, bars, 1)
	assert.Equal(t, "2026-01-02", bars[0].Date)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, empty.calls)
	assert.Zero(t, never.calls, "sources after the first hit are not queried")
}

func TestChainNoData(t *testing.T) {
	c := NewChain(quietLogger(), &stubSource{name: "a"}, &stubSource{name: "b", err: errors.New("down")})
	bars, src := c.Fetch(context.Background(), "X", day("2026-01-01"), day("2026-01-08"))
	assert.Empty(t, bars)
	assert.Empty(t, src)
}

func TestChainSkipsUnconfiguredSources(t *testing.T) {
	poly := NewPolygon("", nil, quietLogger())
	hit := &stubSource{name: "yahoo", bars: map[string][]domain.Bar{"X": {{Ticker: "X", Date: "2026-01-02"}}}}

	c := NewChain(quietLogger(), poly, hit)
	_, src := c.Fetch(context.Background(), "X", day("2026-01-01"), day("2026-01-08"))
	assert.Equal(t, "yahoo", src)
}
