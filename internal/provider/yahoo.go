package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"folio/internal/domain"
	"folio/internal/util"
)

var _ Source = (*Yahoo)(nil)

const (
	DefaultYahooBaseURL = "https://query1.finance.yahoo.com"
	defaultYahooRate    = 2 // requests per second
	yahooMaxAttempts    = 3
)

// Yahoo fetches daily bars from the public Yahoo Finance chart API, one
// ticker per request. It carries no VWAP or trade count.
type Yahoo struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryDelay time.Duration
	log        *slog.Logger
}

// YahooOption configures a Yahoo source.
type YahooOption func(*Yahoo)

// WithYahooBaseURL overrides the chart API host.
func WithYahooBaseURL(baseURL string) YahooOption {
	return func(y *Yahoo) {
		y.baseURL = baseURL
	}
}

// WithYahooRateLimit sets the request rate.
func WithYahooRateLimit(requestsPerSecond float64) YahooOption {
	return func(y *Yahoo) {
		y.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
}

// WithYahooRetryDelay sets the base backoff between retries of 5xx
// responses.
func WithYahooRetryDelay(d time.Duration) YahooOption {
	return func(y *Yahoo) {
		y.retryDelay = d
	}
}

// WithYahooLogger sets the logger.
func WithYahooLogger(log *slog.Logger) YahooOption {
	return func(y *Yahoo) {
		y.log = log
	}
}

// NewYahoo creates a Yahoo source.
func NewYahoo(opts ...YahooOption) *Yahoo {
	y := &Yahoo{
		baseURL:    DefaultYahooBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(defaultYahooRate), 1),
		retryDelay: time.Second,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(y)
	}
	y.log = y.log.With("provider", y.Name())
	return y
}

// Name returns "yahoo".
func (y *Yahoo) Name() string { return "yahoo" }

// FetchBars fetches each ticker in turn. The first failing ticker aborts
// the call.
func (y *Yahoo) FetchBars(ctx context.Context, tickers []string, start, end time.Time) (map[string][]domain.Bar, error) {
	out := make(map[string][]domain.Bar)
	for _, ticker := range tickers {
		resp, err := y.fetchChart(ctx, ticker, start, end)
		if err != nil {
			return nil, fmt.Errorf("yahoo %s: %w", ticker, err)
		}
		bars, err := Normalize(resp)
		if err != nil {
			return nil, err
		}
		for sym, b := range bars {
			out[sym] = append(out[sym], b...)
		}
	}
	return out, nil
}

// yahooChart is the response body of /v8/finance/chart. Quote arrays hold
// nulls for sessions without trades.
type yahooChart struct {
	Chart struct {
		Result []yahooResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooResult struct {
	Meta struct {
		Symbol string `json:"symbol"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []yahooQuote `json:"quote"`
	} `json:"indicators"`
}

type yahooQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}

func (y *Yahoo) fetchChart(ctx context.Context, ticker string, start, end time.Time) (YahooResponse, error) {
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(domain.StartOfDay(start).Unix(), 10))
	params.Set("period2", strconv.FormatInt(endOfDay(end).Unix()+1, 10))
	params.Set("interval", "1d")
	params.Set("events", "history")
	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(ticker), params.Encode())

	var body []byte
	err := util.Retry(ctx, yahooMaxAttempts, y.retryDelay, func() error {
		var err error
		body, err = y.get(ctx, reqURL)
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Temporary() {
			// Permanent failures are not retried.
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return YahooResponse{}, err
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return YahooResponse{}, fmt.Errorf("decoding chart: %w", err)
	}
	if chart.Chart.Error != nil {
		// Unknown symbols are reported in-band; treat them as no data.
		y.log.Debug("chart error", "ticker", ticker, "code", chart.Chart.Error.Code)
		return YahooResponse{Ticker: ticker}, nil
	}
	return YahooResponse{Ticker: ticker, Result: chart.Chart.Result}, nil
}

func (y *Yahoo) get(ctx context.Context, reqURL string) ([]byte, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		// Yahoo answers 404 with an in-band chart error for unknown symbols.
		return body, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: y.Name(), StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
