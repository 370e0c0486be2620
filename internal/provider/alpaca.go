package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"folio/internal/domain"
)

var _ Source = (*Alpaca)(nil)
var _ Validator = (*Alpaca)(nil)

// Alpaca feeds.
const (
	FeedSIP = "sip"
	FeedOTC = "otc"
)

// The SDK call takes no context, so a hung request is bounded only by the
// HTTP client timeout. Network errors are not retried by the SDK.
const (
	alpacaRequestTimeout = 30 * time.Second
	alpacaRetryLimit     = 3
)

// Alpaca fetches split-adjusted daily bars from the Alpaca market-data API.
//
// On the primary feed every error is returned to the caller. A secondary
// feed (see WithOTCFeed) is a best-effort fallback: errors are logged and
// the batch is treated as empty.
type Alpaca struct {
	client    *marketdata.Client
	apiKey    string
	apiSecret string
	feed      string
	secondary bool
	http      *http.Client
	log       *slog.Logger
}

// AlpacaOption configures an Alpaca source.
type AlpacaOption func(*Alpaca)

// WithOTCFeed queries the OTC feed in secondary mode.
func WithOTCFeed() AlpacaOption {
	return func(a *Alpaca) {
		a.feed = FeedOTC
		a.secondary = true
	}
}

// WithAlpacaHTTPClient replaces the HTTP client used for every request.
func WithAlpacaHTTPClient(hc *http.Client) AlpacaOption {
	return func(a *Alpaca) {
		a.http = hc
	}
}

// WithAlpacaLogger sets the logger.
func WithAlpacaLogger(log *slog.Logger) AlpacaOption {
	return func(a *Alpaca) {
		a.log = log
	}
}

// NewAlpaca creates an Alpaca source. dataURL overrides the SDK's default
// market-data endpoint when non-empty.
func NewAlpaca(apiKey, apiSecret, dataURL string, opts ...AlpacaOption) *Alpaca {
	a := &Alpaca{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		feed:      FeedSIP,
		http:      &http.Client{Timeout: alpacaRequestTimeout},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("provider", a.Name())

	clientOpts := marketdata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		RetryLimit: alpacaRetryLimit,
		HTTPClient: a.http,
	}
	if dataURL != "" {
		clientOpts.BaseURL = dataURL
	}
	a.client = marketdata.NewClient(clientOpts)
	return a
}

// Name returns "alpaca", or "alpaca-<feed>" for a secondary feed.
func (a *Alpaca) Name() string {
	if a.secondary {
		return "alpaca-" + a.feed
	}
	return "alpaca"
}

// Validate reports ErrMissingCredentials when the key or secret is empty.
func (a *Alpaca) Validate() error {
	if a.apiKey == "" || a.apiSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// FetchBars fetches daily bars for all tickers in a single ranged request.
// The SDK follows next_page_token until exhausted and merges pages per
// symbol.
func (a *Alpaca) FetchBars(ctx context.Context, tickers []string, start, end time.Time) (map[string][]domain.Bar, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return map[string][]domain.Bar{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	multiBars, err := a.client.GetMultiBars(tickers, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Split,
		Start:      domain.StartOfDay(start),
		End:        endOfDay(end),
		Feed:       marketdata.Feed(a.feed),
	})
	if err != nil {
		if a.secondary {
			a.log.Warn("feed unavailable, treating as empty", "tickers", len(tickers), "error", err)
			return map[string][]domain.Bar{}, nil
		}
		return nil, fmt.Errorf("GetMultiBars (%s): %w", a.feed, err)
	}

	return Normalize(AlpacaResponse(multiBars))
}

// LatestCloses returns the close of the most recent daily bar per ticker.
// Tickers the feed does not cover are omitted.
func (a *Alpaca) LatestCloses(ctx context.Context, tickers []string) (map[string]float64, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return map[string]float64{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	latest, err := a.client.GetLatestBars(tickers, marketdata.GetLatestBarRequest{Feed: marketdata.Feed(a.feed)})
	if err != nil {
		return nil, fmt.Errorf("GetLatestBars (%s): %w", a.feed, err)
	}

	closes := make(map[string]float64, len(latest))
	for sym, bar := range latest {
		if bar.Close > 0 {
			closes[domain.NormalizeTicker(sym)] = bar.Close
		}
	}
	return closes, nil
}
