package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	rmodels "github.com/polygon-io/client-go/rest/models"

	"folio/internal/domain"
)

var _ Source = (*Polygon)(nil)
var _ Validator = (*Polygon)(nil)

const polygonAggLimit = 50000

// Polygon fetches daily aggregates from Polygon.io. The list iterator
// follows next_url until the range is exhausted.
type Polygon struct {
	rest   *polygonrest.Client
	apiKey string
	log    *slog.Logger
}

// NewPolygon creates a Polygon source. A nil httpClient uses a client with
// a 30 second timeout.
func NewPolygon(apiKey string, httpClient *http.Client, log *slog.Logger) *Polygon {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Polygon{
		rest:   polygonrest.NewWithClient(apiKey, httpClient),
		apiKey: apiKey,
		log:    log.With("provider", "polygon"),
	}
}

// Name returns "polygon".
func (p *Polygon) Name() string { return "polygon" }

// Validate reports ErrMissingCredentials when no API key is configured.
func (p *Polygon) Validate() error {
	if p.apiKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

// FetchBars lists adjusted daily aggregates for each ticker in turn.
func (p *Polygon) FetchBars(ctx context.Context, tickers []string, start, end time.Time) (map[string][]domain.Bar, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := make(map[string][]domain.Bar)
	for _, ticker := range tickers {
		params := &rmodels.ListAggsParams{
			Ticker:     ticker,
			Timespan:   rmodels.Day,
			Multiplier: 1,
			From:       rmodels.Millis(domain.StartOfDay(start)),
			To:         rmodels.Millis(endOfDay(end)),
		}
		lim := polygonAggLimit
		asc := rmodels.Asc
		adj := true
		params.Limit = &lim
		params.Order = &asc
		params.Adjusted = &adj

		resp := PolygonResponse{Ticker: ticker}
		iter := p.rest.ListAggs(ctx, params)
		for iter.Next() {
			resp.Aggs = append(resp.Aggs, iter.Item())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("polygon %s: %w", ticker, err)
		}
		p.log.Debug("aggregates listed", "ticker", ticker, "count", len(resp.Aggs))

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
