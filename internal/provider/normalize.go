package provider

import (
	"fmt"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/guregu/null/v6"
	rmodels "github.com/polygon-io/client-go/rest/models"

	"folio/internal/domain"
)

// Response is a raw provider payload awaiting normalization. The concrete
// types are AlpacaResponse, YahooResponse and PolygonResponse.
type Response interface {
	source() string
}

// AlpacaResponse holds merged multi-symbol bars from the Alpaca SDK.
type AlpacaResponse map[string][]marketdata.Bar

// YahooResponse holds chart results for a single ticker.
type YahooResponse struct {
	Ticker string
	Result []yahooResult
}

// PolygonResponse holds the aggregates listed for a single ticker.
type PolygonResponse struct {
	Ticker string
	Aggs   []rmodels.Agg
}

func (AlpacaResponse) source() string  { return "alpaca" }
func (YahooResponse) source() string   { return "yahoo" }
func (PolygonResponse) source() string { return "polygon" }

// Normalize maps a provider response into bars keyed by upper-case ticker.
// Dates are the UTC calendar date of each bar's timestamp. Each series is
// sorted by date; when a date repeats, the later bar wins. Tickers with no
// bars are omitted.
func Normalize(resp Response) (map[string][]domain.Bar, error) {
	out := make(map[string][]domain.Bar)

	switch r := resp.(type) {
	case AlpacaResponse:
		for sym, bars := range r {
			ticker := domain.NormalizeTicker(sym)
			for _, b := range bars {
				out[ticker] = append(out[ticker], domain.Bar{
					Ticker:     ticker,
					Date:       domain.FormatDate(b.Timestamp),
					Open:       b.Open,
					High:       b.High,
					Low:        b.Low,
					Close:      b.Close,
					Volume:     int64(b.Volume),
					VWAP:       null.FloatFrom(b.VWAP),
					TradeCount: null.IntFrom(int64(b.TradeCount)),
				})
			}
		}

	case YahooResponse:
		ticker := domain.NormalizeTicker(r.Ticker)
		for _, res := range r.Result {
			if len(res.Indicators.Quote) == 0 {
				continue
			}
			q := res.Indicators.Quote[0]
			for i, ts := range res.Timestamp {
				o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
				if o == nil || h == nil || l == nil || c == nil {
					// Sessions without trades.
					continue
				}
				var volume int64
				if v := at(q.Volume, i); v != nil {
					volume = int64(*v)
				}
				out[ticker] = append(out[ticker], domain.Bar{
					Ticker: ticker,
					Date:   domain.FormatDate(time.Unix(ts, 0)),
					Open:   *o,
					High:   *h,
					Low:    *l,
					Close:  *c,
					Volume: volume,
				})
			}
		}

	case PolygonResponse:
		ticker := domain.NormalizeTicker(r.Ticker)
		for _, a := range r.Aggs {
			bar := domain.Bar{
				Ticker: ticker,
				Date:   domain.FormatDate(time.Time(a.Timestamp)),
				Open:   a.Open,
				High:   a.High,
				Low:    a.Low,
				Close:  a.Close,
				Volume: int64(a.Volume),
			}
			if a.VWAP != 0 {
				bar.VWAP = null.FloatFrom(a.VWAP)
			}
			if a.Transactions != 0 {
				bar.TradeCount = null.IntFrom(a.Transactions)
			}
			out[ticker] = append(out[ticker], bar)
		}

	default:
		return nil, fmt.Errorf("normalize: unsupported response type %T", resp)
	}

	for ticker, bars := range out {
		bars = dedupeByDate(bars)
		if len(bars) == 0 {
			delete(out, ticker)
			continue
		}
		out[ticker] = bars
	}
	return out, nil
}

func at(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

// dedupeByDate sorts bars by date and keeps the last bar for each date.
func dedupeByDate(bars []domain.Bar) []domain.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })

	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Date == b.Date {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
