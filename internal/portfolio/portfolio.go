// Package portfolio derives gain/loss, allocation drift and historical
// value reports from holdings and stored prices.
package portfolio

import (
	"sort"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"folio/internal/domain"
)

// Price sources, in order of preference.
const (
	PriceStored  = "history"
	PriceCurrent = "current"
	PriceCost    = "cost"
)

var hundred = decimal.NewFromInt(100)

// Position is one holding valued at its best known price.
type Position struct {
	Ticker      string     `json:"ticker"`
	Shares      float64    `json:"shares"`
	CostBasis   float64    `json:"cost_basis"`
	Price       float64    `json:"price"`
	PriceSource string     `json:"price_source"`
	MarketValue float64    `json:"market_value"`
	Gain        float64    `json:"gain"`
	GainPct     float64    `json:"gain_pct"`
	Allocation  float64    `json:"allocation"`
	Target      null.Float `json:"target_allocation"`
	Drift       null.Float `json:"drift"`
}

// Summary is the valuation of a whole portfolio.
type Summary struct {
	Positions  []Position `json:"positions"`
	TotalValue float64    `json:"total_value"`
	TotalCost  float64    `json:"total_cost"`
	TotalGain  float64    `json:"total_gain"`
	GainPct    float64    `json:"gain_pct"`
}

// ValuePoint is the portfolio value on one trading day.
type ValuePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Summarize values every holding. The price is the latest stored close
// when known, else the holding's current price, else its cost per share.
// Money is rounded to cents and percentages to two decimals.
func Summarize(holdings []domain.Holding, latest map[string]float64) Summary {
	type valued struct {
		h      domain.Holding
		price  decimal.Decimal
		source string
		value  decimal.Decimal
		cost   decimal.Decimal
	}

	rows := make([]valued, 0, len(holdings))
	totalValue, totalCost := decimal.Zero, decimal.Zero
	for _, h := range holdings {
		shares := decimal.NewFromFloat(h.Shares)
		cost := decimal.NewFromFloat(h.CostBasis)

		v := valued{h: h, cost: cost}
		switch {
		case latest[h.Ticker] > 0:
			v.price, v.source = decimal.NewFromFloat(latest[h.Ticker]), PriceStored
		case h.CurrentPrice.Valid && h.CurrentPrice.Float64 > 0:
			v.price, v.source = decimal.NewFromFloat(h.CurrentPrice.Float64), PriceCurrent
		case !shares.IsZero():
			v.price, v.source = cost.Div(shares), PriceCost
		default:
			v.source = PriceCost
		}
		v.value = shares.Mul(v.price)

		totalValue = totalValue.Add(v.value)
		totalCost = totalCost.Add(cost)
		rows = append(rows, v)
	}

	sum := Summary{Positions: make([]Position, 0, len(rows))}
	for _, v := range rows {
		gain := v.value.Sub(v.cost)
		p := Position{
			Ticker:      v.h.Ticker,
			Shares:      v.h.Shares,
			CostBasis:   money(v.cost),
			Price:       v.price.Round(4).InexactFloat64(),
			PriceSource: v.source,
			MarketValue: money(v.value),
			Gain:        money(gain),
			GainPct:     pct(gain, v.cost),
			Allocation:  pct(v.value, totalValue),
			Target:      v.h.TargetAllocation,
		}
		if p.Target.Valid {
			drift := decimal.NewFromFloat(p.Allocation).Sub(decimal.NewFromFloat(p.Target.Float64))
			p.Drift = null.FloatFrom(drift.Round(2).InexactFloat64())
		}
		sum.Positions = append(sum.Positions, p)
	}
	sort.Slice(sum.Positions, func(i, j int) bool {
		return sum.Positions[i].Ticker < sum.Positions[j].Ticker
	})

	totalGain := totalValue.Sub(totalCost)
	sum.TotalValue = money(totalValue)
	sum.TotalCost = money(totalCost)
	sum.TotalGain = money(totalGain)
	sum.GainPct = pct(totalGain, totalCost)
	return sum
}

// History returns the portfolio value for each of dates, in order, using
// current share counts. A ticker's last known close is carried forward
// across dates it has no bar for; before its first bar it contributes
// nothing. bars must be sorted by date per ticker.
func History(holdings []domain.Holding, bars map[string][]domain.PriceBar, dates []string) []ValuePoint {
	next := make(map[string]int, len(holdings))
	last := make(map[string]decimal.Decimal, len(holdings))

	out := make([]ValuePoint, 0, len(dates))
	for _, date := range dates {
		total := decimal.Zero
		for _, h := range holdings {
			series := bars[h.Ticker]
			i := next[h.Ticker]
			for i < len(series) && series[i].Date <= date {
				last[h.Ticker] = decimal.NewFromFloat(series[i].Close)
				i++
			}
			next[h.Ticker] = i

			if price, ok := last[h.Ticker]; ok {
				total = total.Add(decimal.NewFromFloat(h.Shares).Mul(price))
			}
		}
		out = append(out, ValuePoint{Date: date, Value: money(total)})
	}
	return out
}

// LatestCloses returns the close of the last bar in each series.
func LatestCloses(bars map[string][]domain.PriceBar) map[string]float64 {
	out := make(map[string]float64, len(bars))
	for ticker, series := range bars {
		if n := len(series); n > 0 {
			out[ticker] = series[n-1].Close
		}
	}
	return out
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// pct returns part/whole in percent, or 0 when whole is zero.
func pct(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Mul(hundred).Div(whole).Round(2).InexactFloat64()
}
