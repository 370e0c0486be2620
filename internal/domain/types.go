// Package domain defines the core value types shared across folio: holdings,
// normalized daily bars, and stored price-history rows.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// DateLayout is the ISO calendar-date layout used for every stored date.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// Bar is one daily OHLCV observation as returned by any provider after
// normalization. Volume is always present (absent volume is 0); VWAP and
// TradeCount are null when the provider cannot supply them.
type Bar struct {
	Ticker     string     `json:"ticker"`
	Date       string     `json:"date"` // YYYY-MM-DD
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     int64      `json:"volume"`
	VWAP       null.Float `json:"vwap"`
	TradeCount null.Int   `json:"trade_count"`
}

// PriceBar is a Bar as persisted by the price store. At most one PriceBar
// exists per (Ticker, Date).
type PriceBar struct {
	Bar
	FetchedAt time.Time `json:"fetched_at"`
}

// ---------------------------------------------------------------------------
// Holdings
// ---------------------------------------------------------------------------

// Holding is one position in the tracked portfolio.
type Holding struct {
	Ticker           string     `json:"ticker"`
	Shares           float64    `json:"shares"`
	CostBasis        float64    `json:"cost_basis"` // total, not per share
	CurrentPrice     null.Float `json:"current_price"`
	TargetAllocation null.Float `json:"target_allocation"` // percent, 0-100
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ErrInvalidHolding is wrapped by every Holding validation failure.
var ErrInvalidHolding = errors.New("invalid holding")

// Normalize trims and upper-cases the ticker in place.
func (h *Holding) Normalize() {
	h.Ticker = NormalizeTicker(h.Ticker)
}

// Validate checks the holding's fields. Call Normalize first.
func (h *Holding) Validate() error {
	if h.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidHolding)
	}
	if h.Shares < 0 {
		return fmt.Errorf("%w: %s: shares must not be negative", ErrInvalidHolding, h.Ticker)
	}
	if h.CostBasis < 0 {
		return fmt.Errorf("%w: %s: cost basis must not be negative", ErrInvalidHolding, h.Ticker)
	}
	if h.CurrentPrice.Valid && h.CurrentPrice.Float64 <= 0 {
		return fmt.Errorf("%w: %s: current price must be positive", ErrInvalidHolding, h.Ticker)
	}
	if h.TargetAllocation.Valid && (h.TargetAllocation.Float64 < 0 || h.TargetAllocation.Float64 > 100) {
		return fmt.Errorf("%w: %s: target allocation must be within 0-100", ErrInvalidHolding, h.Ticker)
	}
	return nil
}

// NormalizeTicker returns the canonical (trimmed, upper-case) form of a
// ticker symbol.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ---------------------------------------------------------------------------
// Dates
// ---------------------------------------------------------------------------

// FormatDate renders t's UTC calendar date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// StartOfDay truncates t to midnight of its UTC calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
