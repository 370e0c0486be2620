// Package history keeps the locally stored daily price series of every
// tracked ticker in step with the external market-data providers.
package history

import (
	"time"

	"folio/internal/domain"
	"folio/internal/gather"
)

// TradingDays returns every weekday in [start, end] as YYYY-MM-DD, oldest
// first. Both bounds are interpreted as UTC calendar days. Exchange
// holidays are not excluded; they surface as gaps that no provider fills.
func TradingDays(start, end time.Time) []string {
	from := domain.StartOfDay(start)
	to := domain.StartOfDay(end)
	if from.After(to) {
		return nil
	}

	days := make([]string, 0, int(to.Sub(from).Hours()/24)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		days = append(days, domain.FormatDate(d))
	}
	return days
}

// TradingDaysIn is TradingDays over r. An invalid range yields nil.
func TradingDaysIn(r gather.DateRange) []string {
	if !r.Valid() {
		return nil
	}
	return TradingDays(r.Start, r.End)
}
