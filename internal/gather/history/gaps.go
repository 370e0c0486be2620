package history

// SyncGap lists the trading days a ticker is missing.
type SyncGap struct {
	Ticker  string
	Missing []string
}

// MissingDates returns the calendar dates absent from existing, in
// calendar order.
func MissingDates(calendar []string, existing map[string]struct{}) []string {
	var missing []string
	for _, d := range calendar {
		if _, ok := existing[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// earliest returns the smallest first-missing date across gaps. Each gap's
// Missing slice is in calendar order.
func earliest(gaps []SyncGap) string {
	var min string
	for _, g := range gaps {
		if len(g.Missing) == 0 {
			continue
		}
		if min == "" || g.Missing[0] < min {
			min = g.Missing[0]
		}
	}
	return min
}

// toSet indexes dates for membership checks.
func toSet(dates []string) map[string]struct{} {
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[d] = struct{}{}
	}
	return set
}
