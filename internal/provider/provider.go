// Package provider fetches daily price bars from external market-data
// services and normalizes them into domain bars.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"folio/internal/domain"
)

// ErrMissingCredentials is returned when a provider that requires an API key
// and secret is used without them.
var ErrMissingCredentials = errors.New("missing API credentials")

// Source fetches daily bars for a set of tickers over an inclusive UTC date
// range. Tickers without data are absent from the result.
type Source interface {
	Name() string
	FetchBars(ctx context.Context, tickers []string, start, end time.Time) (map[string][]domain.Bar, error)
}

// Validator is implemented by sources that can check their configuration
// without touching the network.
type Validator interface {
	Validate() error
}

// HTTPError is returned for non-2xx responses from HTTP-based providers.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed on retry.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// endOfDay returns the last instant of t's UTC calendar day.
func endOfDay(t time.Time) time.Time {
	return domain.StartOfDay(t).Add(24*time.Hour - time.Nanosecond)
}
