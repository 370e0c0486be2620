package provider

import (
	"context"
	"log/slog"
	"time"

	"folio/internal/domain"
)

// Chain tries fallback sources in order for one ticker at a time. The first
// source that returns at least one bar wins; results are never merged
// across sources. Source errors are logged and treated as no data.
type Chain struct {
	sources []Source
	log     *slog.Logger
}

// NewChain creates a Chain over sources in the given order.
func NewChain(log *slog.Logger, sources ...Source) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{sources: sources, log: log.With("component", "fallback-chain")}
}

// Len returns the number of sources in the chain.
func (c *Chain) Len() int { return len(c.sources) }

// Fetch returns the bars for ticker from the first source with data, along
// with that source's name. An empty name means no source had data.
func (c *Chain) Fetch(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, string) {
	for _, src := range c.sources {
		if ctx.Err() != nil {
			return nil, ""
		}
		if v, ok := src.(Validator); ok && v.Validate() != nil {
			continue
		}

		bars, err := src.FetchBars(ctx, []string{ticker}, start, end)
		if err != nil {
			c.log.Warn("fallback fetch failed", "source", src.Name(), "ticker", ticker, "error", err)
			continue
		}
		if got := bars[domain.NormalizeTicker(ticker)]; len(got) > 0 {
			c.log.Info("fallback supplied bars", "source", src.Name(), "ticker", ticker, "bars", len(got))
			return got, src.Name()
		}
		c.log.Debug("fallback returned no bars", "source", src.Name(), "ticker", ticker)
	}
	return nil, ""
}
