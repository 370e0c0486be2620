// Package folio is a Go client for the folio-server REST API.
package folio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"folio/internal/httpapi"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("folio: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the folio-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new folio API client. The default timeout is long
// enough for a full price sync.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 6 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync triggers a price-history sync.
func (c *Client) Sync(ctx context.Context) (*SyncResponse, error) {
	var out SyncResponse
	if err := c.do(ctx, http.MethodPost, "/api/sync", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncStatus returns per-ticker coverage and the last run.
func (c *Client) SyncStatus(ctx context.Context) (*SyncStatusResponse, error) {
	var out SyncStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/sync/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListHoldings returns every holding ordered by ticker.
func (c *Client) ListHoldings(ctx context.Context) ([]Holding, error) {
	var out httpapi.HoldingsResponse
	if err := c.do(ctx, http.MethodGet, "/api/holdings", nil, &out); err != nil {
		return nil, err
	}
	return out.Holdings, nil
}

// UpsertHolding creates or replaces a holding and returns the stored row.
func (c *Client) UpsertHolding(ctx context.Context, h Holding) (*Holding, error) {
	var out httpapi.HoldingResponse
	if err := c.do(ctx, http.MethodPost, "/api/holdings", h, &out); err != nil {
		return nil, err
	}
	return out.Holding, nil
}

// DeleteHolding removes the holding for ticker.
func (c *Client) DeleteHolding(ctx context.Context, ticker string) error {
	return c.do(ctx, http.MethodDelete, "/api/holdings/"+url.PathEscape(ticker), nil, nil)
}

// ImportHoldings upserts holdings in one all-or-nothing request.
func (c *Client) ImportHoldings(ctx context.Context, holdings []Holding) (int64, error) {
	var out httpapi.ImportResponse
	if err := c.do(ctx, http.MethodPost, "/api/holdings/import", httpapi.ImportRequest{Holdings: holdings}, &out); err != nil {
		return 0, err
	}
	return out.Imported, nil
}

// RefreshPrices updates every holding's current price from the latest bar.
func (c *Client) RefreshPrices(ctx context.Context) (int64, error) {
	var out httpapi.RefreshResponse
	if err := c.do(ctx, http.MethodPost, "/api/holdings/refresh-prices", nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// History returns stored bars for ticker. Empty start or end use the
// server's defaults.
func (c *Client) History(ctx context.Context, ticker, start, end string) ([]PriceBar, error) {
	var out httpapi.HistoryResponse
	path := "/api/history/" + url.PathEscape(ticker) + rangeQuery(start, end)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Bars, nil
}

// PortfolioSummary returns the current portfolio valuation.
func (c *Client) PortfolioSummary(ctx context.Context) (*SummaryResponse, error) {
	var out SummaryResponse
	if err := c.do(ctx, http.MethodGet, "/api/portfolio/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PortfolioHistory returns portfolio value per trading day.
func (c *Client) PortfolioHistory(ctx context.Context, start, end string) (*ValueHistoryResponse, error) {
	var out ValueHistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/portfolio/history"+rangeQuery(start, end), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func rangeQuery(start, end string) string {
	q := url.Values{}
	if start != "" {
		q.Set("start", start)
	}
	if end != "" {
		q.Set("end", end)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e httpapi.ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
