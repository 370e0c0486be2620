package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/parquet-go/parquet-go"

	"folio/internal/domain"
)

// ParquetArchive writes price history to Parquet files on disk, one file per
// ticker and year. It is an export target; the SQLite store remains the
// system of record.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates a ParquetArchive rooted at the given directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily price history.
type BarRecord struct {
	Ticker     string   `parquet:"ticker"`
	Date       string   `parquet:"date"`
	Open       float64  `parquet:"open"`
	High       float64  `parquet:"high"`
	Low        float64  `parquet:"low"`
	Close      float64  `parquet:"close"`
	Volume     int64    `parquet:"volume"`
	VWAP       *float64 `parquet:"vwap,optional"`
	TradeCount *int64   `parquet:"trade_count,optional"`
	FetchedAt  int64    `parquet:"fetched_at,timestamp(millisecond)"` // Unix ms
}

func toRecord(b domain.PriceBar) BarRecord {
	return BarRecord{
		Ticker:     b.Ticker,
		Date:       b.Date,
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		VWAP:       b.VWAP.Ptr(),
		TradeCount: b.TradeCount.Ptr(),
		FetchedAt:  b.FetchedAt.UnixMilli(),
	}
}

func fromRecord(r BarRecord) domain.PriceBar {
	return domain.PriceBar{
		Bar: domain.Bar{
			Ticker:     r.Ticker,
			Date:       r.Date,
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			VWAP:       null.FloatFromPtr(r.VWAP),
			TradeCount: null.IntFromPtr(r.TradeCount),
		},
		FetchedAt: time.UnixMilli(r.FetchedAt).UTC(),
	}
}

// WriteBars merges bars into their per-ticker, per-year Parquet files:
//
//	<DataDir>/daily/<TICKER>/<YYYY>.parquet
//
// Existing rows with the same date are replaced. It returns the number of
// files written.
func (a *ParquetArchive) WriteBars(_ context.Context, bars []domain.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	type key struct {
		ticker string
		year   string
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		if len(b.Date) < 4 {
			return 0, fmt.Errorf("bar %s has malformed date %q", b.Ticker, b.Date)
		}
		k := key{ticker: b.Ticker, year: b.Date[:4]}
		groups[k] = append(groups[k], toRecord(b))
	}

	written := 0
	for k, records := range groups {
		path := a.barPath(k.ticker, k.year)

		// A missing file simply has nothing to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return written, fmt.Errorf("writing bars for %s/%s: %w", k.ticker, k.year, err)
		}
		written++
	}
	return written, nil
}

// ReadBars reads archived bars for ticker within [start, end].
func (a *ParquetArchive) ReadBars(_ context.Context, ticker, start, end string) ([]domain.PriceBar, error) {
	if len(start) < 4 || len(end) < 4 {
		return nil, fmt.Errorf("malformed range %q..%q", start, end)
	}
	from, err := strconv.Atoi(start[:4])
	if err != nil {
		return nil, fmt.Errorf("parsing start year %q: %w", start, err)
	}
	to, err := strconv.Atoi(end[:4])
	if err != nil {
		return nil, fmt.Errorf("parsing end year %q: %w", end, err)
	}

	var bars []domain.PriceBar
	for year := from; year <= to; year++ {
		records, err := readParquetFile[BarRecord](a.barPath(ticker, strconv.Itoa(year)))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			if r.Date >= start && r.Date <= end {
				bars = append(bars, fromRecord(r))
			}
		}
	}
	return bars, nil
}

// barPath returns the filesystem path for a ticker's yearly Parquet file.
func (a *ParquetArchive) barPath(ticker, year string) string {
	return filepath.Join(a.DataDir, "daily", strings.ToUpper(ticker), year+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates records by (ticker, date), preferring incoming
// records over existing ones. Results are sorted by date.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		ticker string
		date   string
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Ticker, r.Date}] = r
	}
	for _, r := range incoming {
		seen[key{r.Ticker, r.Date}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
