package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/subcommands"

	"folio/internal/domain"
	"folio/internal/portfolio"
)

var (
	gainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)
)

// ---------------------------------------------------------------------------
// import
// ---------------------------------------------------------------------------

type importCmd struct{}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "bulk import holdings from a JSON file" }
func (*importCmd) Usage() string {
	return `folio import <file.json>

  Upserts every holding in the file. The file is either a JSON array of
  holdings or an object {"holdings": [...]}. One invalid row rejects the
  whole file.
`
}

func (*importCmd) SetFlags(*flag.FlagSet) {}

func (*importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: import expects exactly one file argument")
		return subcommands.ExitUsageError
	}

	data, err := os.ReadFile(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	holdings, err := decodeHoldings(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if len(holdings) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no holdings to import")
		return subcommands.ExitFailure
	}

	var n int64
	if client := remote(); client != nil {
		n, err = client.ImportHoldings(ctx, holdings)
	} else {
		a, openErr := openApp()
		if openErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", openErr)
			return subcommands.ExitFailure
		}
		defer a.Close()
		n, err = a.Store.ImportHoldings(ctx, holdings)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("imported %d holdings\n", n)
	return subcommands.ExitSuccess
}

// ---------------------------------------------------------------------------
// summary
// ---------------------------------------------------------------------------

type summaryCmd struct{}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "show portfolio value, gain and allocation drift" }
func (*summaryCmd) Usage() string {
	return `folio summary

  Values each holding at its latest stored close and prints gain/loss and
  drift from the target allocation.
`
}

func (*summaryCmd) SetFlags(*flag.FlagSet) {}

func (*summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var sum portfolio.Summary
	if client := remote(); client != nil {
		resp, err := client.PortfolioSummary(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		sum = resp.Summary
	} else {
		a, err := openApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		defer a.Close()

		holdings, err := a.Store.ListHoldings(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		today := domain.FormatDate(time.Now())
		series := make(map[string][]domain.PriceBar, len(holdings))
		for _, h := range holdings {
			bars, err := a.Store.ReadBars(ctx, h.Ticker, a.Config.Sync.StartDate, today)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return subcommands.ExitFailure
			}
			series[h.Ticker] = bars
		}
		sum = portfolio.Summarize(holdings, portfolio.LatestCloses(series))
	}

	if len(sum.Positions) == 0 {
		fmt.Println("no holdings")
		return subcommands.ExitSuccess
	}
	fmt.Println(renderSummary(sum))
	return subcommands.ExitSuccess
}

func renderSummary(sum portfolio.Summary) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TICKER", "SHARES", "PRICE", "VALUE", "GAIN", "GAIN %", "ALLOC %", "DRIFT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 0 {
				return tickerStyle.Padding(0, 1)
			}
			if col == 4 || col == 5 {
				if row < len(sum.Positions) && sum.Positions[row].Gain < 0 {
					return lossStyle
				}
				return gainStyle
			}
			return cellStyle
		})

	for _, p := range sum.Positions {
		drift := "-"
		if p.Drift.Valid {
			drift = fmt.Sprintf("%+.2f", p.Drift.Float64)
		}
		t.Row(p.Ticker,
			fmt.Sprintf("%g", p.Shares),
			fmt.Sprintf("%.2f", p.Price),
			fmt.Sprintf("%.2f", p.MarketValue),
			fmt.Sprintf("%+.2f", p.Gain),
			fmt.Sprintf("%+.2f", p.GainPct),
			fmt.Sprintf("%.2f", p.Allocation),
			drift,
		)
	}
	t.Row("TOTAL", "", "",
		fmt.Sprintf("%.2f", sum.TotalValue),
		fmt.Sprintf("%+.2f", sum.TotalGain),
		fmt.Sprintf("%+.2f", sum.GainPct),
		"", "")
	return t.String()
}
