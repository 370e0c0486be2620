package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/subcommands"

	"folio/internal/gather/history"
	"folio/internal/rpc"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	tickerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// ---------------------------------------------------------------------------
// sync
// ---------------------------------------------------------------------------

type syncCmd struct {
	grpcAddr string
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "fill missing daily bars for every tracked ticker" }
func (*syncCmd) Usage() string {
	return `folio sync [-grpc <addr>]

  Runs one price-history sync. With -server the sync runs on that
  folio-server over HTTP; with -grpc it is triggered over gRPC; otherwise
  it runs against the local database.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.grpcAddr, "grpc", "", "folio-server gRPC address (host:port)")
}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	sum, err := c.run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
		return subcommands.ExitFailure
	}
	printSummary(sum)
	return subcommands.ExitSuccess
}

func (c *syncCmd) run(ctx context.Context) (*history.Summary, error) {
	if c.grpcAddr != "" {
		client, err := rpc.Dial(c.grpcAddr)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		return client.RunSync(ctx)
	}

	if client := remote(); client != nil {
		resp, err := client.Sync(ctx)
		if err != nil {
			return nil, err
		}
		if resp.Details == nil {
			return &history.Summary{Synced: resp.Synced}, nil
		}
		return resp.Details, nil
	}

	a, err := openApp()
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if a.Config.Sync.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Sync.Timeout)
		defer cancel()
	}
	return a.Syncer.Sync(ctx)
}

func printSummary(sum *history.Summary) {
	switch {
	case sum.Synced > 0:
		fmt.Printf("synced %d price records (%s to %s)\n", sum.Synced, sum.Start, sum.End)
	case len(sum.Tickers) == 0:
		fmt.Println("price history is up to date")
	default:
		fmt.Println("no new price data available")
	}

	if len(sum.Fallback) > 0 {
		tickers := make([]string, 0, len(sum.Fallback))
		for t := range sum.Fallback {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		parts := make([]string, len(tickers))
		for i, t := range tickers {
			parts[i] = t + "=" + sum.Fallback[t]
		}
		fmt.Printf("fallback: %s\n", strings.Join(parts, ", "))
	}
	if len(sum.NoData) > 0 {
		fmt.Printf("no data: %s\n", strings.Join(sum.NoData, ", "))
	}
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

type statusCmd struct {
	grpcAddr string
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show stored price coverage per ticker" }
func (*statusCmd) Usage() string {
	return `folio status [-grpc <addr>]

  Prints how many trading days since sync.start_date are stored for each
  tracked ticker, and the outcome of the last sync when known.
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.grpcAddr, "grpc", "", "folio-server gRPC address (host:port)")
}

func (c *statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	tickers, last, err := c.run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	if len(tickers) == 0 {
		fmt.Println("no tracked tickers")
	} else {
		fmt.Println(renderStatus(tickers))
	}
	if last != nil {
		fmt.Printf("last sync finished %s", last.Finished.Format("2006-01-02 15:04:05 MST"))
		if last.Error != "" {
			fmt.Printf(" with error: %s", last.Error)
		}
		fmt.Println()
	}
	return subcommands.ExitSuccess
}

func (c *statusCmd) run(ctx context.Context) ([]history.TickerStatus, *history.LastRun, error) {
	if c.grpcAddr != "" {
		client, err := rpc.Dial(c.grpcAddr)
		if err != nil {
			return nil, nil, err
		}
		defer client.Close()
		reply, err := client.SyncStatus(ctx)
		if err != nil {
			return nil, nil, err
		}
		return reply.Tickers, reply.LastRun, nil
	}

	if client := remote(); client != nil {
		resp, err := client.SyncStatus(ctx)
		if err != nil {
			return nil, nil, err
		}
		return resp.Tickers, resp.LastRun, nil
	}

	a, err := openApp()
	if err != nil {
		return nil, nil, err
	}
	defer a.Close()
	tickers, err := a.Syncer.Status(ctx)
	return tickers, nil, err
}

func renderStatus(rows []history.TickerStatus) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TICKER", "DAYS", "STORED", "MISSING").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			switch col {
			case 0:
				return tickerStyle.Padding(0, 1)
			case 3:
				if rows[row].Missing > 0 {
					return missingStyle.Padding(0, 1)
				}
				return okStyle.Padding(0, 1)
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(r.Ticker, fmt.Sprint(r.Total), fmt.Sprint(r.Existing), fmt.Sprint(r.Missing))
	}
	return t.String()
}
