package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"

	"folio/internal/domain"
)

type exportCmd struct {
	start string
	end   string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "archive stored bars as Parquet files" }
func (*exportCmd) Usage() string {
	return `folio export [-start YYYY-MM-DD] [-end YYYY-MM-DD]

  Copies stored daily bars into per-ticker, per-year Parquet files under
  storage.archive_dir. Existing files are merged by date.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "start", "", "first date to export (default sync.start_date)")
	f.StringVar(&c.end, "end", "", "last date to export (default today)")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	start, end := c.start, c.end
	if start == "" {
		start = a.Config.Sync.StartDate
	}
	if end == "" {
		end = domain.FormatDate(time.Now())
	}
	for _, d := range []string{start, end} {
		if _, err := domain.ParseDate(d); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid date %q\n", d)
			return subcommands.ExitUsageError
		}
	}

	n, err := a.Export(ctx, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: export failed: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("exported %d bars to %s\n", n, a.Archive.DataDir)
	return subcommands.ExitSuccess
}

type versionCmd struct{}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "print the CLI version" }
func (*versionCmd) Usage() string          { return "folio version\n" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}

func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Printf("folio %s\n", version)
	return subcommands.ExitSuccess
}
