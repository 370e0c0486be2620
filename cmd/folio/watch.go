package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/subcommands"

	"folio/internal/gather/history"
)

type watchCmd struct {
	grpcAddr string
	interval time.Duration
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "live view of price coverage; press s to sync, q to quit" }
func (*watchCmd) Usage() string {
	return `folio watch [-grpc <addr>] [-interval 30s]

  Refreshes the coverage table periodically. Pressing s triggers a sync.
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.grpcAddr, "grpc", "", "folio-server gRPC address (host:port)")
	f.DurationVar(&c.interval, "interval", 30*time.Second, "refresh interval")
}

func (c *watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	status := &statusCmd{grpcAddr: c.grpcAddr}
	sync := &syncCmd{grpcAddr: c.grpcAddr}

	m := newWatchModel(ctx, c.interval, status.run, sync.run)
	if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type (
	statusFunc func(context.Context) ([]history.TickerStatus, *history.LastRun, error)
	runFunc    func(context.Context) (*history.Summary, error)
)

type statusMsg struct {
	tickers []history.TickerStatus
	last    *history.LastRun
	err     error
}

type syncDoneMsg struct {
	sum *history.Summary
	err error
}

type tickMsg time.Time

type watchModel struct {
	ctx      context.Context
	interval time.Duration
	status   statusFunc
	run      runFunc

	tickers []history.TickerStatus
	last    *history.LastRun
	err     error
	syncing bool
	note    string
	updated time.Time
}

func newWatchModel(ctx context.Context, interval time.Duration, status statusFunc, run runFunc) watchModel {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return watchModel{ctx: ctx, interval: interval, status: status, run: run}
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		tickers, last, err := m.status(m.ctx)
		return statusMsg{tickers: tickers, last: last, err: err}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		case "s":
			if m.syncing {
				return m, nil
			}
			m.syncing = true
			m.note = "syncing..."
			return m, func() tea.Msg {
				sum, err := m.run(m.ctx)
				return syncDoneMsg{sum: sum, err: err}
			}
		}

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case statusMsg:
		m.tickers, m.last, m.err = msg.tickers, msg.last, msg.err
		m.updated = time.Now()

	case syncDoneMsg:
		m.syncing = false
		switch {
		case msg.err != nil:
			m.note = "sync failed: " + msg.err.Error()
		case msg.sum != nil:
			m.note = fmt.Sprintf("synced %d price records", msg.sum.Synced)
		default:
			m.note = "sync finished"
		}
		return m, m.fetch()
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("folio price coverage"))
	if !m.updated.IsZero() {
		b.WriteString(dimStyle.Render("  updated " + m.updated.Format("15:04:05")))
	}
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(missingStyle.Render("error: " + m.err.Error()))
	case m.updated.IsZero():
		b.WriteString("loading...")
	case len(m.tickers) == 0:
		b.WriteString("no tracked tickers")
	default:
		b.WriteString(renderStatus(m.tickers))
	}
	b.WriteString("\n")

	if m.last != nil {
		line := "last sync " + m.last.Finished.Format("2006-01-02 15:04:05")
		if m.last.Error != "" {
			line += ": " + m.last.Error
		}
		b.WriteString(dimStyle.Render(line) + "\n")
	}
	if m.note != "" {
		b.WriteString(m.note + "\n")
	}
	b.WriteString(dimStyle.Render("s sync · r refresh · q quit") + "\n")
	return b.String()
}
