package main

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"folio/internal/gather/history"
	"folio/internal/portfolio"
)

func TestDecodeHoldings(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"bare array", `[{"ticker":"VTI","shares":10,"cost_basis":2000}]`, 1, false},
		{"wrapped", `{"holdings":[{"ticker":"VTI"},{"ticker":"BND"}]}`, 2, false},
		{"empty array", `[]`, 0, false},
		{"object without holdings", `{"items":[]}`, 0, true},
		{"garbage", `not json`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeHoldings([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeHoldings(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeHoldings(%q): %v", tt.input, err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestRenderStatus(t *testing.T) {
	out := renderStatus([]history.TickerStatus{
		{Ticker: "VTI", Total: 6, Existing: 6},
		{Ticker: "GBTC", Total: 6, Existing: 2, Missing: 4},
	})
	for _, want := range []string{"TICKER", "MISSING", "VTI", "GBTC", "4"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderStatus output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(portfolio.Summary{
		Positions:  []portfolio.Position{{Ticker: "VTI", Shares: 2, Price: 210, MarketValue: 420, Gain: 120, GainPct: 40, Allocation: 100}},
		TotalValue: 420,
		TotalGain:  120,
		GainPct:    40,
	})
	for _, want := range []string{"VTI", "420.00", "+120.00", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderSummary output missing %q:\n%s", want, out)
		}
	}
}

func TestWatchModel(t *testing.T) {
	ctx := context.Background()
	syncCalls := 0
	m := newWatchModel(ctx, 0,
		func(context.Context) ([]history.TickerStatus, *history.LastRun, error) {
			return []history.TickerStatus{{Ticker: "VTI", Total: 6, Existing: 5, Missing: 1}}, nil, nil
		},
		func(context.Context) (*history.Summary, error) {
			syncCalls++
			return &history.Summary{Synced: 1}, nil
		},
	)
	if m.interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s default", m.interval)
	}
	if !strings.Contains(m.View(), "loading") {
		t.Errorf("initial view should be loading:\n%s", m.View())
	}

	next, _ := m.Update(m.fetch()())
	m = next.(watchModel)
	if !strings.Contains(m.View(), "VTI") {
		t.Errorf("view missing VTI after status:\n%s", m.View())
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	m = next.(watchModel)
	if !m.syncing || cmd == nil {
		t.Fatal("pressing s should start a sync")
	}
	next, _ = m.Update(cmd())
	m = next.(watchModel)
	if m.syncing || syncCalls != 1 {
		t.Errorf("syncing = %v, calls = %d", m.syncing, syncCalls)
	}
	if !strings.Contains(m.View(), "synced 1 price records") {
		t.Errorf("view missing sync note:\n%s", m.View())
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not return tea.Quit")
	}
}
