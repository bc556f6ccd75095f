// Package reporting renders account state for operators: console tables for
// the terminal and an Excel trade journal for post-session review.
package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/futures-exec-agent/internal/ledger"
)

// PrintAccountStatus renders the account snapshot and open positions
func PrintAccountStatus(w io.Writer, led *ledger.Ledger, haltState string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("💰 Account")

	t.AppendRows([]table.Row{
		{"Equity", fmt.Sprintf("%.2f USDT", led.Account.Equity)},
		{"High Water Mark", fmt.Sprintf("%.2f USDT", led.Account.HighWaterMark)},
		{"Daily Drawdown", fmt.Sprintf("%.2f%%", led.DailyDrawdown()*100)},
		{"Weekly Drawdown", fmt.Sprintf("%.2f%%", led.WeeklyDrawdown()*100)},
		{"Used Margin", fmt.Sprintf("%.2f USDT", led.UsedMargin())},
		{"Open Positions", led.OpenCount()},
		{"Kill Switch", haltState},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 30, Align: text.AlignRight},
	})
	t.Render()

	positions := led.PositionList()
	if len(positions) == 0 {
		return
	}

	pt := table.NewWriter()
	pt.SetOutputMirror(w)
	pt.SetStyle(table.StyleRounded)
	pt.SetTitle("📊 Open Positions")
	pt.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Mark", "Stop", "Target", "Lev", "uPnL"})

	for _, p := range positions {
		pt.AppendRow(table.Row{
			p.Symbol,
			p.Side,
			fmt.Sprintf("%.6f", p.Quantity),
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.MarkPrice),
			fmt.Sprintf("%.4f", p.StopPrice),
			fmt.Sprintf("%.4f", p.TakeProfitPrice),
			fmt.Sprintf("%.0fx", p.Leverage),
			fmt.Sprintf("%+.2f", p.UnrealizedPnL),
		})
	}
	pt.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
	})
	pt.Render()
}

// PrintSessionSummary renders end-of-session statistics from the journal
func PrintSessionSummary(w io.Writer, j *Journal, startedAt time.Time) {
	entries, closes, realized := j.Totals()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("📋 Session Summary")
	t.AppendRows([]table.Row{
		{"Duration", time.Since(startedAt).Round(time.Second).String()},
		{"Entries", entries},
		{"Closes", closes},
		{"Realized PnL", fmt.Sprintf("%+.2f USDT", realized)},
		{"Halt Transitions", j.TransitionCount()},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 30, Align: text.AlignRight},
	})
	t.Render()
}
