package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/spinframe/gameround/internal/history"
	"github.com/spinframe/gameround/internal/money"
	"github.com/spinframe/gameround/internal/storage"
)

// HistoryCmd prints the round history ring from a store file, oldest
// round first, with the most recent record marked.
type HistoryCmd struct {
	Store  string `arg:"" help:"SQLite store path" type:"path"`
	Limit  int    `short:"n" help:"Show only the most recent N rounds (0 = all)"`
	Denom  uint64 `default:"25" help:"Denomination in cents per credit"`
	Symbol string `default:"$" help:"Currency symbol"`
}

var historyCurrentStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#04B575")).
	Bold(true)

func (c *HistoryCmd) Run() error {
	store, err := storage.OpenSqlite(c.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	logs, err := history.Snapshot(store)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Println("no rounds recorded")
		return nil
	}
	if c.Limit > 0 && len(logs) > c.Limit {
		logs = logs[len(logs)-c.Limit:]
	}

	var newest uint64
	for _, lg := range logs {
		if lg.TransactionID > newest {
			newest = lg.TransactionID
		}
	}

	fmt.Printf("%-4s %-6s %-10s %-20s %-10s %10s %10s  %s\n",
		"", "SEQ", "TXID", "STATE", "RESULT", "WAGER", "WIN", "START")
	for _, lg := range logs {
		marker := ""
		line := fmt.Sprintf("%-6d %-10d %-20s %-10s %10s %10s  %s",
			lg.LogSequence,
			lg.TransactionID,
			lg.PlayState,
			lg.Result,
			money.FormatCredits(lg.FinalWager, c.Denom, c.Symbol),
			money.FormatCredits(lg.FinalWin, c.Denom, c.Symbol),
			startTime(lg))
		if lg.TransactionID == newest {
			marker = historyCurrentStyle.Render("*")
			line = historyCurrentStyle.Render(line)
		}
		fmt.Printf("%-4s %s\n", marker, line)
	}

	fmt.Println(strings.Repeat("-", 88))
	var wagered, won uint64
	completed := 0
	for _, lg := range logs {
		if lg.Result != history.ResultCompleted {
			continue
		}
		completed++
		wagered += lg.FinalWager
		won += lg.FinalWin
	}
	fmt.Printf("%d rounds completed, wagered %s, won %s (%s)\n",
		completed,
		money.FormatCredits(wagered, c.Denom, c.Symbol),
		money.FormatCredits(won, c.Denom, c.Symbol),
		rtp(wagered, won))
	return nil
}

func startTime(lg *history.RoundLog) string {
	if lg.StartTime.IsZero() {
		return "-"
	}
	return lg.StartTime.Format("2006-01-02 15:04:05")
}
