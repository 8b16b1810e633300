package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/spinframe/gameround/internal/money"
)

var (
	summaryHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(lipgloss.Color("#7D56F4")).
				Padding(0, 2).
				Bold(true)
	summaryLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#626262"))
	summaryValueStyle = lipgloss.NewStyle().
				Bold(true)
	summaryWinStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")).
			Bold(true)
)

// summaryData is the rollup of one simulation run.
type summaryData struct {
	Played   int
	Failures int
	Wagered  uint64
	Won      uint64
	Balance  uint64
	Denom    uint64
	Symbol   string
}

func renderSummary(d summaryData) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(summaryHeaderStyle.Render("SIMULATION SUMMARY"))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(fmt.Sprintf("%s %s\n",
			summaryLabelStyle.Render(fmt.Sprintf("%-16s", label)),
			summaryValueStyle.Render(value)))
	}

	row("Rounds played", fmt.Sprintf("%d", d.Played))
	if d.Failures > 0 {
		row("Rounds failed", fmt.Sprintf("%d", d.Failures))
	}
	row("Total wagered", money.FormatCredits(d.Wagered, d.Denom, d.Symbol))
	b.WriteString(fmt.Sprintf("%s %s\n",
		summaryLabelStyle.Render(fmt.Sprintf("%-16s", "Total won")),
		summaryWinStyle.Render(money.FormatCredits(d.Won, d.Denom, d.Symbol))))
	row("Return to player", rtp(d.Wagered, d.Won))
	row("Final balance", money.FormatCredits(d.Balance, d.Denom, d.Symbol))
	return b.String()
}

func rtp(wagered, won uint64) string {
	if wagered == 0 {
		return "n/a"
	}
	pct := decimal.NewFromUint64(won).
		Div(decimal.NewFromUint64(wagered)).
		Mul(decimal.NewFromInt(100))
	return pct.StringFixed(1) + "%"
}
