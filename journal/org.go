package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a TradeRecord as an Org-mode block suitable for pasting into a journal.
// Structured facts go in a PROPERTIES drawer; Thesis/Execution/Review are left for notes.
func FormatTradeOrg(t TradeRecord) string {
	heading := fmt.Sprintf("** Trade: %s %s (%s)", t.Pair, t.Direction, shortID(t.TradeID))
	open := t.OpenTime.UTC().Format(time.RFC3339)
	close := t.CloseTime.UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", t.TradeID)
	fmt.Fprintf(&b, ":PAIR: %s\n", t.Pair)
	fmt.Fprintf(&b, ":DIRECTION: %s\n", t.Direction)
	fmt.Fprintf(&b, ":CAPITAL: %.2f\n", t.Capital)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.5f\n", t.EntryPrice)
	fmt.Fprintf(&b, ":EXIT_PRICE: %.5f\n", t.ExitPrice)
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", open)
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", close)
	fmt.Fprintf(&b, ":REALIZED_PL: %.2f\n", t.RealizedPL)
	fmt.Fprintf(&b, ":OUTCOME: %s\n", t.Outcome)
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n")
	fmt.Fprintf(&b, "- %s\n\n", t.Reason)
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

// FormatSummaryOrg renders a one-line Org table summarizing trades.
func FormatSummaryOrg(s Summary) string {
	var b strings.Builder
	b.WriteString("| Trades | Wins | Losses | Net P/L | Profit factor |\n")
	b.WriteString("|--------+------+--------+---------+---------------|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %.2f | %.2f |\n", s.Trades, s.Wins, s.Losses, s.NetPL, s.ProfitFactor)
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
