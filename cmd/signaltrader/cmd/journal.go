package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/signaltrader/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade journal records from the SQLite database.

Subcommands:
  trade   - Get details of a specific trade by ID
  today   - List trades closed today
  day     - List trades closed on a specific day
  summary - Win/loss summary over a date range
  equity  - Equity snapshots recorded on a specific day
  export  - Write trades closed in a date range as CSV

Examples:
  signaltrader journal trade <trade-id>
  signaltrader journal today
  signaltrader journal day 2025-01-15
  signaltrader journal export --from 2025-01-01 --to 2025-01-31 -o jan.csv`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize trades closed in a date range",
	Args:  cobra.NoArgs,
	RunE:  runJournalSummary,
}

var journalEquityCmd = &cobra.Command{
	Use:   "equity <YYYY-MM-DD>",
	Short: "List equity snapshots recorded on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEquity,
}

var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export trades closed in a date range as CSV",
	Args:  cobra.NoArgs,
	RunE:  runJournalExport,
}

var (
	journalDBPath string
	journalFrom   string
	journalTo     string
	journalOutput string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalSummaryCmd)
	journalCmd.AddCommand(journalEquityCmd)
	journalCmd.AddCommand(journalExportCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./signaltrader.sqlite", "path to SQLite journal DB")

	for _, c := range []*cobra.Command{journalSummaryCmd, journalExportCmd} {
		c.Flags().StringVar(&journalFrom, "from", "", "first day, YYYY-MM-DD (default today)")
		c.Flags().StringVar(&journalTo, "to", "", "last day, YYYY-MM-DD (default same as --from)")
	}
	journalExportCmd.Flags().StringVarP(&journalOutput, "output", "o", "", "output file (default stdout)")
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	fmt.Println(journal.FormatTradeOrg(rec))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return printDay(time.Now().In(time.Local).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return printDay(args[0])
}

func printDay(day string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	fmt.Println(journal.FormatTradesOrg(recs))
	return nil
}

func runJournalSummary(cmd *cobra.Command, args []string) error {
	recs, err := tradesInRange()
	if err != nil {
		return err
	}
	fmt.Println(journal.FormatSummaryOrg(journal.Summarize(recs)))
	return nil
}

func runJournalEquity(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	snaps, err := j.ListEquityBetween(start, end)
	if err != nil {
		return fmt.Errorf("query equity: %w", err)
	}

	if len(snaps) == 0 {
		fmt.Println("No equity snapshots.")
		return nil
	}
	fmt.Printf("%-20s %14s %14s %12s %14s %5s\n", "TIME", "BALANCE", "COMMITTED", "UNREALIZED", "EQUITY", "OPEN")
	for _, s := range snaps {
		fmt.Printf("%-20s %14.2f %14.2f %12.2f %14.2f %5d\n",
			s.Time.In(time.Local).Format("2006-01-02 15:04:05"), s.Balance, s.Committed, s.Unrealized, s.Equity, s.OpenPositions)
	}
	return nil
}

func runJournalExport(cmd *cobra.Command, args []string) error {
	recs, err := tradesInRange()
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if journalOutput != "" {
		f, err := os.Create(journalOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := journal.WriteTradesCSV(w, recs); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if journalOutput != "" {
		fmt.Fprintf(os.Stderr, "Exported %d trades to %s\n", len(recs), journalOutput)
	}
	return nil
}

func tradesInRange() ([]journal.TradeRecord, error) {
	start, end, err := rangeBounds(time.Local, journalFrom, journalTo, time.Now())
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}

	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	return recs, nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}

// rangeBounds covers whole days from..to inclusive. An empty from means the
// day of now, an empty to means the same day as from.
func rangeBounds(loc *time.Location, from, to string, now time.Time) (time.Time, time.Time, error) {
	if from == "" {
		from = now.In(loc).Format("2006-01-02")
	}
	if to == "" {
		to = from
	}
	start, _, err := dayBounds(loc, from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	_, end, err := dayBounds(loc, to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return start, end, nil
}
