package journal

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"time"
)

var (
	tradeHeader  = []string{"trade_id", "pair", "direction", "capital", "entry_price", "exit_price", "open_time", "close_time", "realized_pl", "outcome", "reason"}
	equityHeader = []string{"time", "balance", "committed", "unrealized", "equity", "open_positions"}
)

// CSVJournal appends trades and equity snapshots to two CSV files.
type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

// NewCSV truncates both files and writes their header rows.
func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		tf.Close()
		return nil, err
	}

	j := &CSVJournal{trades: csv.NewWriter(tf), equity: csv.NewWriter(ef), tf: tf, ef: ef}
	if err := writeRow(j.trades, tradeHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if err := writeRow(j.equity, equityHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	return writeRow(j.trades, tradeRow(t))
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	return writeRow(j.equity, []string{
		e.Time.UTC().Format(time.RFC3339),
		f(e.Balance),
		f(e.Committed),
		f(e.Unrealized),
		f(e.Equity),
		strconv.Itoa(e.OpenPositions),
	})
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	j.equity.Flush()
	err := errors.Join(j.trades.Error(), j.equity.Error())
	return errors.Join(err, j.closeFiles())
}

func (j *CSVJournal) closeFiles() error {
	return errors.Join(j.tf.Close(), j.ef.Close())
}

// writeRow writes one record and flushes so a crash loses at most the
// record being written.
func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// WriteTradesCSV writes trades with a header row to w.
func WriteTradesCSV(w io.Writer, trades []TradeRecord) error {
	cw := csv.NewWriter(w)
	rows := make([][]string, 0, len(trades)+1)
	rows = append(rows, tradeHeader)
	for _, t := range trades {
		rows = append(rows, tradeRow(t))
	}
	return cw.WriteAll(rows)
}

func tradeRow(t TradeRecord) []string {
	return []string{
		t.TradeID,
		t.Pair,
		t.Direction,
		f(t.Capital),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenTime.UTC().Format(time.RFC3339),
		t.CloseTime.UTC().Format(time.RFC3339),
		f(t.RealizedPL),
		t.Outcome,
		t.Reason,
	}
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
