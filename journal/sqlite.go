package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// RecordTrade inserts t. Recording the same trade twice keeps the first row.
func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT OR IGNORE INTO trades
		(trade_id, pair, direction, capital, entry_price, exit_price, open_time, close_time, realized_pl, outcome, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Pair, t.Direction, t.Capital, t.EntryPrice,
		t.ExitPrice, t.OpenTime.UTC(), t.CloseTime.UTC(), t.RealizedPL, t.Outcome, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, balance, committed, unrealized, equity, open_positions)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Balance, e.Committed, e.Unrealized, e.Equity, e.OpenPositions,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
