// Package journal records closed trades and equity snapshots so sessions can
// be reviewed after the fact.
package journal

import (
	"errors"
	"time"
)

var ErrTradeNotFound = errors.New("trade not found")

// TradeRecord is one settled position.
type TradeRecord struct {
	TradeID    string
	Pair       string
	Direction  string
	Capital    float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Outcome    string
	Reason     string
}

// EquitySnapshot captures the account after a trade settles.
type EquitySnapshot struct {
	Time          time.Time
	Balance       float64
	Committed     float64
	Unrealized    float64
	Equity        float64
	OpenPositions int
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}
