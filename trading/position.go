package trading

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/signaltrader/signal"
)

// Outcome is how a position was settled.
type Outcome string

const (
	TakeProfit Outcome = "TAKE_PROFIT"
	StopLoss   Outcome = "STOP_LOSS"
)

// ParseOutcome accepts TAKE_PROFIT/STOP_LOSS and the TP/SL shorthands.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TAKE_PROFIT", "TP":
		return TakeProfit, nil
	case "STOP_LOSS", "SL":
		return StopLoss, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

// Position is an open, simulated trade. ID always equals Signal.ID.
type Position struct {
	ID                string        `json:"id"`
	Signal            signal.Signal `json:"signal"`
	Capital           float64       `json:"capital"`
	OpenedAt          time.Time     `json:"openedAt"`
	Timeframe         string        `json:"timeframe"`
	SimulatedPrice    float64       `json:"simulatedPrice"`
	UnrealizedAmount  float64       `json:"unrealizedAmount"`
	UnrealizedPercent float64       `json:"unrealizedPercent"`
	CloseAfter        time.Duration `json:"closeAfterNs"`
}

// Deadline is when the guaranteed-closure timer fires.
func (p Position) Deadline() time.Time {
	return p.OpenedAt.Add(p.CloseAfter)
}

// HistoryRecord is a settled position. Records are never modified once
// appended.
type HistoryRecord struct {
	ID              string           `json:"id"`
	Pair            string           `json:"pair"`
	Direction       signal.Direction `json:"direction"`
	EntryPrice      float64          `json:"entryPrice"`
	ExitPrice       float64          `json:"exitPrice"`
	Capital         float64          `json:"capital"`
	RealizedProfit  float64          `json:"realizedProfit"`
	RealizedPercent float64          `json:"realizedPercent"`
	Timeframe       string           `json:"timeframe"`
	OpenedAt        time.Time        `json:"openedAt"`
	ClosedAt        time.Time        `json:"closedAt"`
	Reason          string           `json:"reason"`
	Outcome         Outcome          `json:"outcome"`
}

// Held is how long the position was open.
func (h HistoryRecord) Held() time.Duration {
	return h.ClosedAt.Sub(h.OpenedAt)
}

// Stats summarizes the closed history.
type Stats struct {
	Trades      int           `json:"trades"`
	Wins        int           `json:"wins"`
	Losses      int           `json:"losses"`
	WinRate     float64       `json:"winRate"`
	TotalProfit float64       `json:"totalProfit"`
	BestTrade   float64       `json:"bestTrade"`
	WorstTrade  float64       `json:"worstTrade"`
	AvgHold     time.Duration `json:"avgHoldNs"`
}

// Summarize computes Stats over history. WinRate is a percentage.
func Summarize(history []HistoryRecord) Stats {
	var s Stats
	if len(history) == 0 {
		return s
	}

	var held time.Duration
	for i, h := range history {
		s.Trades++
		s.TotalProfit += h.RealizedProfit
		if h.Outcome == TakeProfit {
			s.Wins++
		} else {
			s.Losses++
		}
		if i == 0 || h.RealizedProfit > s.BestTrade {
			s.BestTrade = h.RealizedProfit
		}
		if i == 0 || h.RealizedProfit < s.WorstTrade {
			s.WorstTrade = h.RealizedProfit
		}
		held += h.Held()
	}
	s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	s.AvgHold = held / time.Duration(s.Trades)
	return s
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].OpenedAt.Before(ps[j].OpenedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
