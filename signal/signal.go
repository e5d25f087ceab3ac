// Package signal defines the trading signal value object and the
// generators that produce signals for the dashboard.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid signal")

// Direction is the side of a proposed trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ParseDirection accepts LONG/SHORT as well as the BUY/SELL aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return Long, nil
	case "SHORT", "SELL":
		return Short, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalid, s)
	}
}

// Sign is +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Signal is an immutable trade proposal.
type Signal struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	Direction   Direction `json:"direction"`
	EntryPrice  float64   `json:"entryPrice"`
	TargetPrice float64   `json:"targetPrice"`
	StopLoss    float64   `json:"stopLoss"`
	Narrative   string    `json:"narrative"`
	CreatedAt   time.Time `json:"createdAt"`
	Score       int       `json:"score,omitempty"`
}

// Validate checks identity, positive prices and the direction-aware price
// ordering: LONG target > entry > stop, SHORT target < entry < stop.
func (s Signal) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if s.Pair == "" {
		return fmt.Errorf("%w: pair is required", ErrInvalid)
	}
	prices := []struct {
		name  string
		value float64
	}{{"entry", s.EntryPrice}, {"target", s.TargetPrice}, {"stop", s.StopLoss}}
	for _, p := range prices {
		if !(p.value > 0) || math.IsInf(p.value, 0) {
			return fmt.Errorf("%w: %s price must be positive", ErrInvalid, p.name)
		}
	}

	switch s.Direction {
	case Long:
		if !(s.TargetPrice > s.EntryPrice && s.EntryPrice > s.StopLoss) {
			return fmt.Errorf("%w: LONG requires target > entry > stop", ErrInvalid)
		}
	case Short:
		if !(s.TargetPrice < s.EntryPrice && s.EntryPrice < s.StopLoss) {
			return fmt.Errorf("%w: SHORT requires target < entry < stop", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalid, s.Direction)
	}
	return nil
}

// RiskReward returns reward/risk measured from the entry price.
func (s Signal) RiskReward() float64 {
	return RR(s.EntryPrice, s.StopLoss, s.TargetPrice)
}

// RR is |target-entry| / |entry-stop|, or 0 when there is no risk leg.
func RR(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}

// Targets places the take-profit and stop-loss around entry using fractional
// distances, e.g. 0.025 and 0.015.
func Targets(dir Direction, entry, tpPct, slPct float64) (target, stop float64) {
	sign := dir.Sign()
	return entry * (1 + sign*tpPct), entry * (1 - sign*slPct)
}

// RoundPrice keeps six decimals for sub-unit prices and two otherwise.
func RoundPrice(p float64) float64 {
	scale := 100.0
	if p < 1 {
		scale = 1e6
	}
	return math.Round(p*scale) / scale
}
