package signal

import (
	"fmt"

	"github.com/rustyeddy/signaltrader/indicators"
)

const (
	// MinScore is the lowest validation score a signal may carry.
	MinScore = 60
	// MinRiskReward is the lowest acceptable reward/risk ratio.
	MinRiskReward = 1.5
)

// Assessment is the outcome of scoring an indicator snapshot.
type Assessment struct {
	Valid   bool
	Score   int
	Reasons []string
}

// Assess scores a snapshot for a small, conservative account. Extreme RSI
// disqualifies outright; otherwise the score must reach MinScore.
func Assess(s indicators.Snapshot) Assessment {
	a := Assessment{Valid: true}

	switch {
	case s.RSI < 20 || s.RSI > 80:
		a.Reasons = append(a.Reasons, fmt.Sprintf("RSI %.1f in an extreme zone", s.RSI))
		a.Valid = false
	case s.RSI >= 35 && s.RSI <= 65:
		a.Reasons = append(a.Reasons, fmt.Sprintf("RSI %.1f in the safe zone", s.RSI))
		a.Score += 30
	default:
		a.Reasons = append(a.Reasons, fmt.Sprintf("RSI %.1f acceptable", s.RSI))
		a.Score += 20
	}

	if s.VolumeRatio >= 1.1 {
		a.Reasons = append(a.Reasons, fmt.Sprintf("volume %.2fx average", s.VolumeRatio))
		a.Score += 25
	} else {
		a.Reasons = append(a.Reasons, fmt.Sprintf("volume %.2fx average, low but acceptable", s.VolumeRatio))
		a.Score += 15
	}

	if s.Trend == indicators.Bullish || s.Trend == indicators.Bearish {
		a.Reasons = append(a.Reasons, fmt.Sprintf("clear %s trend", s.Trend))
		a.Score += 25
	} else {
		a.Reasons = append(a.Reasons, "sideways trend")
		a.Score += 10
	}

	a.Reasons = append(a.Reasons, "conservative sizing")
	a.Score += 20

	a.Valid = a.Valid && a.Score >= MinScore
	return a
}
