// Package indicators provides the technical indicators used to qualify
// trading signals. All functions operate on oldest-first series.
package indicators

import (
	"errors"
	"fmt"
)

// ErrNotEnoughData is returned when a series is shorter than the period.
var ErrNotEnoughData = errors.New("not enough data")

// Trend classifies short-term direction.
type Trend string

const (
	Bullish  Trend = "BULLISH"
	Bearish  Trend = "BEARISH"
	Sideways Trend = "SIDEWAYS"
)

// Snapshot is the set of indicators a signal is scored against.
type Snapshot struct {
	RSI         float64
	SMA20       float64
	SMA50       float64
	VolumeRatio float64
	Trend       Trend
}

// Compute derives a Snapshot from closes and volumes. SMA50 falls back to
// SMA20 when fewer than 50 closes are available.
func Compute(closes, volumes []float64) (Snapshot, error) {
	sma20, err := SMA(closes, 20)
	if err != nil {
		return Snapshot{}, err
	}
	sma50, err := SMA(closes, 50)
	if err != nil {
		sma50 = sma20
	}
	rsi, err := RSI(closes, 14)
	if err != nil {
		return Snapshot{}, err
	}
	vr, err := VolumeRatio(volumes, 10)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		RSI:         rsi,
		SMA20:       sma20,
		SMA50:       sma50,
		VolumeRatio: vr,
		Trend:       TrendOf(closes[len(closes)-1], sma20, sma50),
	}, nil
}

func checkPeriod(n, period int) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %d", period)
	}
	if n < period {
		return fmt.Errorf("%w: need %d, got %d", ErrNotEnoughData, period, n)
	}
	return nil
}
