package indicators

// SMA calculates the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if err := checkPeriod(len(values), period); err != nil {
		return 0, err
	}

	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// EMA calculates the exponential moving average, seeded with the SMA of
// the first period values.
func EMA(values []float64, period int) (float64, error) {
	if err := checkPeriod(len(values), period); err != nil {
		return 0, err
	}

	multiplier := 2.0 / float64(period+1)

	sma := 0.0
	for i := 0; i < period; i++ {
		sma += values[i]
	}
	ema := sma / float64(period)

	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
	}

	return ema, nil
}

// TrendOf reports BULLISH when price sits above a rising short average,
// BEARISH when below a falling one, SIDEWAYS otherwise.
func TrendOf(price, short, long float64) Trend {
	switch {
	case price > short && short >= long:
		return Bullish
	case price < short && short <= long:
		return Bearish
	default:
		return Sideways
	}
}
