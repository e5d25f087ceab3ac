package indicators

// RSI computes the Relative Strength Index over the last period changes
// using simple (unsmoothed) averages.
func RSI(values []float64, period int) (float64, error) {
	if err := checkPeriod(len(values), period+1); err != nil {
		return 0, err
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		if gain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs)), nil
}

// VolumeRatio compares the latest volume with the average of the period
// volumes before it.
func VolumeRatio(volumes []float64, period int) (float64, error) {
	if err := checkPeriod(len(volumes), period+1); err != nil {
		return 0, err
	}

	last := volumes[len(volumes)-1]
	avg, _ := SMA(volumes[:len(volumes)-1], period)
	if avg == 0 {
		return 0, nil
	}
	return last / avg, nil
}
