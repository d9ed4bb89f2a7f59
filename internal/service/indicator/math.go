package indicator

import "CandleSync/internal/domain/models"

// smaLast returns the arithmetic mean of the last period values.
func smaLast(vals []float64, period int) float64 {
	sum := 0.0
	for _, v := range vals[len(vals)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// emaSeries computes the exponential moving average over vals, seeded with
// the SMA of the first period values. Entries before index period-1 are
// zero and must not be read. len(vals) >= period is the caller's contract.
func emaSeries(vals []float64, period int) []float64 {
	out := make([]float64, len(vals))
	k := 2.0 / (float64(period) + 1.0)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += vals[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev
	for i := period; i < len(vals); i++ {
		prev = vals[i]*k + prev*(1.0-k)
		out[i] = prev
	}
	return out
}

// rsiLast computes Wilder's RSI over the last period+1 closes.
func rsiLast(closes []float64, period int) float64 {
	deltas := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		deltas = append(deltas, closes[i]-closes[i-1])
	}

	var avgGain, avgLoss float64
	for _, d := range deltas[:period] {
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing over the remaining deltas.
	for _, d := range deltas[period:] {
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// macdLast returns the MACD line, signal line, and histogram at the last
// close. len(closes) >= slow+signal is the caller's contract.
func macdLast(closes []float64, fast, slow, signal int) (float64, float64, float64) {
	emaFast := emaSeries(closes, fast)
	emaSlow := emaSeries(closes, slow)

	// MACD line is defined from index slow-1 onward.
	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, emaFast[i]-emaSlow[i])
	}
	signalSeries := emaSeries(line, signal)

	l := line[len(line)-1]
	s := signalSeries[len(signalSeries)-1]
	return l, s, l - s
}

// stochLast returns the slow %K and %D of the stochastic oscillator at the
// last candle. len(history) >= kPeriod+kSlow+dPeriod-2 is the caller's
// contract.
func stochLast(history []models.Candle, kPeriod, kSlow, dPeriod int) (float64, float64) {
	// Fast %K over every window ending at index i.
	fastK := make([]float64, 0, len(history)-kPeriod+1)
	for i := kPeriod - 1; i < len(history); i++ {
		lo, hi := history[i-kPeriod+1].Low, history[i-kPeriod+1].High
		for _, c := range history[i-kPeriod+2 : i+1] {
			if c.Low < lo {
				lo = c.Low
			}
			if c.High > hi {
				hi = c.High
			}
		}
		if hi == lo {
			// Flat window: by convention mid-scale rather than dividing by zero.
			fastK = append(fastK, 50.0)
			continue
		}
		fastK = append(fastK, (history[i].Close-lo)/(hi-lo)*100.0)
	}

	// Slow %K smooths fast %K; %D smooths slow %K.
	slowK := make([]float64, 0, len(fastK)-kSlow+1)
	for i := kSlow - 1; i < len(fastK); i++ {
		slowK = append(slowK, smaLast(fastK[:i+1], kSlow))
	}
	k := slowK[len(slowK)-1]
	d := smaLast(slowK, dPeriod)
	return k, d
}
