// indicators.go holds rolling indicators over a price series, for strategies
// that keep a window of last-known prices. Each function returns a slice the
// same length as its input; positions where the window has not filled yet
// carry NaN, so callers can align indicator values with the source series by
// index.
package analytics

import "math"

// SMA is the simple moving average over the trailing period.
func SMA(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 0 || period > len(data) {
		return out
	}
	var sum float64
	for i, v := range data {
		sum += v
		if i >= period {
			sum -= data[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average with smoothing 2/(period+1), seeded
// on the first value.
func EMA(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 0 || len(data) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1)
	prev := data[0]
	out[0] = prev
	for i := 1; i < len(data); i++ {
		prev = alpha*data[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RSI is the relative strength index over simple averages of gains and
// losses. 100 when the window has no losses, NaN when it has no moves at all.
func RSI(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 0 || len(data) <= period {
		return out
	}
	gains := make([]float64, len(data))
	losses := make([]float64, len(data))
	for i := 1; i < len(data); i++ {
		delta := data[i] - data[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	var gainSum, lossSum float64
	for i := 1; i < len(data); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i < period {
			continue
		}
		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		switch {
		case avgLoss == 0 && avgGain == 0:
			// flat window, undefined
		case avgLoss == 0:
			out[i] = 100
		default:
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// BollingerBands returns the upper, middle, and lower bands: SMA ± stdDev
// rolling sample standard deviations.
func BollingerBands(data []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	middle = SMA(data, period)
	sd := Volatility(data, period)
	upper = nanSlice(len(data))
	lower = nanSlice(len(data))
	for i := range data {
		if !math.IsNaN(middle[i]) && !math.IsNaN(sd[i]) {
			upper[i] = middle[i] + sd[i]*stdDev
			lower[i] = middle[i] - sd[i]*stdDev
		}
	}
	return upper, middle, lower
}

// MACD returns the MACD line (fast EMA − slow EMA), its signal-period EMA,
// and the histogram (line − signal).
func MACD(data []float64, fastPeriod, slowPeriod, signalPeriod int) (line, signal, histogram []float64) {
	fast := EMA(data, fastPeriod)
	slow := EMA(data, slowPeriod)
	line = nanSlice(len(data))
	for i := range data {
		line[i] = fast[i] - slow[i]
	}
	signal = EMA(line, signalPeriod)
	histogram = nanSlice(len(data))
	for i := range data {
		histogram[i] = line[i] - signal[i]
	}
	return line, signal, histogram
}

// Momentum is the difference against the value period steps back.
func Momentum(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 0 {
		return out
	}
	for i := period; i < len(data); i++ {
		out[i] = data[i] - data[i-period]
	}
	return out
}

// RateOfChange is the percent change against the value period steps back.
func RateOfChange(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 0 {
		return out
	}
	for i := period; i < len(data); i++ {
		if data[i-period] != 0 {
			out[i] = (data[i]/data[i-period] - 1) * 100
		}
	}
	return out
}

// Volatility is the rolling sample standard deviation.
func Volatility(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period < 2 || period > len(data) {
		return out
	}
	for i := period - 1; i < len(data); i++ {
		window := data[i-period+1 : i+1]
		var mean float64
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		var ss float64
		for _, v := range window {
			ss += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// Crossover reports, per index, whether a crossed above b at that step.
func Crossover(a, b []float64) []bool {
	out := make([]bool, min(len(a), len(b)))
	for i := 1; i < len(out); i++ {
		out[i] = a[i] > b[i] && a[i-1] <= b[i-1]
	}
	return out
}

// Crossunder reports, per index, whether a crossed below b at that step.
func Crossunder(a, b []float64) []bool {
	out := make([]bool, min(len(a), len(b)))
	for i := 1; i < len(out); i++ {
		out[i] = a[i] < b[i] && a[i-1] >= b[i-1]
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
