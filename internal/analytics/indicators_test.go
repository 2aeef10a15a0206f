package analytics

import (
	"math"
	"testing"
)

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestSMA(t *testing.T) {
	t.Parallel()

	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Errorf("warm-up values = %v, want NaN", got[:2])
	}
	for i, want := range map[int]float64{2: 2, 3: 3, 4: 4} {
		if !approx(got[i], want) {
			t.Errorf("SMA[%d] = %v, want %v", i, got[i], want)
		}
	}

	if got := SMA([]float64{1, 2}, 3); !math.IsNaN(got[1]) {
		t.Errorf("period longer than series should stay NaN, got %v", got)
	}
}

func TestEMA(t *testing.T) {
	t.Parallel()

	// period 3 → alpha 0.5, seeded on the first value
	got := EMA([]float64{2, 4, 6, 8}, 3)
	want := []float64{2, 3, 4.5, 6.25}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("EMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRSI(t *testing.T) {
	t.Parallel()

	// deltas +3, −2, +5 over period 3: rs = (8/3)/(2/3) = 4 → rsi 80
	got := RSI([]float64{44, 47, 45, 50}, 3)
	if !math.IsNaN(got[2]) {
		t.Errorf("RSI before a full window = %v, want NaN", got[2])
	}
	if !approx(got[3], 80) {
		t.Errorf("RSI[3] = %v, want 80", got[3])
	}

	allGains := RSI([]float64{1, 2, 3, 4, 5}, 3)
	if !approx(allGains[4], 100) {
		t.Errorf("loss-free RSI = %v, want 100", allGains[4])
	}

	flat := RSI([]float64{5, 5, 5, 5}, 3)
	if !math.IsNaN(flat[3]) {
		t.Errorf("flat-series RSI = %v, want NaN", flat[3])
	}
}

func TestVolatilityAndBollinger(t *testing.T) {
	t.Parallel()

	data := []float64{1, 2, 3, 4}
	vol := Volatility(data, 3)
	if !math.IsNaN(vol[1]) {
		t.Errorf("warm-up volatility = %v, want NaN", vol[1])
	}
	// sample std of {1,2,3} and {2,3,4} is 1
	if !approx(vol[2], 1) || !approx(vol[3], 1) {
		t.Errorf("volatility = %v, want 1 from index 2", vol)
	}

	upper, middle, lower := BollingerBands(data, 3, 2)
	if !approx(middle[2], 2) || !approx(upper[2], 4) || !approx(lower[2], 0) {
		t.Errorf("bands[2] = %v/%v/%v, want 4/2/0", upper[2], middle[2], lower[2])
	}
}

func TestMACDFlatSeries(t *testing.T) {
	t.Parallel()

	data := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	line, signal, histogram := MACD(data, 2, 4, 3)
	for i := range data {
		if !approx(line[i], 0) || !approx(signal[i], 0) || !approx(histogram[i], 0) {
			t.Errorf("flat series MACD[%d] = %v/%v/%v, want zeros", i, line[i], signal[i], histogram[i])
		}
	}
}

func TestMomentumAndRateOfChange(t *testing.T) {
	t.Parallel()

	mom := Momentum([]float64{1, 3, 6, 10}, 2)
	if !math.IsNaN(mom[1]) || !approx(mom[2], 5) || !approx(mom[3], 7) {
		t.Errorf("momentum = %v, want [NaN NaN 5 7]", mom)
	}

	roc := RateOfChange([]float64{100, 110, 99}, 1)
	if !approx(roc[1], 10) || !approx(roc[2], -10) {
		t.Errorf("rate of change = %v, want [NaN 10 -10]", roc)
	}
}

func TestCrossoverDetection(t *testing.T) {
	t.Parallel()

	a := []float64{1, 3, 3, 1}
	b := []float64{2, 2, 2, 2}

	over := Crossover(a, b)
	if over[0] || !over[1] || over[2] || over[3] {
		t.Errorf("crossover = %v, want only index 1", over)
	}

	under := Crossunder(a, b)
	if under[0] || under[1] || under[2] || !under[3] {
		t.Errorf("crossunder = %v, want only index 3", under)
	}
}
