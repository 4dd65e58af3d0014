package indicator

import "math"

// obvSlopeWindow is the number of OBV points the slope is fit over.
const obvSlopeWindow = 10

// OBVSeries computes On-Balance Volume:
// OBV_i = OBV_{i-1} + sign(c_i - c_{i-1}) * v_i, starting at 0.
func OBVSeries(closes, volumes []float64) []float64 {
	if len(closes) < 2 || len(closes) != len(volumes) {
		return nil
	}
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// OBVSlope fits a least-squares line through the last obvSlopeWindow OBV
// points and normalizes the slope by the mean absolute OBV over the same
// window, making the result scale-free across symbols.
func OBVSlope(closes, volumes []float64) (float64, bool) {
	obv := OBVSeries(closes, volumes)
	if len(obv) < obvSlopeWindow {
		return 0, false
	}
	tail := obv[len(obv)-obvSlopeWindow:]

	slope := leastSquaresSlope(tail)

	meanAbs := 0.0
	for _, v := range tail {
		meanAbs += math.Abs(v)
	}
	meanAbs /= float64(len(tail))
	if meanAbs == 0 {
		return 0, true
	}
	return slope / meanAbs, true
}

// leastSquaresSlope returns the OLS slope of y over x = 0..n-1.
func leastSquaresSlope(y []float64) float64 {
	n := float64(len(y))
	if n < 2 {
		return 0
	}
	sumX := (n - 1) * n / 2.0
	sumX2 := (n - 1) * n * (2*n - 1) / 6.0
	sumY, sumXY := 0.0, 0.0
	for i, v := range y {
		sumY += v
		sumXY += float64(i) * v
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
