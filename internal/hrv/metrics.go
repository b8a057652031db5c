package hrv

import "math"

// TimeDomain holds the three time-domain HRV metrics.
type TimeDomain struct {
	RMSSD float64 // root mean square of successive differences, ms
	SDNN  float64 // standard deviation of RR, ms
	PNN50 float64 // % of successive differences > 50 ms
}

// Metrics computes time-domain HRV over a cleaned RR series. Returns false
// when fewer than 2 values are present or any value is non-finite.
func Metrics(rr []float64) (TimeDomain, bool) {
	if len(rr) < 2 {
		return TimeDomain{}, false
	}
	var sum float64
	for _, v := range rr {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return TimeDomain{}, false
		}
		sum += v
	}
	mean := sum / float64(len(rr))

	var sqDiffSum, varSum float64
	nn50 := 0
	for i, v := range rr {
		dev := v - mean
		varSum += dev * dev
		if i == 0 {
			continue
		}
		d := v - rr[i-1]
		sqDiffSum += d * d
		if math.Abs(d) > 50 {
			nn50++
		}
	}
	nd := float64(len(rr) - 1)

	return TimeDomain{
		RMSSD: math.Sqrt(sqDiffSum / nd),
		SDNN:  math.Sqrt(varSum / float64(len(rr))),
		PNN50: 100 * float64(nn50) / nd,
	}, true
}

// MeanHR converts a mean RR (ms) series to beats per minute, rounded to the
// nearest integer. Returns 0 for an empty series.
func MeanHR(rr []float64) float64 {
	if len(rr) == 0 {
		return 0
	}
	var sum float64
	for _, v := range rr {
		sum += v
	}
	mean := sum / float64(len(rr))
	if mean <= 0 {
		return 0
	}
	return math.Round(60000 / mean)
}

// CleanHR converts one corrected RR to bpm rounded to 0.01, the precision of
// the canonical hr_clean field.
func CleanHR(rrClean float64) float64 {
	if rrClean <= 0 {
		return 0
	}
	return math.Round(60000/rrClean*100) / 100
}
