// Package hrv implements the Lipponen–Tarvainen (2019) RR artifact
// classifier and the time-domain HRV metrics computed from corrected RR
// series. Everything in this package is pure: no I/O, no shared state.
package hrv

import (
	"math"

	"github.com/mtakala/polarhub/internal/model"
)

const (
	// Classification constants from Lipponen & Tarvainen 2019.
	ectopicC1      = 0.13
	ectopicC2      = 0.17
	thresholdAlpha = 5.2
	// Threshold floor in ms; a flat window (zero quartile deviation) must
	// not make every beat an artifact.
	thresholdFloorMs = 50.0
	thresholdWindow  = 91
	medianWindow     = 11
)

// BeatResult is the classifier verdict for one input RR interval.
// Absorbed beats (the trailing half of an extra pair) carry no clean RR.
type BeatResult struct {
	RRClean  float64
	Absorbed bool
	Type     model.ArtifactType
}

// Classification is the full classifier output. Beats parallels the input;
// CleanSeries is the corrected series suitable for HRV: missed beats
// contribute two entries, absorbed beats none.
type Classification struct {
	Beats       []BeatResult
	CleanSeries []float64
}

// Classify runs the dRR-shape artifact classifier over rr (milliseconds).
// Sequences shorter than 4 are returned unchanged with every beat normal.
func Classify(rr []float64) Classification {
	n := len(rr)
	beats := make([]BeatResult, n)
	if n < 4 {
		for i, v := range rr {
			beats[i] = BeatResult{RRClean: v, Type: model.ArtifactNone}
		}
		return Classification{Beats: beats, CleanSeries: append([]float64(nil), rr...)}
	}

	// Successive differences; the first element takes the mean of the rest
	// to avoid edge bias.
	drr := make([]float64, n)
	var sum float64
	for i := 1; i < n; i++ {
		drr[i] = rr[i] - rr[i-1]
		sum += drr[i]
	}
	drr[0] = sum / float64(n-1)

	th1 := rollingThreshold(drr, thresholdWindow, thresholdAlpha, thresholdFloorMs)

	medRR := rollingMedian(rr, medianWindow)
	mrr := make([]float64, n)
	for i := range rr {
		m := rr[i] - medRR[i]
		if m < 0 {
			m *= 2
		}
		mrr[i] = m
	}
	th2 := rollingThreshold(mrr, thresholdWindow, thresholdAlpha, thresholdFloorMs)

	drrs := make([]float64, n)
	mrrs := make([]float64, n)
	for i := range rr {
		drrs[i] = drr[i] / th1[i]
		mrrs[i] = mrr[i] / th2[i]
	}

	// Out-of-range neighbors read as zero; the series shrinks, never wraps.
	at := func(s []float64, i int) float64 {
		if i < 0 || i >= len(s) {
			return 0
		}
		return s[i]
	}

	s12 := make([]float64, n)
	s22 := make([]float64, n)
	for i := range drrs {
		switch {
		case drrs[i] > 0:
			s12[i] = math.Max(at(drrs, i-1), at(drrs, i+1))
		case drrs[i] < 0:
			s12[i] = math.Min(at(drrs, i-1), at(drrs, i+1))
		}
		if drrs[i] >= 0 {
			s22[i] = math.Min(at(drrs, i+1), at(drrs, i+2))
		} else {
			s22[i] = math.Max(at(drrs, i+1), at(drrs, i+2))
		}
	}

	types := make([]model.ArtifactType, n)
	type pair struct{ a, b int }
	var ectopics []pair

	// The walk never revisits an index it skipped past; decisions at
	// earlier indices win.
	i := 0
	for i < n-2 {
		d := drrs[i]
		if math.Abs(d) <= 1 {
			i++
			continue
		}

		if (d > 1 && s12[i] < -ectopicC1*d-ectopicC2) ||
			(d < -1 && s12[i] > -ectopicC1*d+ectopicC2) {
			if i > 0 {
				ectopics = append(ectopics, pair{i - 1, i})
				i += 2
			} else {
				// No predecessor to pair with.
				types[0] = model.ArtifactLongShort
				i++
			}
			continue
		}

		if math.Abs(d) > 1 || math.Abs(mrrs[i]) > 3 {
			cands := []int{i}
			if math.Abs(at(drrs, i+1)) < math.Abs(at(drrs, i+2)) {
				cands = append(cands, i+1)
			}
			matched := false
			for _, j := range cands {
				if drrs[j] < -1 && s22[j] > 1 && j+1 < n &&
					math.Abs(rr[j]+rr[j+1]-medRR[j]) < th2[j] {
					types[j] = model.ArtifactExtra
					types[j+1] = model.ArtifactExtraAbsorbed
					i = j + 2
					matched = true
					break
				}
				if drrs[j] > 1 && s22[j] < -1 &&
					math.Abs(rr[j]/2-medRR[j]) < th2[j] {
					types[j] = model.ArtifactMissed
					i = j + 2
					matched = true
					break
				}
			}
			if !matched {
				types[i] = model.ArtifactLongShort
				i++
			}
			continue
		}

		i++
	}

	// Corrections: non-ectopic first, then ectopic pairs overwrite
	// (deliberately overriding a longshort already written at either index).
	for idx := range rr {
		switch types[idx] {
		case model.ArtifactMissed:
			beats[idx] = BeatResult{RRClean: rr[idx] / 2, Type: model.ArtifactMissed}
		case model.ArtifactExtra:
			beats[idx] = BeatResult{RRClean: rr[idx] + rr[idx+1], Type: model.ArtifactExtra}
		case model.ArtifactExtraAbsorbed:
			beats[idx] = BeatResult{Absorbed: true, Type: model.ArtifactExtraAbsorbed}
		case model.ArtifactLongShort:
			beats[idx] = BeatResult{RRClean: medRR[idx], Type: model.ArtifactLongShort}
		default:
			beats[idx] = BeatResult{RRClean: rr[idx], Type: model.ArtifactNone}
		}
	}
	for _, p := range ectopics {
		mean := (rr[p.a] + rr[p.b]) / 2
		beats[p.a] = BeatResult{RRClean: mean, Type: model.ArtifactEctopic}
		beats[p.b] = BeatResult{RRClean: mean, Type: model.ArtifactEctopic}
	}

	clean := make([]float64, 0, n+1)
	for _, b := range beats {
		if b.Absorbed {
			continue
		}
		clean = append(clean, b.RRClean)
		if b.Type == model.ArtifactMissed {
			clean = append(clean, b.RRClean)
		}
	}

	return Classification{Beats: beats, CleanSeries: clean}
}
