package postprocess

import (
	"context"

	"github.com/mtakala/polarhub/internal/device"
	"github.com/mtakala/polarhub/internal/hrv"
	"github.com/mtakala/polarhub/internal/metrics"
	"github.com/mtakala/polarhub/internal/model"
)

// recomputeSummaries rebuilds the five-minute HRV summaries for every window
// touched by [startTS, endTS]. Only windows whose end is already in the past
// are written; sparse windows (< minSummarySamples clean beats) are skipped.
// Caller holds the device lock.
func (p *Processor) recomputeSummaries(ctx context.Context, dev *device.State, startTS, endTS, nowMs int64) {
	w := p.summaryIntervalMs
	if w <= 0 {
		return
	}
	first := (startTS / w) * w
	bound := (endTS/w + 1) * w

	for ws := first; ws+w <= bound; ws += w {
		we := ws + w
		if we > nowMs {
			continue
		}
		beats, err := p.store.QueryCleanWindow(ctx, dev.ID, ws, we)
		if err != nil {
			p.log.Warn().Err(err).Str("device", dev.ID).Int64("window_end", we).
				Msg("summary window query failed")
			continue
		}
		if len(beats) < minSummarySamples {
			continue
		}

		clean := make([]float64, 0, len(beats))
		artifacts := 0
		for _, b := range beats {
			clean = append(clean, b.RRClean)
			if b.Artifact != "" && b.Artifact != model.ArtifactNone {
				artifacts++
			}
		}
		m, ok := hrv.Metrics(clean)
		if !ok {
			continue
		}

		sum := model.Summary{
			TS:            we,
			RMSSD:         m.RMSSD,
			SDNN:          m.SDNN,
			PNN50:         m.PNN50,
			HeartRate:     hrv.MeanHR(clean),
			SampleCount:   len(clean),
			ArtifactCount: artifacts,
			Posture:       dev.LastPosture,
		}
		if err := p.store.WriteSummary(ctx, dev.ID, sum); err != nil {
			metrics.StoreWriteErrors.Inc()
			p.log.Warn().Err(err).Str("device", dev.ID).Int64("window_end", we).
				Msg("summary write failed")
		}
	}
}
