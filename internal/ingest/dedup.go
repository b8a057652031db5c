package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/mtakala/polarhub/internal/metrics"
	"github.com/mtakala/polarhub/internal/model"
)

const (
	// queryPadMs widens the existing-beat query so boundary RR lengths are
	// visible to gap detection.
	queryPadMs = 2000
	// gapSlackMs is the tolerance applied to gap boundaries and to
	// existing-beat proximity.
	gapSlackMs = 300
)

// gap is a half-open hole in the stored beat coverage, in ms.
type gap struct {
	start, end int64
}

// IngestBatch deduplicates a retroactive upload against stored beats and
// writes only the points that fall into coverage gaps. Unlike the real-time
// path, store failures surface to the caller: the client retries the upload.
func (p *Pipeline) IngestBatch(ctx context.Context, payload model.BatchPayload) (model.BatchResult, error) {
	incoming := flattenBatch(payload)
	if len(incoming) == 0 {
		return model.BatchResult{}, nil
	}

	dev, created := p.devices.GetOrCreate(payload.Device)
	if created {
		p.post.Register(ctx, dev)
	}
	dev.Lock()
	defer dev.Unlock()

	firstTS := incoming[0].TS
	lastTS := incoming[len(incoming)-1].TS

	existing, err := p.store.QueryRawRange(ctx, payload.Device, firstTS-queryPadMs, lastTS+queryPadMs)
	if err != nil {
		return model.BatchResult{}, fmt.Errorf("query existing beats: %w", err)
	}

	var fresh []model.RawBeat
	if len(existing) == 0 {
		fresh = incoming
	} else {
		gaps := detectGaps(existing, firstTS, lastTS)
		for _, b := range incoming {
			if inGaps(gaps, b.TS) && !nearExisting(existing, b.TS) {
				fresh = append(fresh, b)
			}
		}
	}

	if len(fresh) > 0 {
		if err := p.store.WriteRawBeats(ctx, payload.Device, fresh); err != nil {
			return model.BatchResult{}, fmt.Errorf("write batch beats: %w", err)
		}
		metrics.BeatsIngested.WithLabelValues(model.PathBatch).Add(float64(len(fresh)))
	}

	res := model.BatchResult{
		Received:   len(incoming),
		New:        len(fresh),
		Duplicates: len(incoming) - len(fresh),
	}
	metrics.BatchDuplicates.Add(float64(res.Duplicates))

	// Raw writes precede the rewind notification so the next tick sees them.
	p.post.TriggerReprocess(dev, firstTS)

	p.log.Info().Str("device", payload.Device).
		Int("received", res.Received).Int("new", res.New).Int("duplicates", res.Duplicates).
		Msg("batch upload deduplicated")
	return res, nil
}

// flattenBatch lays each beat's RR series head-to-tail from its timestamp
// and returns the points sorted by timestamp.
func flattenBatch(payload model.BatchPayload) []model.RawBeat {
	var out []model.RawBeat
	if payload.Beats == nil {
		return nil
	}
	for _, b := range *payload.Beats {
		if b.Timestamp == nil {
			continue
		}
		hr := 0.0
		if b.HeartRate != nil {
			hr = *b.HeartRate
		}
		if len(b.RRIntervals) == 0 {
			out = append(out, model.RawBeat{
				TS: *b.Timestamp, HR: hr, Source: payload.Source, Path: model.PathBatch,
			})
			continue
		}
		offset := 0.0
		for _, rr := range b.RRIntervals {
			out = append(out, model.RawBeat{
				TS:     *b.Timestamp + int64(math.Round(offset)),
				RR:     rr,
				HR:     hr,
				Source: payload.Source,
				Path:   model.PathBatch,
			})
			offset += rr
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out
}

// detectGaps walks the existing coverage and returns the holes an upload may
// fill: interior gaps where the next beat starts later than the previous
// beat's end plus slack, plus a leading and a trailing gap when the upload
// extends past the stored range.
func detectGaps(existing []model.StoredBeat, firstTS, lastTS int64) []gap {
	var gaps []gap

	if firstTS < existing[0].TS-gapSlackMs {
		gaps = append(gaps, gap{start: firstTS, end: existing[0].TS})
	}
	for i := 0; i+1 < len(existing); i++ {
		covered := existing[i].TS + int64(math.Round(existing[i].RR))
		if existing[i+1].TS-covered > gapSlackMs {
			gaps = append(gaps, gap{start: covered, end: existing[i+1].TS})
		}
	}
	last := existing[len(existing)-1]
	lastCovered := last.TS + int64(math.Round(last.RR))
	if lastTS > lastCovered+gapSlackMs {
		gaps = append(gaps, gap{start: lastCovered, end: lastTS + queryPadMs})
	}
	return gaps
}

func inGaps(gaps []gap, ts int64) bool {
	for _, g := range gaps {
		if ts >= g.start-gapSlackMs && ts <= g.end+gapSlackMs {
			return true
		}
	}
	return false
}

// nearExisting reports whether a stored beat sits within the slack of ts;
// such a point is the duplicate the gap filter exists to reject, even when a
// gap boundary overlaps it.
func nearExisting(existing []model.StoredBeat, ts int64) bool {
	i := sort.Search(len(existing), func(i int) bool { return existing[i].TS >= ts-gapSlackMs })
	return i < len(existing) && existing[i].TS <= ts+gapSlackMs
}
