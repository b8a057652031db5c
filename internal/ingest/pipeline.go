// Package ingest implements the two beat ingest paths: the real-time
// pipeline fed by the BLE relay and the batch deduplicator fed by
// retroactive mobile uploads.
package ingest

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mtakala/polarhub/internal/device"
	"github.com/mtakala/polarhub/internal/hrv"
	"github.com/mtakala/polarhub/internal/metrics"
	"github.com/mtakala/polarhub/internal/model"
	"github.com/mtakala/polarhub/internal/store"
)

// Reprocessor is the post-processor surface the ingest paths depend on.
type Reprocessor interface {
	// Register loads the device's high-water mark from the store.
	Register(ctx context.Context, dev *device.State)
	// TriggerReprocess assigns an unset high-water mark and otherwise moves
	// it backwards to fromMs if that is earlier than its current value.
	// Caller holds the device lock.
	TriggerReprocess(dev *device.State, fromMs int64)
}

// StatusBroadcaster receives a one-way notification after each ingest so the
// SSE fan-out can push a fresh snapshot. Failures must not block ingest.
type StatusBroadcaster interface {
	BroadcastStatus()
}

// Pipeline owns the per-request ingest work.
type Pipeline struct {
	store     store.Store
	devices   *device.Registry
	post      Reprocessor
	broadcast StatusBroadcaster
	log       zerolog.Logger
	now       func() time.Time
}

// NewPipeline wires the ingest paths to their collaborators.
func NewPipeline(st store.Store, devices *device.Registry, post Reprocessor, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:   st,
		devices: devices,
		post:    post,
		log:     log.With().Str("component", "ingest").Logger(),
		now:     time.Now,
	}
}

// SetBroadcaster attaches the SSE fan-out. Optional.
func (p *Pipeline) SetBroadcaster(b StatusBroadcaster) { p.broadcast = b }

// IngestBeats handles one real-time relay frame and returns the number of
// raw beats written. Store failures are logged, never surfaced: the client
// re-uploads through the batch path later.
func (p *Pipeline) IngestBeats(ctx context.Context, payload model.BeatsPayload) int {
	baseTS := p.now().UnixMilli()
	if payload.Timestamp != nil {
		baseTS = *payload.Timestamp
	}
	var rrIntervals []float64
	if payload.RRIntervals != nil {
		rrIntervals = *payload.RRIntervals
	}

	dev, created := p.devices.GetOrCreate(payload.Device)
	if created {
		p.post.Register(ctx, dev)
	}

	dev.Lock()
	if payload.Posture != "" {
		dev.LastPosture = payload.Posture
	}

	beats := make([]model.RawBeat, 0, len(rrIntervals))
	offset := 0.0
	for _, rr := range rrIntervals {
		ts := baseTS + int64(math.Round(offset))
		b := model.RawBeat{TS: ts, RR: rr, Source: payload.Source, Path: model.PathRealtime}
		if payload.HeartRate != nil {
			b.HR = *payload.HeartRate
		}
		beats = append(beats, b)
		dev.PushRR(rr)
		dev.TotalBeats++
		dev.LastBeatTS = ts
		offset += rr
	}

	if len(beats) > 0 {
		if err := p.store.WriteRawBeats(ctx, payload.Device, beats); err != nil {
			metrics.StoreWriteErrors.Inc()
			p.log.Warn().Err(err).Str("device", payload.Device).Int("beats", len(beats)).
				Msg("raw beat write failed, relying on batch re-upload")
		} else {
			metrics.BeatsIngested.WithLabelValues(model.PathRealtime).Add(float64(len(beats)))
		}
		p.realtimeHRV(ctx, dev)
	}
	dev.Unlock()

	if p.broadcast != nil {
		p.broadcast.BroadcastStatus()
	}
	return len(beats)
}

// realtimeHRV classifies the current window and persists one dashboard
// sample at the last beat's timestamp. Caller holds the device lock.
func (p *Pipeline) realtimeHRV(ctx context.Context, dev *device.State) {
	window := dev.RRWindow()
	if len(window) < 4 {
		return
	}
	c := hrv.Classify(window)
	m, ok := hrv.Metrics(c.CleanSeries)
	if !ok {
		// Degenerate window this tick; the post-processor will settle it.
		return
	}
	point := model.RealtimePoint{
		TS:    dev.LastBeatTS,
		RMSSD: m.RMSSD,
		SDNN:  m.SDNN,
		PNN50: m.PNN50,
		HR:    hrv.MeanHR(c.CleanSeries),
	}
	if err := p.store.WriteRealtime(ctx, dev.ID, point); err != nil {
		metrics.StoreWriteErrors.Inc()
		p.log.Warn().Err(err).Str("device", dev.ID).Msg("realtime HRV write failed")
	}
	dev.PushRMSSD(m.RMSSD)
}
