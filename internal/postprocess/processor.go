// Package postprocess runs the deferred classification pass: every minute it
// re-classifies beats older than the look-ahead buffer with full left/right
// context, merges canonical rr_clean/artifact_type fields into the raw
// measurement, and recomputes five-minute HRV summaries.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mtakala/polarhub/internal/device"
	"github.com/mtakala/polarhub/internal/hrv"
	"github.com/mtakala/polarhub/internal/metrics"
	"github.com/mtakala/polarhub/internal/model"
	"github.com/mtakala/polarhub/internal/store"
)

const (
	// tickInterval is the cadence of the deferred pass.
	tickInterval = time.Minute
	// bufferMs keeps ~91 beats of right context available at resting HR
	// before a range is classified.
	bufferMs = 120_000
	// contextBeats is the classifier's look-around, one threshold window.
	contextBeats = 91
	// minSummarySamples is the floor below which a five-minute window gets
	// no summary.
	minSummarySamples = 10
)

// Processor owns the deferred classification loop.
type Processor struct {
	store             store.Store
	devices           *device.Registry
	summaryIntervalMs int64
	log               zerolog.Logger
	now               func() time.Time
}

// New builds a Processor. summaryIntervalMs is the summary window width
// (300000 in production).
func New(st store.Store, devices *device.Registry, summaryIntervalMs int64, log zerolog.Logger) *Processor {
	return &Processor{
		store:             st,
		devices:           devices,
		summaryIntervalMs: summaryIntervalMs,
		log:               log.With().Str("component", "postprocess").Logger(),
		now:               time.Now,
	}
}

// Register initializes a device's high-water mark from the store: the latest
// classified beat, or now when the device has no history. A batch upload can
// rewind the mark while the load is in flight; the earlier value wins.
func (p *Processor) Register(ctx context.Context, dev *device.State) {
	ts, ok, err := p.store.LastProcessed(ctx, dev.ID)
	loaded := p.now().UnixMilli()
	switch {
	case err != nil:
		p.log.Warn().Err(err).Str("device", dev.ID).
			Msg("loading high-water mark failed, starting from now")
	case ok:
		loaded = ts
	}
	dev.Lock()
	defer dev.Unlock()
	if dev.LastProcessedMs != 0 && dev.LastProcessedMs < loaded {
		return
	}
	dev.LastProcessedMs = loaded
}

// TriggerReprocess rewinds the high-water mark so a batch-filled range gets
// re-classified: it assigns an unset mark and otherwise only ever moves
// backwards. Caller holds the device lock.
func (p *Processor) TriggerReprocess(dev *device.State, fromMs int64) {
	if dev.LastProcessedMs == 0 || fromMs < dev.LastProcessedMs {
		dev.LastProcessedMs = fromMs
	}
}

// Run drives the tick loop until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Tick(ctx)
		}
	}
}

// Tick processes every registered device once. A failure for one device is
// logged and never stops the others.
func (p *Processor) Tick(ctx context.Context) {
	for _, dev := range p.devices.All() {
		start := time.Now()
		if err := p.ProcessDevice(ctx, dev); err != nil {
			metrics.TickErrors.Inc()
			p.log.Error().Err(err).Str("device", dev.ID).Msg("deferred pass failed")
		}
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// ProcessDevice classifies the device's beats in [lastProcessedMs, now-buffer]
// and advances the high-water mark.
func (p *Processor) ProcessDevice(ctx context.Context, dev *device.State) error {
	dev.Lock()
	defer dev.Unlock()

	now := p.now().UnixMilli()
	cutoff := now - bufferMs
	from := dev.LastProcessedMs
	if from >= cutoff {
		return nil
	}

	left, target, right, err := p.queryRanges(ctx, dev.ID, from, cutoff)
	if err != nil {
		return err
	}

	// Previously-inserted synthetic beats carry no rr_interval and must not
	// feed the classifier.
	targetRR := target[:0:0]
	for _, b := range target {
		if b.RR > 0 {
			targetRR = append(targetRR, b)
		}
	}

	total := len(left) + len(targetRR) + len(right)
	if total < 4 {
		dev.LastProcessedMs = cutoff
		return nil
	}

	rr := make([]float64, 0, total)
	for _, b := range left {
		rr = append(rr, b.RR)
	}
	for _, b := range targetRR {
		rr = append(rr, b.RR)
	}
	for _, b := range right {
		rr = append(rr, b.RR)
	}

	c := hrv.Classify(rr)
	results := c.Beats[len(left) : len(left)+len(targetRR)]

	updates := make([]model.CanonicalUpdate, 0, len(targetRR))
	for k, beat := range targetRR {
		res := results[k]
		switch res.Type {
		case model.ArtifactMissed:
			// The long interval splits in two: correct the original beat
			// and insert a synthetic one halfway.
			updates = append(updates, model.CanonicalUpdate{
				TS: beat.TS, RRClean: res.RRClean, HRClean: hrv.CleanHR(res.RRClean),
				Artifact: model.ArtifactMissed,
			})
			updates = append(updates, model.CanonicalUpdate{
				TS:      beat.TS + int64(math.Round(res.RRClean)),
				RRClean: res.RRClean, HRClean: hrv.CleanHR(res.RRClean),
				Artifact: model.ArtifactMissedInserted, Synthetic: true,
			})
		case model.ArtifactExtraAbsorbed:
			// Sentinel zero marks "no real beat here".
			updates = append(updates, model.CanonicalUpdate{
				TS: beat.TS, Artifact: model.ArtifactExtraAbsorbed,
			})
		default:
			updates = append(updates, model.CanonicalUpdate{
				TS: beat.TS, RRClean: res.RRClean, HRClean: hrv.CleanHR(res.RRClean),
				Artifact: res.Type,
			})
		}
		if res.Type != model.ArtifactNone {
			metrics.Artifacts.WithLabelValues(string(res.Type)).Inc()
		}
	}

	if len(updates) > 0 {
		if err := p.store.WriteCanonical(ctx, dev.ID, updates); err != nil {
			// Best effort: the mark still advances, batch re-uploads and the
			// rewind path reconcile later.
			metrics.StoreWriteErrors.Inc()
			p.log.Warn().Err(err).Str("device", dev.ID).Msg("canonical write failed")
		}
	}

	dev.LastProcessedMs = cutoff

	if len(targetRR) > 0 {
		p.recomputeSummaries(ctx, dev, targetRR[0].TS, targetRR[len(targetRR)-1].TS, now)
	}
	return nil
}

// queryRanges fetches left context, target range, and right context in
// parallel.
func (p *Processor) queryRanges(ctx context.Context, deviceID string, from, cutoff int64) (left, target, right []model.StoredBeat, err error) {
	var wg sync.WaitGroup
	var leftErr, targetErr, rightErr error
	wg.Add(3)
	go func() {
		defer wg.Done()
		left, leftErr = p.store.QueryContextBefore(ctx, deviceID, from, contextBeats)
	}()
	go func() {
		defer wg.Done()
		target, targetErr = p.store.QueryRawRange(ctx, deviceID, from, cutoff)
	}()
	go func() {
		defer wg.Done()
		right, rightErr = p.store.QueryContextAfter(ctx, deviceID, cutoff, contextBeats)
	}()
	wg.Wait()
	if err := errors.Join(leftErr, targetErr, rightErr); err != nil {
		return nil, nil, nil, fmt.Errorf("query ranges: %w", err)
	}
	return left, target, right, nil
}
