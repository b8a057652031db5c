// Package store provides the typed adapter over the time-series database.
// Point identity is (measurement, tags, timestamp); writing the same identity
// again merges fields, which makes every write path idempotent.
package store

import (
	"context"

	"github.com/mtakala/polarhub/internal/model"
)

// Measurement names.
const (
	MeasurementRaw      = "polar_raw"
	MeasurementRealtime = "polar_realtime"
	MeasurementSummary  = "polar_hrv_summary"
	MeasurementPosture  = "polar_posture"
	MeasurementStatus   = "polar_relay_status"
)

// WriteChunkSize caps the number of points per write request.
const WriteChunkSize = 5000

// Store is the persistence surface used by the ingest pipeline and the
// post-processor. All operations respect the caller's context and are bounded
// by the adapter's request deadline.
type Store interface {
	// WriteRawBeats persists raw beats for a device, chunked at
	// WriteChunkSize points per request.
	WriteRawBeats(ctx context.Context, device string, beats []model.RawBeat) error

	// WriteRealtime persists one per-beat HRV sample for the dashboard.
	WriteRealtime(ctx context.Context, device string, p model.RealtimePoint) error

	// WriteCanonical merges classifier output into existing raw beats
	// (and creates synthetic inserted beats).
	WriteCanonical(ctx context.Context, device string, updates []model.CanonicalUpdate) error

	// WriteSummary persists a five-minute HRV summary.
	WriteSummary(ctx context.Context, device string, s model.Summary) error

	// WritePosture persists a posture transition.
	WritePosture(ctx context.Context, p model.PosturePayload, ts int64) error

	// WriteStatus persists an allow-listed relay status event.
	WriteStatus(ctx context.Context, s model.StatusPayload, ts int64) error

	// QueryRawRange returns all raw beats for a device in [startMs, endMs],
	// oldest first.
	QueryRawRange(ctx context.Context, device string, startMs, endMs int64) ([]model.StoredBeat, error)

	// QueryContextBefore returns up to limit beats with ts < beforeMs and a
	// positive rr_interval, oldest first.
	QueryContextBefore(ctx context.Context, device string, beforeMs int64, limit int) ([]model.StoredBeat, error)

	// QueryContextAfter returns up to limit beats with ts > afterMs and a
	// positive rr_interval, oldest first.
	QueryContextAfter(ctx context.Context, device string, afterMs int64, limit int) ([]model.StoredBeat, error)

	// QueryCleanWindow returns beats with rr_clean > 0 in [startMs, endMs),
	// oldest first.
	QueryCleanWindow(ctx context.Context, device string, startMs, endMs int64) ([]model.StoredBeat, error)

	// LastProcessed returns the latest timestamp carrying a positive
	// rr_clean, or ok=false when the device has no classified beats.
	LastProcessed(ctx context.Context, device string) (int64, bool, error)
}
