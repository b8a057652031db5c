package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mtakala/polarhub/internal/model"
)

// ErrWriteFailed is returned by MemStore when write failures are forced.
var ErrWriteFailed = errors.New("store write failed")

// MemStore is an in-memory Store with the same merge-by-field semantics as
// the InfluxDB adapter. It backs the pipeline and server tests.
type MemStore struct {
	mu        sync.Mutex
	raw       map[string]map[int64]map[string]any
	realtime  map[string][]model.RealtimePoint
	summaries map[string][]model.Summary
	postures  []model.PosturePayload
	statuses  []model.StatusPayload

	// FailWrites forces every write to return ErrWriteFailed.
	FailWrites bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		raw:       make(map[string]map[int64]map[string]any),
		realtime:  make(map[string][]model.RealtimePoint),
		summaries: make(map[string][]model.Summary),
	}
}

func (m *MemStore) point(device string, ts int64) map[string]any {
	dev, ok := m.raw[device]
	if !ok {
		dev = make(map[int64]map[string]any)
		m.raw[device] = dev
	}
	fields, ok := dev[ts]
	if !ok {
		fields = make(map[string]any)
		dev[ts] = fields
	}
	return fields
}

func (m *MemStore) WriteRawBeats(_ context.Context, device string, beats []model.RawBeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	for _, b := range beats {
		fields := m.point(device, b.TS)
		if b.RR > 0 {
			fields["rr_interval"] = b.RR
		}
		fields["path"] = b.Path
		if b.HR > 0 {
			fields["heart_rate"] = b.HR
		}
		if b.Source != "" {
			fields["source"] = b.Source
		}
	}
	return nil
}

func (m *MemStore) WriteRealtime(_ context.Context, device string, p model.RealtimePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.realtime[device] = append(m.realtime[device], p)
	return nil
}

func (m *MemStore) WriteCanonical(_ context.Context, device string, updates []model.CanonicalUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	for _, u := range updates {
		fields := m.point(device, u.TS)
		fields["rr_clean"] = u.RRClean
		fields["hr_clean"] = u.HRClean
		fields["artifact_type"] = string(u.Artifact)
	}
	return nil
}

func (m *MemStore) WriteSummary(_ context.Context, device string, s model.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.summaries[device] = append(m.summaries[device], s)
	return nil
}

func (m *MemStore) WritePosture(_ context.Context, p model.PosturePayload, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.postures = append(m.postures, p)
	return nil
}

func (m *MemStore) WriteStatus(_ context.Context, s model.StatusPayload, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.statuses = append(m.statuses, s)
	return nil
}

func toStored(ts int64, fields map[string]any) model.StoredBeat {
	b := model.StoredBeat{TS: ts}
	if v, ok := fields["rr_interval"].(float64); ok {
		b.RR = v
	}
	if v, ok := fields["heart_rate"].(float64); ok {
		b.HR = v
	}
	if v, ok := fields["rr_clean"].(float64); ok {
		b.RRClean = v
	}
	if v, ok := fields["artifact_type"].(string); ok {
		b.Artifact = model.ArtifactType(v)
	}
	return b
}

// sortedBeats returns the device's beats oldest-first, filtered by keep.
func (m *MemStore) sortedBeats(device string, keep func(model.StoredBeat) bool) []model.StoredBeat {
	var beats []model.StoredBeat
	for ts, fields := range m.raw[device] {
		b := toStored(ts, fields)
		if keep(b) {
			beats = append(beats, b)
		}
	}
	sort.Slice(beats, func(i, j int) bool { return beats[i].TS < beats[j].TS })
	return beats
}

func (m *MemStore) QueryRawRange(_ context.Context, device string, startMs, endMs int64) ([]model.StoredBeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedBeats(device, func(b model.StoredBeat) bool {
		return b.TS >= startMs && b.TS <= endMs
	}), nil
}

func (m *MemStore) QueryContextBefore(_ context.Context, device string, beforeMs int64, limit int) ([]model.StoredBeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	beats := m.sortedBeats(device, func(b model.StoredBeat) bool {
		return b.TS < beforeMs && b.RR > 0
	})
	if len(beats) > limit {
		beats = beats[len(beats)-limit:]
	}
	return beats, nil
}

func (m *MemStore) QueryContextAfter(_ context.Context, device string, afterMs int64, limit int) ([]model.StoredBeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	beats := m.sortedBeats(device, func(b model.StoredBeat) bool {
		return b.TS > afterMs && b.RR > 0
	})
	if len(beats) > limit {
		beats = beats[:limit]
	}
	return beats, nil
}

func (m *MemStore) QueryCleanWindow(_ context.Context, device string, startMs, endMs int64) ([]model.StoredBeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedBeats(device, func(b model.StoredBeat) bool {
		return b.TS >= startMs && b.TS < endMs && b.RRClean > 0
	}), nil
}

func (m *MemStore) LastProcessed(_ context.Context, device string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last int64
	found := false
	for ts, fields := range m.raw[device] {
		if v, ok := fields["rr_clean"].(float64); ok && v > 0 && (!found || ts > last) {
			last = ts
			found = true
		}
	}
	return last, found, nil
}

// --- test inspection helpers ---

// RawCount returns the number of raw points stored for a device.
func (m *MemStore) RawCount(device string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.raw[device])
}

// RawBeat returns the stored beat at ts, if present.
func (m *MemStore) RawBeat(device string, ts int64) (model.StoredBeat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.raw[device][ts]
	if !ok {
		return model.StoredBeat{}, false
	}
	return toStored(ts, fields), true
}

// RealtimePoints returns the realtime HRV samples written for a device.
func (m *MemStore) RealtimePoints(device string) []model.RealtimePoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RealtimePoint(nil), m.realtime[device]...)
}

// Summaries returns the summaries written for a device.
func (m *MemStore) Summaries(device string) []model.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Summary(nil), m.summaries[device]...)
}

// Statuses returns the persisted status events.
func (m *MemStore) Statuses() []model.StatusPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.StatusPayload(nil), m.statuses...)
}

// Postures returns the persisted posture transitions.
func (m *MemStore) Postures() []model.PosturePayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PosturePayload(nil), m.postures...)
}
