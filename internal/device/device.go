// Package device holds the in-memory per-device state: the real-time RR
// window, the dashboard RMSSD buffer, and the post-processor high-water mark.
// One State exists per device for the process lifetime; it is dropped only on
// a ble.disconnected status event.
package device

import (
	"sort"
	"sync"

	"github.com/mtakala/polarhub/internal/model"
)

const (
	// RRWindowSize is the real-time classification window.
	RRWindowSize = 60
	// RMSSDBufferSize bounds the dashboard RMSSD series.
	RMSSDBufferSize = 30
)

// State is the mutable per-device record. All access goes through Lock /
// Unlock: for any one device, real-time ingest, batch ingest, and a
// post-processor pass never overlap.
type State struct {
	mu sync.Mutex

	ID string

	// Guarded by mu.
	rrWindow    []float64
	rmssdBuffer []float64
	TotalBeats  int64
	LastBeatTS  int64
	LastPosture string

	// High-water mark: every beat with ts < LastProcessedMs has been
	// classified. Moved backwards only by a batch reprocess trigger.
	LastProcessedMs int64
}

// Lock acquires the per-device mutex.
func (s *State) Lock() { s.mu.Lock() }

// Unlock releases the per-device mutex.
func (s *State) Unlock() { s.mu.Unlock() }

// PushRR appends one RR value, evicting the oldest beyond RRWindowSize.
// Caller must hold the lock.
func (s *State) PushRR(rr float64) {
	s.rrWindow = append(s.rrWindow, rr)
	if len(s.rrWindow) > RRWindowSize {
		s.rrWindow = s.rrWindow[len(s.rrWindow)-RRWindowSize:]
	}
}

// RRWindow returns a copy of the current window. Caller must hold the lock.
func (s *State) RRWindow() []float64 {
	return append([]float64(nil), s.rrWindow...)
}

// PushRMSSD appends one RMSSD reading, evicting the oldest beyond
// RMSSDBufferSize. Caller must hold the lock.
func (s *State) PushRMSSD(v float64) {
	s.rmssdBuffer = append(s.rmssdBuffer, v)
	if len(s.rmssdBuffer) > RMSSDBufferSize {
		s.rmssdBuffer = s.rmssdBuffer[len(s.rmssdBuffer)-RMSSDBufferSize:]
	}
}

// snapshotLocked builds the SSE view of this device. Caller must hold the lock.
func (s *State) snapshotLocked() model.DeviceSnapshot {
	snap := model.DeviceSnapshot{
		Device:      s.ID,
		TotalBeats:  s.TotalBeats,
		LastBeatTS:  s.LastBeatTS,
		LastPosture: s.LastPosture,
		RMSSDSeries: append([]float64(nil), s.rmssdBuffer...),
	}
	if n := len(s.rmssdBuffer); n > 0 {
		snap.LastRMSSD = s.rmssdBuffer[n-1]
	}
	return snap
}

// Snapshot builds the SSE view of this device, taking the lock.
func (s *State) Snapshot() model.DeviceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Registry is the process-wide device map. Entries are created lazily on
// first beat and removed on ble.disconnected.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*State
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*State)}
}

// GetOrCreate returns the state for a device, creating it on first use.
// created reports whether this call created the entry.
func (r *Registry) GetOrCreate(id string) (s *State, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.devices[id]
	if !ok {
		s = &State{ID: id}
		r.devices[id] = s
	}
	return s, !ok
}

// Get returns the state for a device if present.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.devices[id]
	return s, ok
}

// Reset drops the in-memory state for a device. The next beat re-creates it
// and reloads the high-water mark from the store.
func (r *Registry) Reset(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// All returns the current device states in stable (ID) order.
func (r *Registry) All() []*State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*State, 0, len(r.devices))
	for _, s := range r.devices {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot builds the per-device views for an SSE broadcast.
func (r *Registry) Snapshot() []model.DeviceSnapshot {
	states := r.All()
	out := make([]model.DeviceSnapshot, 0, len(states))
	for _, s := range states {
		out = append(out, s.Snapshot())
	}
	return out
}
