package postprocess

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mtakala/polarhub/internal/device"
	"github.com/mtakala/polarhub/internal/model"
	"github.com/mtakala/polarhub/internal/store"
)

const summaryMs = 300_000

func newTestProcessor(st store.Store, nowMs int64) (*Processor, *device.Registry) {
	reg := device.NewRegistry()
	p := New(st, reg, summaryMs, zerolog.Nop())
	p.now = func() time.Time { return time.UnixMilli(nowMs) }
	return p, reg
}

// seedBeats writes a head-to-tail RR series starting at base and returns the
// per-beat timestamps.
func seedBeats(t *testing.T, st *store.MemStore, deviceID string, base int64, rr []float64) []int64 {
	t.Helper()
	beats := make([]model.RawBeat, 0, len(rr))
	ts := make([]int64, 0, len(rr))
	offset := int64(0)
	for _, v := range rr {
		beats = append(beats, model.RawBeat{TS: base + offset, RR: v, Path: model.PathRealtime})
		ts = append(ts, base+offset)
		offset += int64(v)
	}
	if err := st.WriteRawBeats(context.Background(), deviceID, beats); err != nil {
		t.Fatalf("seeding beats: %v", err)
	}
	return ts
}

func TestProcessDeviceSkipsInsideBuffer(t *testing.T) {
	st := store.NewMemStore()
	now := int64(10_000_000)
	p, reg := newTestProcessor(st, now)
	dev, _ := reg.GetOrCreate("dev")
	dev.LastProcessedMs = now - bufferMs + 1

	if err := p.ProcessDevice(context.Background(), dev); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	if dev.LastProcessedMs != now-bufferMs+1 {
		t.Errorf("mark moved to %d, want unchanged", dev.LastProcessedMs)
	}
}

func TestProcessDeviceTooFewBeatsAdvances(t *testing.T) {
	st := store.NewMemStore()
	now := int64(10_000_000)
	p, reg := newTestProcessor(st, now)
	dev, _ := reg.GetOrCreate("dev")
	dev.LastProcessedMs = 0

	ts := seedBeats(t, st, "dev", 1_000_000, []float64{800, 810})
	if err := p.ProcessDevice(context.Background(), dev); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	if dev.LastProcessedMs != now-bufferMs {
		t.Errorf("mark = %d, want cutoff %d", dev.LastProcessedMs, now-bufferMs)
	}
	b, _ := st.RawBeat("dev", ts[0])
	if b.Artifact != "" {
		t.Errorf("beat classified despite degenerate input: %q", b.Artifact)
	}
}

func TestProcessDeviceMissedBeatInsertsSynthetic(t *testing.T) {
	st := store.NewMemStore()
	now := int64(10_000_000)
	p, reg := newTestProcessor(st, now)
	dev, _ := reg.GetOrCreate("dev")
	dev.LastProcessedMs = 0

	ts := seedBeats(t, st, "dev", 1_000_000, []float64{605, 612, 1210, 598, 610})
	if err := p.ProcessDevice(context.Background(), dev); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}

	missed, ok := st.RawBeat("dev", ts[2])
	if !ok {
		t.Fatal("missed beat vanished")
	}
	if missed.Artifact != model.ArtifactMissed {
		t.Fatalf("artifact = %q, want missed", missed.Artifact)
	}
	if missed.RRClean != 605 {
		t.Errorf("rr_clean = %v, want 605", missed.RRClean)
	}

	synthetic, ok := st.RawBeat("dev", ts[2]+605)
	if !ok {
		t.Fatal("synthetic inserted beat missing")
	}
	if synthetic.Artifact != model.ArtifactMissedInserted {
		t.Errorf("synthetic artifact = %q, want missed_inserted", synthetic.Artifact)
	}
	if synthetic.RR != 0 {
		t.Errorf("synthetic rr_interval = %v, want absent", synthetic.RR)
	}
	if synthetic.RRClean != 605 {
		t.Errorf("synthetic rr_clean = %v, want 605", synthetic.RRClean)
	}

	// Every real beat below the cutoff now carries a verdict.
	for _, tsi := range ts {
		b, _ := st.RawBeat("dev", tsi)
		if b.Artifact == "" {
			t.Errorf("beat at %d left unclassified", tsi)
		}
	}
	if dev.LastProcessedMs != now-bufferMs {
		t.Errorf("mark = %d, want cutoff %d", dev.LastProcessedMs, now-bufferMs)
	}
}

func TestProcessDeviceAbsorbedBeatGetsSentinelZero(t *testing.T) {
	st := store.NewMemStore()
	now := int64(10_000_000)
	p, reg := newTestProcessor(st, now)
	dev, _ := reg.GetOrCreate("dev")
	dev.LastProcessedMs = 0

	ts := seedBeats(t, st, "dev", 1_000_000, []float64{600, 300, 300, 600, 600})
	if err := p.ProcessDevice(context.Background(), dev); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}

	extra, _ := st.RawBeat("dev", ts[1])
	if extra.Artifact != model.ArtifactExtra || extra.RRClean != 600 {
		t.Errorf("extra beat = (%q, %v), want (extra, 600)", extra.Artifact, extra.RRClean)
	}
	absorbed, _ := st.RawBeat("dev", ts[2])
	if absorbed.Artifact != model.ArtifactExtraAbsorbed {
		t.Errorf("absorbed artifact = %q, want extra_absorbed", absorbed.Artifact)
	}
	if absorbed.RRClean != 0 {
		t.Errorf("absorbed rr_clean = %v, want sentinel 0", absorbed.RRClean)
	}
}

func TestProcessDeviceSecondPassIsStable(t *testing.T) {
	st := store.NewMemStore()
	now := int64(10_000_000)
	p, reg := newTestProcessor(st, now)
	dev, _ := reg.GetOrCreate("dev")
	dev.LastProcessedMs = 0

	ts := seedBeats(t, st, "dev", 1_000_000, []float64{605, 612, 1210, 598, 610})
	ctx := context.Background()
	if err := p.ProcessDevice(ctx, dev); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	count := st.RawCount("dev")

	// Rewind as a batch upload would and re-run: assignments must not change.
	dev.Lock()
	p.TriggerReprocess(dev, ts[0])
	dev.Unlock()
	if err := p.ProcessDevice(ctx, dev); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if st.RawCount("dev") != count {
		t.Errorf("beat count changed on reprocess: %d → %d", count, st.RawCount("dev"))
	}
	missed, _ := st.RawBeat("dev", ts[2])
	if missed.Artifact != model.ArtifactMissed || missed.RRClean != 605 {
		t.Errorf("reprocess changed verdict: (%q, %v)", missed.Artifact, missed.RRClean)
	}
}

func TestTriggerReprocessOnlyRewinds(t *testing.T) {
	st := store.NewMemStore()
	p, reg := newTestProcessor(st, 10_000_000)
	dev, _ := reg.GetOrCreate("dev")

	dev.Lock()
	dev.LastProcessedMs = 5000
	p.TriggerReprocess(dev, 3000)
	if dev.LastProcessedMs != 3000 {
		t.Errorf("mark = %d, want rewound to 3000", dev.LastProcessedMs)
	}
	p.TriggerReprocess(dev, 4000)
	if dev.LastProcessedMs != 3000 {
		t.Errorf("mark = %d, a later trigger must not move it forward", dev.LastProcessedMs)
	}
	dev.Unlock()
}

func TestTriggerReprocessAssignsUnsetMark(t *testing.T) {
	st := store.NewMemStore()
	p, reg := newTestProcessor(st, 10_000_000)
	dev, _ := reg.GetOrCreate("dev")

	dev.Lock()
	p.TriggerReprocess(dev, 6000)
	if dev.LastProcessedMs != 6000 {
		t.Errorf("mark = %d, want 6000 assigned on a fresh device", dev.LastProcessedMs)
	}
	dev.Unlock()
}

func TestRegisterKeepsEarlierRewind(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	if err := st.WriteCanonical(ctx, "dev", []model.CanonicalUpdate{
		{TS: 7000, RRClean: 800, Artifact: model.ArtifactNone},
	}); err != nil {
		t.Fatalf("seed canonical: %v", err)
	}

	p, reg := newTestProcessor(st, 10_000_000)
	dev, _ := reg.GetOrCreate("dev")

	// A batch upload can rewind the mark while Register's store load is
	// still in flight; the earlier of the two values must survive.
	dev.Lock()
	p.TriggerReprocess(dev, 4000)
	dev.Unlock()

	p.Register(ctx, dev)
	if dev.LastProcessedMs != 4000 {
		t.Errorf("mark = %d, want the earlier rewind 4000 kept", dev.LastProcessedMs)
	}

	// With no competing rewind the loaded value stands.
	other, _ := reg.GetOrCreate("other")
	p.Register(ctx, other)
	if other.LastProcessedMs != 10_000_000 {
		t.Errorf("mark = %d, want now for a device without history", other.LastProcessedMs)
	}
}

func TestRegisterLoadsMarkFromStore(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()
	if err := st.WriteCanonical(ctx, "dev", []model.CanonicalUpdate{
		{TS: 7000, RRClean: 800, Artifact: model.ArtifactNone},
	}); err != nil {
		t.Fatalf("seed canonical: %v", err)
	}

	now := int64(10_000_000)
	p, reg := newTestProcessor(st, now)

	dev, _ := reg.GetOrCreate("dev")
	p.Register(ctx, dev)
	if dev.LastProcessedMs != 7000 {
		t.Errorf("mark = %d, want 7000 from store", dev.LastProcessedMs)
	}

	fresh, _ := reg.GetOrCreate("fresh")
	p.Register(ctx, fresh)
	if fresh.LastProcessedMs != now {
		t.Errorf("fresh device mark = %d, want now %d", fresh.LastProcessedMs, now)
	}
}

func TestProcessDeviceAdvancesDespiteWriteFailure(t *testing.T) {
	st := store.NewMemStore()
	now := int64(10_000_000)
	p, reg := newTestProcessor(st, now)
	dev, _ := reg.GetOrCreate("dev")
	dev.LastProcessedMs = 0

	seedBeats(t, st, "dev", 1_000_000, []float64{800, 805, 795, 810, 790})
	st.FailWrites = true

	if err := p.ProcessDevice(context.Background(), dev); err != nil {
		t.Fatalf("ProcessDevice surfaced a best-effort failure: %v", err)
	}
	if dev.LastProcessedMs != now-bufferMs {
		t.Errorf("mark = %d, want cutoff despite write failure", dev.LastProcessedMs)
	}
}
