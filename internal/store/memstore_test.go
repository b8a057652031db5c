package store

import (
	"context"
	"testing"

	"github.com/mtakala/polarhub/internal/model"
)

func TestMemStoreMergesFieldsAtSameIdentity(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	if err := m.WriteRawBeats(ctx, "dev", []model.RawBeat{{TS: 1000, RR: 800, Path: model.PathRealtime}}); err != nil {
		t.Fatalf("WriteRawBeats: %v", err)
	}
	if err := m.WriteCanonical(ctx, "dev", []model.CanonicalUpdate{{TS: 1000, RRClean: 800, HRClean: 75, Artifact: model.ArtifactNone}}); err != nil {
		t.Fatalf("WriteCanonical: %v", err)
	}

	b, ok := m.RawBeat("dev", 1000)
	if !ok {
		t.Fatal("beat not found after merge")
	}
	if b.RR != 800 {
		t.Errorf("RR = %v, want 800 (raw field lost in merge)", b.RR)
	}
	if b.RRClean != 800 || b.Artifact != model.ArtifactNone {
		t.Errorf("canonical fields = (%v, %q), want (800, none)", b.RRClean, b.Artifact)
	}
	if m.RawCount("dev") != 1 {
		t.Errorf("RawCount = %d, want 1 (merge must not duplicate)", m.RawCount("dev"))
	}
}

func TestMemStoreRewriteIsIdempotent(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	beats := []model.RawBeat{{TS: 1000, RR: 800, Path: model.PathBatch}, {TS: 1800, RR: 810, Path: model.PathBatch}}

	for i := 0; i < 3; i++ {
		if err := m.WriteRawBeats(ctx, "dev", beats); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if m.RawCount("dev") != 2 {
		t.Errorf("RawCount = %d, want 2", m.RawCount("dev"))
	}
}

func TestMemStoreContextQueriesFilterSyntheticBeats(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	if err := m.WriteRawBeats(ctx, "dev", []model.RawBeat{
		{TS: 1000, RR: 800, Path: model.PathRealtime},
		{TS: 1800, RR: 800, Path: model.PathRealtime},
	}); err != nil {
		t.Fatalf("WriteRawBeats: %v", err)
	}
	// Synthetic inserted beat: no rr_interval, only canonical fields.
	if err := m.WriteCanonical(ctx, "dev", []model.CanonicalUpdate{
		{TS: 1400, RRClean: 400, HRClean: 150, Artifact: model.ArtifactMissedInserted, Synthetic: true},
	}); err != nil {
		t.Fatalf("WriteCanonical: %v", err)
	}

	before, err := m.QueryContextBefore(ctx, "dev", 2000, 91)
	if err != nil {
		t.Fatalf("QueryContextBefore: %v", err)
	}
	if len(before) != 2 {
		t.Fatalf("context rows = %d, want 2 (synthetic beat must be filtered)", len(before))
	}
	if before[0].TS != 1000 || before[1].TS != 1800 {
		t.Errorf("context order = [%d, %d], want oldest-first [1000, 1800]", before[0].TS, before[1].TS)
	}

	all, err := m.QueryRawRange(ctx, "dev", 0, 5000)
	if err != nil {
		t.Fatalf("QueryRawRange: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("raw range rows = %d, want 3 (synthetic beat included)", len(all))
	}
}

func TestMemStoreContextBeforeHonorsLimit(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	var beats []model.RawBeat
	for i := 0; i < 10; i++ {
		beats = append(beats, model.RawBeat{TS: int64(i * 1000), RR: 800, Path: model.PathRealtime})
	}
	if err := m.WriteRawBeats(ctx, "dev", beats); err != nil {
		t.Fatalf("WriteRawBeats: %v", err)
	}

	got, err := m.QueryContextBefore(ctx, "dev", 100000, 3)
	if err != nil {
		t.Fatalf("QueryContextBefore: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows = %d, want 3", len(got))
	}
	// The newest 3 below the bound, still oldest-first.
	if got[0].TS != 7000 || got[2].TS != 9000 {
		t.Errorf("rows = [%d..%d], want [7000..9000]", got[0].TS, got[2].TS)
	}
}

func TestMemStoreLastProcessed(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	if _, ok, err := m.LastProcessed(ctx, "dev"); err != nil || ok {
		t.Fatalf("LastProcessed on empty store = ok:%v err:%v, want ok:false", ok, err)
	}
	if err := m.WriteCanonical(ctx, "dev", []model.CanonicalUpdate{
		{TS: 1000, RRClean: 800, Artifact: model.ArtifactNone},
		{TS: 2000, RRClean: 810, Artifact: model.ArtifactNone},
		{TS: 3000, RRClean: 0, Artifact: model.ArtifactExtraAbsorbed},
	}); err != nil {
		t.Fatalf("WriteCanonical: %v", err)
	}
	ts, ok, err := m.LastProcessed(ctx, "dev")
	if err != nil || !ok {
		t.Fatalf("LastProcessed = ok:%v err:%v, want ok:true", ok, err)
	}
	// Sentinel-zero rr_clean must not count.
	if ts != 2000 {
		t.Errorf("LastProcessed = %d, want 2000", ts)
	}
}

func TestMemStoreFailWrites(t *testing.T) {
	m := NewMemStore()
	m.FailWrites = true
	if err := m.WriteRawBeats(context.Background(), "dev", []model.RawBeat{{TS: 1, RR: 800}}); err == nil {
		t.Error("WriteRawBeats with FailWrites = nil error, want failure")
	}
}
