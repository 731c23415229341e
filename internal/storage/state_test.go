package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestWatermarkRoundTrip(t *testing.T) {
	store := newTestStore(t)

	want := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if err := store.SaveWatermark(want); err != nil {
		t.Fatalf("SaveWatermark failed: %v", err)
	}

	got := store.LoadWatermark(time.Minute)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWatermarkFallback(t *testing.T) {
	store := newTestStore(t)

	before := time.Now().UTC().Add(-time.Minute)
	got := store.LoadWatermark(time.Minute)
	after := time.Now().UTC().Add(-time.Minute)

	if got.Before(before.Add(-time.Second)) || got.After(after.Add(time.Second)) {
		t.Fatalf("fallback watermark %v not near now-1m", got)
	}
}

func TestWatermarkCorruptFallsBack(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "watermark"), []byte("not a timestamp"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := store.LoadWatermark(time.Minute)
	if time.Since(got) > 2*time.Minute {
		t.Fatalf("corrupt watermark did not fall back to now-window: %v", got)
	}
}

func TestDedupRoundTripAndCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	seen := time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)
	if err := store.SaveDedup(map[string]time.Time{"trace-1": seen}); err != nil {
		t.Fatalf("SaveDedup failed: %v", err)
	}

	loaded := store.LoadDedup()
	if len(loaded) != 1 || !loaded["trace-1"].Equal(seen) {
		t.Fatalf("dedup did not round-trip: %v", loaded)
	}

	if err := os.WriteFile(filepath.Join(dir, "dedup_index.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := store.LoadDedup(); len(got) != 0 {
		t.Fatalf("corrupt index loaded %d entries, want empty", len(got))
	}
}

func TestCountersRoundTripAndCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	snapshots := []models.CounterSnapshot{
		{Name: "xray_exporter_heartbeat", Value: 12},
		{Name: "xray_service_requests_total", Labels: map[string]string{"service": "api"}, Value: 42},
	}
	if err := store.SaveCounters(snapshots); err != nil {
		t.Fatalf("SaveCounters failed: %v", err)
	}

	loaded := store.LoadCounters()
	if len(loaded) != 2 {
		t.Fatalf("loaded %d snapshots, want 2", len(loaded))
	}
	if loaded[1].Labels["service"] != "api" || loaded[1].Value != 42 {
		t.Fatalf("counter did not round-trip: %+v", loaded[1])
	}

	if err := os.WriteFile(filepath.Join(dir, "counters.json"), []byte("[{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := store.LoadCounters(); got != nil {
		t.Fatalf("corrupt counters loaded %v, want nil", got)
	}
}

func TestFilesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	want := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if err := store.SaveWatermark(want); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "counters.json"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Corrupt counters must not affect the watermark.
	if got := store.LoadWatermark(time.Minute); !got.Equal(want) {
		t.Fatalf("watermark affected by counter corruption: %v", got)
	}
	if got := store.LoadCounters(); got != nil {
		t.Fatalf("corrupt counters returned %v", got)
	}
}
