package storage

import (
	"fmt"
	"testing"
	"time"
)

func TestInsertBatchIdempotent(t *testing.T) {
	index := NewDedupIndex(100)

	first := index.InsertBatch([]string{"a", "b", "c"})
	if len(first) != 3 {
		t.Fatalf("first insert returned %d new ids, want 3", len(first))
	}

	second := index.InsertBatch([]string{"a", "b", "c", "d"})
	if len(second) != 1 || second[0] != "d" {
		t.Fatalf("second insert returned %v, want [d]", second)
	}

	if !index.Contains("a") || index.Contains("zzz") {
		t.Fatal("membership test wrong")
	}
}

func TestBoundedGrowth(t *testing.T) {
	index := NewDedupIndex(10)

	for i := 0; i < 50; i++ {
		index.InsertBatch([]string{fmt.Sprintf("trace-%03d", i)})
		if index.Len() > 10 {
			t.Fatalf("index grew to %d after insert %d, bound is 10", index.Len(), i)
		}
	}
}

func TestEvictKeepsMostRecent(t *testing.T) {
	index := NewDedupIndex(10)

	entries := make(map[string]time.Time, 11)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 11; i++ {
		entries[fmt.Sprintf("trace-%02d", i)] = base.Add(time.Duration(i) * time.Second)
	}

	// 11 entries over a bound of 10 triggers the halving: only the 5
	// most-recently-seen survive.
	index.Restore(entries)

	if index.Len() != 5 {
		t.Fatalf("len = %d after overflow, want 5", index.Len())
	}
	for i := 6; i < 11; i++ {
		id := fmt.Sprintf("trace-%02d", i)
		if !index.Contains(id) {
			t.Errorf("recent entry %s evicted", id)
		}
	}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("trace-%02d", i)
		if index.Contains(id) {
			t.Errorf("old entry %s survived eviction", id)
		}
	}
}

func TestCleanupOlderThan(t *testing.T) {
	index := NewDedupIndex(100)

	now := time.Now().UTC()
	index.Restore(map[string]time.Time{
		"old-1": now.Add(-48 * time.Hour),
		"old-2": now.Add(-25 * time.Hour),
		"new-1": now.Add(-time.Hour),
	})

	removed := index.CleanupOlderThan(24 * time.Hour)
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if index.Contains("old-1") || index.Contains("old-2") || !index.Contains("new-1") {
		t.Fatal("wrong entries removed")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	index := NewDedupIndex(100)
	index.InsertBatch([]string{"a", "b"})

	restored := NewDedupIndex(100)
	restored.Restore(index.Snapshot())

	if restored.Len() != 2 || !restored.Contains("a") || !restored.Contains("b") {
		t.Fatal("snapshot did not round-trip")
	}
}
