package storage

import (
	"sort"
	"time"
)

// DedupIndex is a bounded set of trace ids already folded into the counter
// table. All mutation happens on the collector goroutine under its cycle
// lock; the index itself is not synchronized.
type DedupIndex struct {
	maxSize int
	entries map[string]time.Time
}

func NewDedupIndex(maxSize int) *DedupIndex {
	return &DedupIndex{
		maxSize: maxSize,
		entries: make(map[string]time.Time),
	}
}

// Restore replaces the index contents with a persisted snapshot, applying
// the overflow eviction if the snapshot exceeds the bound.
func (d *DedupIndex) Restore(entries map[string]time.Time) {
	d.entries = make(map[string]time.Time, len(entries))
	for id, seen := range entries {
		d.entries[id] = seen
	}
	if len(d.entries) > d.maxSize {
		d.evict()
	}
}

func (d *DedupIndex) Contains(id string) bool {
	_, ok := d.entries[id]
	return ok
}

// InsertBatch records the given ids as seen now and returns only the ones
// that were not already present.
func (d *DedupIndex) InsertBatch(ids []string) []string {
	now := time.Now().UTC()
	var inserted []string
	for _, id := range ids {
		if _, ok := d.entries[id]; ok {
			continue
		}
		d.entries[id] = now
		inserted = append(inserted, id)
	}
	if len(d.entries) > d.maxSize {
		d.evict()
	}
	return inserted
}

// evict halves the index on overflow, dropping the oldest entries by
// first-seen time. Halving amortizes the sort instead of trickle-evicting
// one entry per insert.
func (d *DedupIndex) evict() {
	type entry struct {
		id   string
		seen time.Time
	}
	all := make([]entry, 0, len(d.entries))
	for id, seen := range d.entries {
		all = append(all, entry{id: id, seen: seen})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].seen.Equal(all[j].seen) {
			return all[i].id < all[j].id
		}
		return all[i].seen.Before(all[j].seen)
	})
	drop := len(all) - d.maxSize/2
	for _, e := range all[:drop] {
		delete(d.entries, e.id)
	}
}

// CleanupOlderThan removes entries first seen before now-age and returns how
// many were removed. Operator maintenance; independent of overflow eviction.
func (d *DedupIndex) CleanupOlderThan(age time.Duration) int {
	cutoff := time.Now().UTC().Add(-age)
	removed := 0
	for id, seen := range d.entries {
		if seen.Before(cutoff) {
			delete(d.entries, id)
			removed++
		}
	}
	return removed
}

func (d *DedupIndex) Len() int {
	return len(d.entries)
}

func (d *DedupIndex) Snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(d.entries))
	for id, seen := range d.entries {
		out[id] = seen
	}
	return out
}
