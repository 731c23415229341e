package metrics

import (
	"sort"

	"github.com/kloudmate/xray-exporter/internal/models"
)

// CounterTable holds the durable cumulative counters, keyed by the series
// hash of (metric name, sorted label set). Values never decrease over the
// table's lifetime. Mutated only by the collector under its cycle lock.
type CounterTable struct {
	entries map[uint64]*counterEntry
}

type counterEntry struct {
	key   models.Key
	value float64
}

func NewCounterTable() *CounterTable {
	return &CounterTable{
		entries: make(map[uint64]*counterEntry),
	}
}

// Add folds a non-negative delta into the series and returns the new running
// total. Negative deltas are ignored.
func (t *CounterTable) Add(key models.Key, delta float64) float64 {
	hash := key.Hash()
	e, ok := t.entries[hash]
	if !ok {
		e = &counterEntry{key: key}
		t.entries[hash] = e
	}
	if delta > 0 {
		e.value += delta
	}
	return e.value
}

// Inc increments an unlabeled counter by one.
func (t *CounterTable) Inc(name string) float64 {
	return t.Add(models.NewKey(name), 1)
}

func (t *CounterTable) Value(key models.Key) (float64, bool) {
	e, ok := t.entries[key.Hash()]
	if !ok {
		return 0, false
	}
	return e.value, true
}

func (t *CounterTable) Len() int {
	return len(t.entries)
}

// Entries returns every series in deterministic order (by canonical key).
func (t *CounterTable) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, Entry{Key: e.key, Value: e.value})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

type Entry struct {
	Key   models.Key
	Value float64
}

// LabelValues returns the distinct values of one label across all series of
// a metric. Used to recover the set of known services and URLs from the
// persisted table.
func (t *CounterTable) LabelValues(metricName, labelName string) []string {
	seen := make(map[string]struct{})
	for _, e := range t.entries {
		if e.key.Name != metricName {
			continue
		}
		for _, l := range e.key.Labels {
			if l.Name == labelName {
				seen[l.Value] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (t *CounterTable) Snapshot() []models.CounterSnapshot {
	entries := t.Entries()
	out := make([]models.CounterSnapshot, 0, len(entries))
	for _, e := range entries {
		var labels map[string]string
		if len(e.Key.Labels) > 0 {
			labels = make(map[string]string, len(e.Key.Labels))
			for _, l := range e.Key.Labels {
				labels[l.Name] = l.Value
			}
		}
		out = append(out, models.CounterSnapshot{
			Name:   e.Key.Name,
			Labels: labels,
			Value:  e.Value,
		})
	}
	return out
}

func (t *CounterTable) Restore(snapshots []models.CounterSnapshot) {
	t.entries = make(map[uint64]*counterEntry, len(snapshots))
	for _, s := range snapshots {
		key := s.Key()
		t.entries[key.Hash()] = &counterEntry{key: key, value: s.Value}
	}
}
