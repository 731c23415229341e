package models

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type Kind int8

const (
	KindCounter Kind = iota
	KindGauge
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	}
	return "unknown"
}

type Label struct {
	Name  string
	Value string
}

// MetricRecord is one emitted metric point. Labels are sorted by name and
// unique per name.
type MetricRecord struct {
	Name   string
	Labels []Label
	Value  float64
	Kind   Kind
}

// Key identifies one counter series: metric name plus its sorted label set.
type Key struct {
	Name   string
	Labels []Label
}

func NewKey(name string, labels ...Label) Key {
	sorted := make([]Label, len(labels))
	copy(sorted, labels)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return Key{Name: name, Labels: sorted}
}

func (k Key) Hash() uint64 {
	h := xxhash.New()
	h.WriteString(k.Name)
	for _, l := range k.Labels {
		h.WriteString("\xff")
		h.WriteString(l.Name)
		h.WriteString("\xfe")
		h.WriteString(l.Value)
	}
	return h.Sum64()
}

func (k Key) String() string {
	if len(k.Labels) == 0 {
		return k.Name
	}
	var b strings.Builder
	b.WriteString(k.Name)
	b.WriteByte('{')
	for i, l := range k.Labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteString(`="`)
		b.WriteString(l.Value)
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// CounterSnapshot is the persisted form of one counter series.
type CounterSnapshot struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

func (s CounterSnapshot) Key() Key {
	labels := make([]Label, 0, len(s.Labels))
	for name, value := range s.Labels {
		labels = append(labels, Label{Name: name, Value: value})
	}
	return NewKey(s.Name, labels...)
}
