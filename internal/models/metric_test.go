package models

import (
	"testing"
)

func TestNewKeySortsLabels(t *testing.T) {
	key := NewKey("xray_url_service_total",
		Label{Name: "url", Value: "http://example.com/"},
		Label{Name: "service", Value: "api"},
	)

	if key.Labels[0].Name != "service" || key.Labels[1].Name != "url" {
		t.Fatalf("labels not sorted: %v", key.Labels)
	}
}

func TestKeyHashLabelOrderIndependent(t *testing.T) {
	a := NewKey("xray_service_status_total",
		Label{Name: "service", Value: "api"},
		Label{Name: "status_code", Value: "200"},
	)
	b := NewKey("xray_service_status_total",
		Label{Name: "status_code", Value: "200"},
		Label{Name: "service", Value: "api"},
	)

	if a.Hash() != b.Hash() {
		t.Fatalf("hash differs for identical label sets: %d != %d", a.Hash(), b.Hash())
	}
}

func TestKeyHashDistinguishesSeries(t *testing.T) {
	tests := []struct {
		name string
		a, b Key
	}{
		{
			name: "different metric name",
			a:    NewKey("xray_service_requests_total", Label{Name: "service", Value: "api"}),
			b:    NewKey("xray_service_errors_total", Label{Name: "service", Value: "api"}),
		},
		{
			name: "different label value",
			a:    NewKey("xray_service_requests_total", Label{Name: "service", Value: "api"}),
			b:    NewKey("xray_service_requests_total", Label{Name: "service", Value: "web"}),
		},
		{
			name: "label name and value shifted",
			a:    NewKey("m", Label{Name: "ab", Value: "c"}),
			b:    NewKey("m", Label{Name: "a", Value: "bc"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.a.Hash() == tt.b.Hash() {
				t.Fatalf("distinct series collide: %s vs %s", tt.a, tt.b)
			}
		})
	}
}

func TestKeyString(t *testing.T) {
	key := NewKey("xray_service_requests_total", Label{Name: "service", Value: "api"})
	want := `xray_service_requests_total{service="api"}`
	if got := key.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	bare := NewKey("xray_exporter_heartbeat")
	if got := bare.String(); got != "xray_exporter_heartbeat" {
		t.Fatalf("got %q, want bare name", got)
	}
}

func TestCounterSnapshotKeyRoundTrip(t *testing.T) {
	key := NewKey("xray_url_service_total",
		Label{Name: "service", Value: "api"},
		Label{Name: "url", Value: "http://example.com/"},
	)

	snap := CounterSnapshot{
		Name:   key.Name,
		Labels: map[string]string{"url": "http://example.com/", "service": "api"},
		Value:  7,
	}

	if snap.Key().Hash() != key.Hash() {
		t.Fatalf("snapshot key does not round-trip: %s vs %s", snap.Key(), key)
	}
}
