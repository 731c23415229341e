package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/collector"
	"github.com/kloudmate/xray-exporter/internal/models"
	"github.com/kloudmate/xray-exporter/internal/storage"
	"github.com/kloudmate/xray-exporter/internal/xray"
)

type stubBackend struct{}

func (stubBackend) TraceIDs(ctx context.Context, start, end time.Time) ([]string, error) {
	return nil, nil
}

func (stubBackend) BatchTraces(ctx context.Context, ids []string) ([]models.Trace, error) {
	return nil, nil
}

func testServer(t *testing.T) (*Server, *collector.Collector) {
	t.Helper()

	logger := zap.NewNop()
	store, err := storage.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	backend := stubBackend{}
	fetcher := xray.NewFetcher(backend, &xray.Config{BatchSize: 5, Concurrency: 1, RetryAttempts: 1}, logger)
	telemetry := collector.NewTelemetry()
	coll := collector.New(&collector.Config{
		TimeWindow:          time.Minute,
		CollectInterval:     time.Minute,
		CacheTTL:            time.Minute,
		Overlap:             5 * time.Second,
		MaxWindowMultiplier: 5,
		DedupMaxSize:        1000,
		DedupRetention:      24 * time.Hour,
	}, backend, fetcher, store, telemetry, logger)

	return New(&Config{Address: ":0"}, coll, telemetry.Handler(), logger), coll
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "xray_exporter_heartbeat") {
		t.Fatalf("heartbeat missing from exposition:\n%s", body)
	}
	if !strings.Contains(string(body), "# TIMESTAMP ") {
		t.Fatalf("timestamp comment missing:\n%s", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestDedupCleanupEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/dedup/cleanup", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/-/dedup/cleanup?age=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad age status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/-/dedup/cleanup?age=1h", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "removed 0 entries") {
		t.Fatalf("cleanup = %d %q", rec.Code, rec.Body.String())
	}
}

func TestIndexAndNotFound(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "X-Ray Prometheus Exporter") {
		t.Fatalf("index = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d, want 404", rec.Code)
	}
}

func TestInternalMetricsEndpoint(t *testing.T) {
	srv, coll := testServer(t)
	coll.GetMetrics(context.Background())

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "xray_exporter_collection_cycles_total") {
		t.Fatalf("self-telemetry missing:\n%s", rec.Body.String())
	}
}
