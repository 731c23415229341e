package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/collector"
	"github.com/kloudmate/xray-exporter/pkg/exposition"
)

type Config struct {
	Address string
}

// Server is the thin HTTP boundary: scrape endpoint, liveness probe, index
// page, self-telemetry and the dedup maintenance trigger. All real work
// happens in the collector.
type Server struct {
	logger    *zap.Logger
	collector *collector.Collector
	srv       *http.Server
}

func New(cfg *Config, c *collector.Collector, telemetry http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		logger:    logger,
		collector: c,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/-/dedup/cleanup", s.handleDedupCleanup)
	mux.Handle("/internal/metrics", telemetry)
	mux.HandleFunc("/", s.handleIndex)

	s.srv = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("address", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	records := s.collector.GetMetrics(r.Context())
	body := exposition.Format(records, time.Now())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Debug("failed to write metrics response", zap.Error(err))
	}
	s.logger.Debug("served metrics", zap.Int("records", len(records)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

func (s *Server) handleDedupCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var age time.Duration
	if raw := r.URL.Query().Get("age"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid age: %v", err), http.StatusBadRequest)
			return
		}
		age = parsed
	}

	removed := s.collector.CleanupDedup(age)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "removed %d entries\n", removed)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
	<title>X-Ray Prometheus Exporter</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; line-height: 1.6; }
		h1 { color: #333; }
		.endpoint { font-family: monospace; background: #f4f4f4; padding: 2px 5px; }
		.metric-type { color: #555; font-size: 0.9em; }
	</style>
</head>
<body>
	<h1>X-Ray Prometheus Exporter</h1>
	<p>Collects AWS X-Ray trace data and exposes it as Prometheus metrics.</p>

	<h2>Endpoints</h2>
	<ul>
		<li><a href="/metrics" class="endpoint">/metrics</a> - metrics endpoint</li>
		<li><a href="/health" class="endpoint">/health</a> - liveness probe</li>
		<li><a href="/internal/metrics" class="endpoint">/internal/metrics</a> - exporter self-telemetry</li>
	</ul>

	<h2>Available Metrics</h2>
	<ul>
		<li><code>xray_service_requests_total</code> <span class="metric-type">(counter)</span> - requests by service</li>
		<li><code>xray_service_errors_total</code> <span class="metric-type">(counter)</span> - errors by service</li>
		<li><code>xray_service_faults_total</code> <span class="metric-type">(counter)</span> - faults by service</li>
		<li><code>xray_service_throttles_total</code> <span class="metric-type">(counter)</span> - throttles by service</li>
		<li><code>xray_service_status_total</code> <span class="metric-type">(counter)</span> - HTTP status codes by service</li>
		<li><code>xray_service_method_total</code> <span class="metric-type">(counter)</span> - HTTP methods by service</li>
		<li><code>xray_service_client_ip_total</code> <span class="metric-type">(counter)</span> - top client IPs by service</li>
		<li><code>xray_service_dependency_total</code> <span class="metric-type">(counter)</span> - calls between services</li>
		<li><code>xray_service_errors_count</code> <span class="metric-type">(gauge)</span> - errors this cycle by service</li>
		<li><code>xray_service_faults_count</code> <span class="metric-type">(gauge)</span> - faults this cycle by service</li>
		<li><code>xray_service_throttles_count</code> <span class="metric-type">(gauge)</span> - throttles this cycle by service</li>
		<li><code>xray_service_latency_ms</code> <span class="metric-type">(gauge)</span> - raw latency observations by service</li>
		<li><code>xray_service_latency_p50_ms</code>, <code>_p90_ms</code>, <code>_p99_ms</code> <span class="metric-type">(gauge)</span> - latency percentiles by service</li>
		<li><code>xray_service_latency_sum_ms</code>, <code>xray_service_latency_count</code> <span class="metric-type">(gauge)</span> - latency sum and count by service</li>
		<li><code>xray_service_request_size_bytes</code>, <code>xray_service_response_size_bytes</code> <span class="metric-type">(gauge)</span> - payload sizes by service</li>
		<li><code>xray_url_requests_total</code>, <code>xray_url_errors_total</code> <span class="metric-type">(counter)</span> - requests and errors by URL</li>
		<li><code>xray_url_status_total</code>, <code>xray_url_method_total</code> <span class="metric-type">(counter)</span> - status codes and methods by URL</li>
		<li><code>xray_url_service_total</code>, <code>xray_url_service_requests_total</code> <span class="metric-type">(counter)</span> - requests by URL and service</li>
		<li><code>xray_url_service_errors_total</code>, <code>xray_url_service_status_total</code>, <code>xray_url_service_method_total</code> <span class="metric-type">(counter)</span> - errors, status codes and methods by URL and service</li>
		<li><code>xray_url_latency_ms</code>, <code>xray_url_latency_sum_ms</code>, <code>xray_url_latency_count</code> <span class="metric-type">(gauge)</span> - latency by URL</li>
		<li><code>xray_url_service_latency_sum_ms</code>, <code>xray_url_service_latency_count</code> <span class="metric-type">(gauge)</span> - latency by URL and service</li>
		<li><code>xray_exporter_heartbeat</code> <span class="metric-type">(counter)</span> - exporter liveness heartbeat</li>
	</ul>

	<h2>Prometheus Configuration Example</h2>
	<pre><code>scrape_configs:
  - job_name: 'xray_metrics'
    scrape_interval: 30s
    metrics_path: /metrics
    static_configs:
      - targets: ['localhost:9092']</code></pre>
</body>
</html>
`
