package aggregator

import (
	"sort"
	"strings"

	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/metrics"
	"github.com/kloudmate/xray-exporter/internal/models"
)

const (
	MetricServiceRequests  = "xray_service_requests_total"
	MetricServiceErrors    = "xray_service_errors_total"
	MetricServiceFaults    = "xray_service_faults_total"
	MetricServiceThrottles = "xray_service_throttles_total"
	MetricServiceStatus    = "xray_service_status_total"
	MetricServiceMethod    = "xray_service_method_total"
	MetricServiceClientIP  = "xray_service_client_ip_total"
	MetricDependency       = "xray_service_dependency_total"

	MetricURLRequests      = "xray_url_requests_total"
	MetricURLErrors        = "xray_url_errors_total"
	MetricURLStatus        = "xray_url_status_total"
	MetricURLMethod        = "xray_url_method_total"
	MetricURLService       = "xray_url_service_total"
	MetricURLServiceReqs   = "xray_url_service_requests_total"
	MetricURLServiceErrors = "xray_url_service_errors_total"
	MetricURLServiceStatus = "xray_url_service_status_total"
	MetricURLServiceMethod = "xray_url_service_method_total"

	MetricHeartbeat = "xray_exporter_heartbeat"
)

const (
	labelService    = "service"
	labelURL        = "url"
	labelStatusCode = "status_code"
	labelMethod     = "method"
	labelClientIP   = "client_ip"
	labelSource     = "source"
	labelTarget     = "target"
)

// topClientIPs bounds the client_ip label cardinality per service per cycle.
const topClientIPs = 10

// Materializer merges per-cycle aggregates into the counter table and turns
// table plus cycle state into the flat metric record list.
type Materializer struct {
	logger *zap.Logger
}

func NewMaterializer(logger *zap.Logger) *Materializer {
	return &Materializer{logger: logger}
}

// Merge adds this cycle's counter deltas into the table, keyed by the exact
// (metric name, label set) tuple. This is what makes counters cumulative and
// restart-safe.
func (m *Materializer) Merge(table *metrics.CounterTable, services map[string]*ServiceStats, urls map[string]*URLStats) {
	for service, stats := range services {
		svcLabel := m.label(labelService, service)

		table.Add(models.NewKey(MetricServiceRequests, svcLabel), float64(stats.Requests))
		table.Add(models.NewKey(MetricServiceErrors, svcLabel), float64(stats.Errors))
		table.Add(models.NewKey(MetricServiceFaults, svcLabel), float64(stats.Faults))
		table.Add(models.NewKey(MetricServiceThrottles, svcLabel), float64(stats.Throttles))

		for status, count := range stats.StatusCodes {
			table.Add(models.NewKey(MetricServiceStatus, svcLabel, m.label(labelStatusCode, status)), float64(count))
		}
		for method, count := range stats.Methods {
			table.Add(models.NewKey(MetricServiceMethod, svcLabel, m.label(labelMethod, method)), float64(count))
		}
		for _, ip := range topKeys(stats.ClientIPs, topClientIPs) {
			table.Add(models.NewKey(MetricServiceClientIP, svcLabel, m.label(labelClientIP, ip)), float64(stats.ClientIPs[ip]))
		}
		for target, count := range stats.Downstream {
			table.Add(models.NewKey(MetricDependency,
				m.label(labelSource, service),
				m.label(labelTarget, target)), float64(count))
		}
	}

	for url, stats := range urls {
		urlLabel := m.label(labelURL, url)

		table.Add(models.NewKey(MetricURLRequests, urlLabel), float64(stats.Requests))
		table.Add(models.NewKey(MetricURLErrors, urlLabel), float64(stats.Errors))

		for status, count := range stats.StatusCodes {
			table.Add(models.NewKey(MetricURLStatus, urlLabel, m.label(labelStatusCode, status)), float64(count))
		}
		for method, count := range stats.Methods {
			table.Add(models.NewKey(MetricURLMethod, urlLabel, m.label(labelMethod, method)), float64(count))
		}

		for service, sub := range stats.Services {
			svcLabel := m.label(labelService, service)

			table.Add(models.NewKey(MetricURLService, urlLabel, svcLabel), float64(sub.Requests))
			table.Add(models.NewKey(MetricURLServiceReqs, urlLabel, svcLabel), float64(sub.Requests))
			table.Add(models.NewKey(MetricURLServiceErrors, urlLabel, svcLabel), float64(sub.Errors))

			for status, count := range sub.StatusCodes {
				table.Add(models.NewKey(MetricURLServiceStatus, urlLabel, svcLabel, m.label(labelStatusCode, status)), float64(count))
			}
			for method, count := range sub.Methods {
				table.Add(models.NewKey(MetricURLServiceMethod, urlLabel, svcLabel, m.label(labelMethod, method)), float64(count))
			}
		}
	}
}

// Materialize renders the full metric record list: every counter series in
// the table (so counters keep being scraped even when a cycle collects
// nothing) followed by this cycle's gauges. Count gauges are zero-filled for
// services known from prior cycles but absent from this one.
func (m *Materializer) Materialize(table *metrics.CounterTable, services map[string]*ServiceStats, urls map[string]*URLStats) []models.MetricRecord {
	var records []models.MetricRecord

	for _, e := range table.Entries() {
		records = append(records, models.MetricRecord{
			Name:   e.Key.Name,
			Labels: e.Key.Labels,
			Value:  e.Value,
			Kind:   models.KindCounter,
		})
	}

	for _, service := range sortedKeys(services) {
		stats := services[service]
		svcLabel := m.label(labelService, service)

		records = append(records,
			m.gauge("xray_service_errors_count", float64(stats.Errors), svcLabel),
			m.gauge("xray_service_faults_count", float64(stats.Faults), svcLabel),
			m.gauge("xray_service_throttles_count", float64(stats.Throttles), svcLabel),
		)

		if len(stats.Latencies) > 0 {
			for _, latency := range stats.Latencies {
				records = append(records, m.gauge("xray_service_latency_ms", latency, svcLabel))
			}
			records = append(records,
				m.gauge("xray_service_latency_p50_ms", Percentile(stats.Latencies, 0.50), svcLabel),
				m.gauge("xray_service_latency_p90_ms", Percentile(stats.Latencies, 0.90), svcLabel),
				m.gauge("xray_service_latency_p99_ms", Percentile(stats.Latencies, 0.99), svcLabel),
				m.gauge("xray_service_latency_sum_ms", sum(stats.Latencies), svcLabel),
				m.gauge("xray_service_latency_count", float64(len(stats.Latencies)), svcLabel),
			)
		}

		for _, size := range stats.RequestSizes {
			records = append(records, m.gauge("xray_service_request_size_bytes", size, svcLabel))
		}
		for _, size := range stats.ResponseSizes {
			records = append(records, m.gauge("xray_service_response_size_bytes", size, svcLabel))
		}
	}

	// Known services with no data this cycle get explicit zeros so
	// dashboards never show stale non-zero snapshot gauges.
	for _, service := range table.LabelValues(MetricServiceRequests, labelService) {
		if _, ok := services[service]; ok {
			continue
		}
		svcLabel := m.label(labelService, service)
		records = append(records,
			m.gauge("xray_service_errors_count", 0, svcLabel),
			m.gauge("xray_service_faults_count", 0, svcLabel),
			m.gauge("xray_service_throttles_count", 0, svcLabel),
		)
	}

	for _, url := range sortedKeys(urls) {
		stats := urls[url]
		urlLabel := m.label(labelURL, url)

		if len(stats.Latencies) == 0 {
			continue
		}
		for _, latency := range stats.Latencies {
			records = append(records, m.gauge("xray_url_latency_ms", latency, urlLabel))
		}
		records = append(records,
			m.gauge("xray_url_latency_sum_ms", sum(stats.Latencies), urlLabel),
			m.gauge("xray_url_latency_count", float64(len(stats.Latencies)), urlLabel),
		)

		for _, service := range sortedKeys(stats.Services) {
			sub := stats.Services[service]
			if sub.LatencyCount == 0 {
				continue
			}
			svcLabel := m.label(labelService, service)
			records = append(records,
				m.gauge("xray_url_service_latency_sum_ms", sub.LatencySum, urlLabel, svcLabel),
				m.gauge("xray_url_service_latency_count", float64(sub.LatencyCount), urlLabel, svcLabel),
			)
		}
	}

	return records
}

func (m *Materializer) gauge(name string, value float64, labels ...models.Label) models.MetricRecord {
	key := models.NewKey(name, labels...)
	return models.MetricRecord{
		Name:   key.Name,
		Labels: key.Labels,
		Value:  value,
		Kind:   models.KindGauge,
	}
}

// label sanitizes trace-derived label values: anything that is not a valid
// label value (invalid UTF-8) is replaced rune-wise rather than dropped, so
// the series keeps its identity.
func (m *Materializer) label(name, value string) models.Label {
	if !model.LabelValue(value).IsValid() {
		sanitized := strings.ToValidUTF8(value, "�")
		m.logger.Warn("sanitized invalid label value",
			zap.String("label", name))
		value = sanitized
	}
	return models.Label{Name: name, Value: value}
}

func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] == counts[keys[j]] {
			return keys[i] < keys[j]
		}
		return counts[keys[i]] > counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
