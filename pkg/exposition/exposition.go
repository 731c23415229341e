package exposition

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kloudmate/xray-exporter/internal/models"
)

// Format renders metric records into the pull-based text grammar: per
// (name, kind) family a TYPE line, a HELP line when one is known, then one
// line per label set, and a trailing timestamp comment. Families appear in
// first-occurrence order.
func Format(records []models.MetricRecord, now time.Time) string {
	type familyKey struct {
		name string
		kind models.Kind
	}

	var order []familyKey
	families := make(map[familyKey][]models.MetricRecord)
	for _, r := range records {
		key := familyKey{name: r.Name, kind: r.Kind}
		if _, ok := families[key]; !ok {
			order = append(order, key)
		}
		families[key] = append(families[key], r)
	}

	var b strings.Builder
	for _, key := range order {
		fmt.Fprintf(&b, "# TYPE %s %s\n", key.name, key.kind)
		if help := helpText(key.name); help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", key.name, help)
		}
		for _, r := range families[key] {
			b.WriteString(r.Name)
			writeLabels(&b, r.Labels)
			b.WriteByte(' ')
			b.WriteString(formatValue(r.Value))
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "# TIMESTAMP %d\n", now.UnixMilli())
	return b.String()
}

// writeLabels emits {k="v",...}, skipping labels with empty values. Nothing
// is written when no label survives.
func writeLabels(b *strings.Builder, labels []models.Label) {
	wrote := false
	for _, l := range labels {
		if l.Value == "" {
			continue
		}
		if !wrote {
			b.WriteByte('{')
			wrote = true
		} else {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(l.Value))
		b.WriteByte('"')
	}
	if wrote {
		b.WriteByte('}')
	}
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabelValue(v string) string {
	return labelEscaper.Replace(v)
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var helpByName = map[string]string{
	"xray_url_service_total":          "Total count of requests to URLs handled by specific services",
	"xray_url_service_requests_total": "Total count of requests to URLs handled by specific services (detailed)",
	"xray_url_service_errors_total":   "Total count of errors for URLs handled by specific services",
	"xray_url_service_latency_sum_ms": "Sum of latencies for URLs handled by specific services",
	"xray_url_service_latency_count":  "Count of latency observations for URLs handled by specific services",
	"xray_url_service_status_total":   "Total count of HTTP status codes for URLs handled by specific services",
	"xray_url_service_method_total":   "Total count of HTTP methods for URLs handled by specific services",
	"xray_service_errors_count":       "Count of error observations by service (gauge)",
	"xray_service_faults_count":       "Count of fault observations by service (gauge)",
	"xray_service_throttles_count":    "Count of throttle observations by service (gauge)",
	"xray_service_dependency_total":   "Total calls between services",
	"xray_exporter_heartbeat":         "Collection cycles completed by this exporter",
}

func helpText(name string) string {
	if help, ok := helpByName[name]; ok {
		return help
	}
	switch {
	case strings.HasSuffix(name, "_total"):
		return fmt.Sprintf("Total count of %s from X-Ray traces", strings.TrimSuffix(name, "_total"))
	case strings.HasSuffix(name, "_ms"):
		return "Duration in milliseconds from X-Ray traces"
	case strings.HasSuffix(name, "_bytes"):
		return "Size in bytes from X-Ray traces"
	}
	return ""
}
