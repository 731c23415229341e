package aggregator

import (
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/models"
)

// ServiceStats is the per-service rollup for one cycle. Built fresh each
// cycle and discarded after its deltas are merged into the counter table.
type ServiceStats struct {
	Requests  int
	Errors    int
	Faults    int
	Throttles int

	Latencies     []float64
	RequestSizes  []float64
	ResponseSizes []float64

	StatusCodes map[string]int
	Methods     map[string]int
	ClientIPs   map[string]int
	URLs        map[string]int
	Downstream  map[string]int
}

// URLServiceStats is the exact per-(URL, service) breakdown. Every field is
// attributed from the segment that carried the URL, not estimated from
// request ratios.
type URLServiceStats struct {
	Requests     int
	Errors       int
	LatencySum   float64
	LatencyCount int
	StatusCodes  map[string]int
	Methods      map[string]int
}

// URLStats is the per-URL rollup for one cycle.
type URLStats struct {
	Requests  int
	Errors    int
	Latencies []float64

	StatusCodes map[string]int
	Methods     map[string]int
	Services    map[string]*URLServiceStats
}

type Aggregator struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Fold aggregates a batch of hydrated traces into per-service and per-URL
// rollups. A malformed segment document is skipped and logged; it never
// aborts the remaining segments or traces.
func (a *Aggregator) Fold(traces []models.Trace) (map[string]*ServiceStats, map[string]*URLStats) {
	services := make(map[string]*ServiceStats)
	urls := make(map[string]*URLStats)

	for _, trace := range traces {
		for _, document := range trace.Segments {
			seg, err := models.ParseSegment([]byte(document))
			if err != nil {
				a.logger.Warn("skipping malformed segment",
					zap.String("trace_id", trace.ID),
					zap.Error(err))
				continue
			}
			a.foldSegment(seg, services, urls)
		}
	}

	return services, urls
}

func (a *Aggregator) foldSegment(seg *models.Segment, services map[string]*ServiceStats, urls map[string]*URLStats) {
	service := seg.ServiceName()
	duration := seg.DurationMillis()
	status := seg.StatusCode()
	url := seg.RequestURL()
	method := seg.RequestMethod()
	clientIP := seg.ClientIP()

	isError := seg.IsError() || (status >= 400 && status < 500)
	isFault := seg.IsFault() || status >= 500
	isThrottle := seg.IsThrottle()

	svc := services[service]
	if svc == nil {
		svc = &ServiceStats{
			StatusCodes: make(map[string]int),
			Methods:     make(map[string]int),
			ClientIPs:   make(map[string]int),
			URLs:        make(map[string]int),
			Downstream:  make(map[string]int),
		}
		services[service] = svc
	}

	svc.Requests++
	svc.Latencies = append(svc.Latencies, duration)
	if isError {
		svc.Errors++
	}
	if isFault {
		svc.Faults++
	}
	if isThrottle {
		svc.Throttles++
	}
	if status != 0 {
		svc.StatusCodes[strconv.FormatInt(status, 10)]++
	}
	if method != "" {
		svc.Methods[method]++
	}
	if clientIP != "" {
		svc.ClientIPs[clientIP]++
	}
	if size := seg.RequestSize(); size > 0 {
		svc.RequestSizes = append(svc.RequestSizes, size)
	}
	if size := seg.ResponseSize(); size > 0 {
		svc.ResponseSizes = append(svc.ResponseSizes, size)
	}

	for _, sub := range seg.Subsegments {
		if sub.Name == nil || *sub.Name == "" || *sub.Name == service {
			continue
		}
		svc.Downstream[*sub.Name]++
	}

	if url == "" {
		return
	}
	svc.URLs[url]++

	u := urls[url]
	if u == nil {
		u = &URLStats{
			StatusCodes: make(map[string]int),
			Methods:     make(map[string]int),
			Services:    make(map[string]*URLServiceStats),
		}
		urls[url] = u
	}

	u.Requests++
	u.Latencies = append(u.Latencies, duration)
	if status != 0 {
		u.StatusCodes[strconv.FormatInt(status, 10)]++
	}
	if method != "" {
		u.Methods[method]++
	}
	urlError := isError || isFault || status >= 400
	if urlError {
		u.Errors++
	}

	us := u.Services[service]
	if us == nil {
		us = &URLServiceStats{
			StatusCodes: make(map[string]int),
			Methods:     make(map[string]int),
		}
		u.Services[service] = us
	}
	us.Requests++
	us.LatencySum += duration
	us.LatencyCount++
	if urlError {
		us.Errors++
	}
	if status != 0 {
		us.StatusCodes[strconv.FormatInt(status, 10)]++
	}
	if method != "" {
		us.Methods[method]++
	}
}

// Percentile returns the nearest-rank percentile of samples: the element at
// index clamp(floor(n*p), 0, n-1) after sorting. p is a fraction in [0, 1].
func Percentile(samples []float64, p float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(float64(n) * p)
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func sum(samples []float64) float64 {
	var total float64
	for _, s := range samples {
		total += s
	}
	return total
}
