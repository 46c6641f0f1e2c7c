package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Histogram tracks request duration distribution
type Histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

var defaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

func newHistogram() *Histogram {
	return &Histogram{
		buckets: defaultBuckets,
		counts:  make([]uint64, len(defaultBuckets)+1),
	}
}

func (h *Histogram) observe(v float64) {
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

// Metrics collects request counters and gauges for the service
type Metrics struct {
	mu sync.Mutex

	requestCount    map[string]uint64
	requestErrors   map[string]uint64
	requestDuration map[string]*Histogram

	wsConnections int64
	mailQueueLen  int64
}

// New creates a new metrics collector
func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]uint64),
		requestErrors:   make(map[string]uint64),
		requestDuration: make(map[string]*Histogram),
	}
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the shared metrics collector
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

var (
	uuidPattern    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	numericPattern = regexp.MustCompile(`/\d+(/|$)`)
)

// normalizeEndpoint collapses path parameters so each route produces one
// series instead of one per resource id.
func normalizeEndpoint(path string) string {
	path = uuidPattern.ReplaceAllString(path, "{id}")
	path = numericPattern.ReplaceAllString(path, "/{id}$1")
	return path
}

// RecordRequest records a completed HTTP request
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	endpoint := normalizeEndpoint(path)
	key := fmt.Sprintf("%s %s %d", method, endpoint, status)
	durKey := fmt.Sprintf("%s %s", method, endpoint)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCount[key]++
	if status >= 500 {
		m.requestErrors[durKey]++
	}

	h, ok := m.requestDuration[durKey]
	if !ok {
		h = newHistogram()
		m.requestDuration[durKey] = h
	}
	h.observe(duration.Seconds())
}

// IncWSConnections increments the websocket connection gauge
func (m *Metrics) IncWSConnections() {
	m.mu.Lock()
	m.wsConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements the websocket connection gauge
func (m *Metrics) DecWSConnections() {
	m.mu.Lock()
	m.wsConnections--
	m.mu.Unlock()
}

// SetMailQueueLength records the current mail dispatch queue depth
func (m *Metrics) SetMailQueueLength(n int) {
	m.mu.Lock()
	m.mailQueueLen = int64(n)
	m.mu.Unlock()
}

// Handler serves metrics in Prometheus text exposition format
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		m.mu.Lock()
		defer m.mu.Unlock()

		var sb strings.Builder

		sb.WriteString("# HELP apnisec_http_requests_total Total HTTP requests by method, endpoint, and status\n")
		sb.WriteString("# TYPE apnisec_http_requests_total counter\n")
		for _, key := range sortedKeys(m.requestCount) {
			parts := strings.SplitN(key, " ", 3)
			if len(parts) != 3 {
				continue
			}
			sb.WriteString(fmt.Sprintf("apnisec_http_requests_total{method=%q,endpoint=%q,status=%q} %d\n",
				parts[0], parts[1], parts[2], m.requestCount[key]))
		}

		sb.WriteString("# HELP apnisec_http_request_errors_total Total HTTP 5xx responses by method and endpoint\n")
		sb.WriteString("# TYPE apnisec_http_request_errors_total counter\n")
		for _, key := range sortedKeys(m.requestErrors) {
			parts := strings.SplitN(key, " ", 2)
			if len(parts) != 2 {
				continue
			}
			sb.WriteString(fmt.Sprintf("apnisec_http_request_errors_total{method=%q,endpoint=%q} %d\n",
				parts[0], parts[1], m.requestErrors[key]))
		}

		sb.WriteString("# HELP apnisec_http_request_duration_seconds HTTP request duration by method and endpoint\n")
		sb.WriteString("# TYPE apnisec_http_request_duration_seconds histogram\n")
		for _, key := range sortedHistKeys(m.requestDuration) {
			parts := strings.SplitN(key, " ", 2)
			if len(parts) != 2 {
				continue
			}
			h := m.requestDuration[key]
			cumulative := uint64(0)
			for i, b := range h.buckets {
				cumulative += h.counts[i]
				sb.WriteString(fmt.Sprintf("apnisec_http_request_duration_seconds_bucket{method=%q,endpoint=%q,le=%q} %d\n",
					parts[0], parts[1], formatFloat(b), cumulative))
			}
			cumulative += h.counts[len(h.buckets)]
			sb.WriteString(fmt.Sprintf("apnisec_http_request_duration_seconds_bucket{method=%q,endpoint=%q,le=\"+Inf\"} %d\n",
				parts[0], parts[1], cumulative))
			sb.WriteString(fmt.Sprintf("apnisec_http_request_duration_seconds_sum{method=%q,endpoint=%q} %g\n",
				parts[0], parts[1], h.sum))
			sb.WriteString(fmt.Sprintf("apnisec_http_request_duration_seconds_count{method=%q,endpoint=%q} %d\n",
				parts[0], parts[1], h.count))
		}

		sb.WriteString("# HELP apnisec_websocket_connections Current number of websocket connections\n")
		sb.WriteString("# TYPE apnisec_websocket_connections gauge\n")
		sb.WriteString(fmt.Sprintf("apnisec_websocket_connections %d\n", m.wsConnections))

		sb.WriteString("# HELP apnisec_mail_queue_length Current mail dispatch queue depth\n")
		sb.WriteString("# TYPE apnisec_mail_queue_length gauge\n")
		sb.WriteString(fmt.Sprintf("apnisec_mail_queue_length %d\n", m.mailQueueLen))

		w.Write([]byte(sb.String()))
	}
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedHistKeys(m map[string]*Histogram) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
}

// statusResponseWriter captures the status code for metrics
type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the metrics middleware.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Middleware records request metrics for every handled request
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			m.RecordRequest(r.Method, r.URL.Path, sw.status, time.Since(start))
		})
	}
}
