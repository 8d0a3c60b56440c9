package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coursedeck/internal/models"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters for HTTP requests, media
// transfer volume, and balance movements. It coordinates concurrent writers
// via a RWMutex while exposing atomic counters for byte volume tracking.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	monetizationCount map[string]uint64
	monetizationTotal map[string]models.Money
	uploadBytes       atomic.Int64
	uploadCount       atomic.Int64
	streamBytes       atomic.Int64
	streamCount       atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		monetizationCount: make(map[string]uint64),
		monetizationTotal: make(map[string]models.Money),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault replaces the process-wide recorder used by the package helpers.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultRecorder = r
}

// Registry bundles a Recorder with its HTTP exposition handler so servers can
// mount scraping endpoints without reaching into package internals.
type Registry struct {
	Recorder *Recorder
}

// NewRegistry constructs a Registry around a fresh Recorder and installs it as
// the package default so helper functions feed the same counters.
func NewRegistry() *Registry {
	recorder := New()
	SetDefault(recorder)
	return &Registry{Recorder: recorder}
}

// Handler exposes the registry's recorder in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return r.Recorder.Handler()
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveUploadBytes records one completed upload assembly and its size.
func (r *Recorder) ObserveUploadBytes(n int64) {
	if n < 0 {
		return
	}
	r.uploadCount.Add(1)
	r.uploadBytes.Add(n)
}

// ObserveStreamBytes records the bytes delivered by one media stream response.
func (r *Recorder) ObserveStreamBytes(n int64) {
	if n < 0 {
		return
	}
	r.streamCount.Add(1)
	r.streamBytes.Add(n)
}

// ObserveMonetization tracks balance movements, capturing counts and total
// amounts by event type (e.g. "deposit_confirmed").
func (r *Recorder) ObserveMonetization(event string, amount models.Money) {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.monetizationCount[normalized]++
	total := r.monetizationTotal[normalized]
	r.monetizationTotal[normalized] = total.Add(amount)
	r.mu.Unlock()
}

// UploadCounts exposes the assembled upload counters for tests and reporting.
func (r *Recorder) UploadCounts() (count, bytes int64) {
	return r.uploadCount.Load(), r.uploadBytes.Load()
}

// StreamCounts exposes the media delivery counters for tests and reporting.
func (r *Recorder) StreamCounts() (count, bytes int64) {
	return r.streamCount.Load(), r.streamBytes.Load()
}

// Reset clears all counters on the recorder. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.monetizationCount = make(map[string]uint64)
	r.monetizationTotal = make(map[string]models.Money)
	r.uploadBytes.Store(0)
	r.uploadCount.Store(0)
	r.streamBytes.Store(0)
	r.streamCount.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	monetizationEvents := r.sortedMonetizationEvents()

	fmt.Fprintln(w, "# HELP coursedeck_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE coursedeck_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "coursedeck_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP coursedeck_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE coursedeck_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "coursedeck_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP coursedeck_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE coursedeck_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "coursedeck_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP coursedeck_uploads_total Completed upload assemblies")
	fmt.Fprintln(w, "# TYPE coursedeck_uploads_total counter")
	fmt.Fprintf(w, "coursedeck_uploads_total %d\n", r.uploadCount.Load())

	fmt.Fprintln(w, "# HELP coursedeck_upload_bytes_total Total bytes accepted through completed uploads")
	fmt.Fprintln(w, "# TYPE coursedeck_upload_bytes_total counter")
	fmt.Fprintf(w, "coursedeck_upload_bytes_total %d\n", r.uploadBytes.Load())

	fmt.Fprintln(w, "# HELP coursedeck_streams_total Media stream responses served")
	fmt.Fprintln(w, "# TYPE coursedeck_streams_total counter")
	fmt.Fprintf(w, "coursedeck_streams_total %d\n", r.streamCount.Load())

	fmt.Fprintln(w, "# HELP coursedeck_stream_bytes_total Total bytes delivered by media stream responses")
	fmt.Fprintln(w, "# TYPE coursedeck_stream_bytes_total counter")
	fmt.Fprintf(w, "coursedeck_stream_bytes_total %d\n", r.streamBytes.Load())

	fmt.Fprintln(w, "# HELP coursedeck_monetization_events_total Balance movement events by type")
	fmt.Fprintln(w, "# TYPE coursedeck_monetization_events_total counter")
	for _, event := range monetizationEvents {
		count := r.monetizationCount[event]
		fmt.Fprintf(w, "coursedeck_monetization_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP coursedeck_monetization_amount_sum Total balance movement amount by event type")
	fmt.Fprintln(w, "# TYPE coursedeck_monetization_amount_sum counter")
	for _, event := range monetizationEvents {
		total := r.monetizationTotal[event]
		fmt.Fprintf(w, "coursedeck_monetization_amount_sum{event=\"%s\"} %s\n", event, total.DecimalString())
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedMonetizationEvents() []string {
	totalEvents := len(r.monetizationCount) + len(r.monetizationTotal)
	seen := make(map[string]struct{}, totalEvents)
	events := make([]string, 0, totalEvents)
	for event := range r.monetizationCount {
		if _, exists := seen[event]; exists {
			continue
		}
		seen[event] = struct{}{}
		events = append(events, event)
	}
	for event := range r.monetizationTotal {
		if _, exists := seen[event]; exists {
			continue
		}
		seen[event] = struct{}{}
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveUploadBytes records one completed upload on the default recorder.
func ObserveUploadBytes(n int64) {
	defaultRecorder.ObserveUploadBytes(n)
}

// ObserveStreamBytes records delivered media bytes on the default recorder.
func ObserveStreamBytes(n int64) {
	defaultRecorder.ObserveStreamBytes(n)
}

// ObserveMonetization records a balance movement on the default recorder.
func ObserveMonetization(event string, amount models.Money) {
	defaultRecorder.ObserveMonetization(event, amount)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
