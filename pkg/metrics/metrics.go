// Package metrics keeps in-process counters for the negotiation gateway and
// exposes them as JSON and Prometheus text.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Verdict outcome labels.
const (
	OutcomeOK            = "ok"
	OutcomeOracleError   = "oracle_error"
	OutcomeParseFallback = "parse_fallback"
	OutcomeCacheHit      = "cache_hit"
)

type Registry struct {
	mu       sync.RWMutex
	endpoint map[string]*EndpointStat
	outcomes map[string]int64
	gauges   map[string]float64

	oracleLatency LatencyStat

	Histograms *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type LatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt     string                  `json:"generated_at"`
	Endpoints       map[string]EndpointStat `json:"endpoints"`
	VerdictOutcomes map[string]int64        `json:"verdict_outcomes"`
	Gauges          map[string]float64      `json:"gauges"`
	OracleLatencyMS LatencyStat             `json:"oracle_latency_ms"`
	Histograms      []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:   map[string]*EndpointStat{},
		outcomes:   map[string]int64{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) ObserveLatency(name string, d time.Duration) {
	r.Histograms.ObserveDuration(name, d)
}

// IncOutcome records how a verdict synthesis resolved.
func (r *Registry) IncOutcome(outcome string) {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return
	}
	r.mu.Lock()
	r.outcomes[outcome]++
	r.mu.Unlock()
}

// ObserveOracleLatency tracks the external mediation call.
func (r *Registry) ObserveOracleLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oracleLatency.Count++
	r.oracleLatency.TotalMS += ms
	r.oracleLatency.LastMS = ms
	if ms > r.oracleLatency.MaxMS {
		r.oracleLatency.MaxMS = ms
	}
	r.oracleLatency.AvgMS = float64(r.oracleLatency.TotalMS) / float64(r.oracleLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		Endpoints:       make(map[string]EndpointStat, len(r.endpoint)),
		VerdictOutcomes: make(map[string]int64, len(r.outcomes)),
		Gauges:          make(map[string]float64, len(r.gauges)),
		OracleLatencyMS: r.oracleLatency,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.outcomes {
		out.VerdictOutcomes[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP mediator_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE mediator_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "mediator_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP mediator_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE mediator_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "mediator_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP mediator_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE mediator_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "mediator_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP mediator_verdict_outcome_total verdict syntheses by outcome\n")
		b.WriteString("# TYPE mediator_verdict_outcome_total counter\n")
		for _, outcome := range SortedKeys(snap.VerdictOutcomes) {
			fmt.Fprintf(b, "mediator_verdict_outcome_total{outcome=%q} %d\n", outcome, snap.VerdictOutcomes[outcome])
		}
		b.WriteString("# HELP mediator_gauge operational gauge metrics\n")
		b.WriteString("# TYPE mediator_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "mediator_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP mediator_oracle_latency_ms mediation oracle latency in ms\n")
		b.WriteString("# TYPE mediator_oracle_latency_ms gauge\n")
		fmt.Fprintf(b, "mediator_oracle_latency_ms{stat=%q} %d\n", "last", snap.OracleLatencyMS.LastMS)
		fmt.Fprintf(b, "mediator_oracle_latency_ms{stat=%q} %.3f\n", "avg", snap.OracleLatencyMS.AvgMS)
		fmt.Fprintf(b, "mediator_oracle_latency_ms{stat=%q} %d\n", "max", snap.OracleLatencyMS.MaxMS)
		for _, h := range snap.Histograms {
			b.WriteString("# HELP mediator_latency_seconds latency histogram\n")
			b.WriteString("# TYPE mediator_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "mediator_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "mediator_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "mediator_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "mediator_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "mediator_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
