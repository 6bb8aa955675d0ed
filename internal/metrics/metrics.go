// Package metrics provides Prometheus instrumentation and a JSON stats endpoint
// for the repovet scan service.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxTopEntries = 100

// Metrics collects Prometheus counters and histograms for the scan service.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal     *prometheus.CounterVec
	findingsTotal  *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	gateRejections *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	activeScans    prometheus.Gauge

	mu             sync.Mutex
	startTime      time.Time
	topRepos       map[string]int64
	severityCounts map[string]int64
	completedCount int64
	failedCount    int64
	rejectedCount  int64
	sumSafety      int64
	sumLegitimacy  int64
	sumOverall     int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	scansTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repovet",
		Name:      "scans_total",
		Help:      "Total number of repository scans by result.",
	}, []string{"result"})

	findingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repovet",
		Name:      "findings_total",
		Help:      "Total findings reported by severity.",
	}, []string{"severity"})

	fetchFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repovet",
		Name:      "fetch_failures_total",
		Help:      "Degraded snapshot sub-fetches by part.",
	}, []string{"part"})

	gateRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repovet",
		Name:      "gate_rejections_total",
		Help:      "API requests rejected before scanning by reason.",
	}, []string{"reason"})

	scanDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "repovet",
		Name:      "scan_duration_seconds",
		Help:      "End-to-end scan duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	activeScans := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "repovet",
		Name:      "active_scans",
		Help:      "Current number of scans in flight.",
	})

	reg.MustRegister(scansTotal, findingsTotal, fetchFailures,
		gateRejections, scanDuration, activeScans)

	return &Metrics{
		registry:       reg,
		scansTotal:     scansTotal,
		findingsTotal:  findingsTotal,
		fetchFailures:  fetchFailures,
		gateRejections: gateRejections,
		scanDuration:   scanDuration,
		activeScans:    activeScans,
		startTime:      time.Now(),
		topRepos:       make(map[string]int64),
		severityCounts: make(map[string]int64),
	}
}

// RecordScanCompleted records a finished scan with its headline scores.
func (m *Metrics) RecordScanCompleted(repo string, duration time.Duration, safety, legitimacy, overall int) {
	m.scansTotal.WithLabelValues("completed").Inc()
	m.scanDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.completedCount++
	m.sumSafety += int64(safety)
	m.sumLegitimacy += int64(legitimacy)
	m.sumOverall += int64(overall)
	if len(m.topRepos) < maxTopEntries {
		m.topRepos[repo]++
	} else if _, exists := m.topRepos[repo]; exists {
		m.topRepos[repo]++
	}
	m.mu.Unlock()
}

// RecordScanFailed records a scan that ended in a terminal failure.
func (m *Metrics) RecordScanFailed(duration time.Duration) {
	m.scansTotal.WithLabelValues("failed").Inc()
	m.scanDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.failedCount++
	m.mu.Unlock()
}

// AddFindings adds n findings of the given severity to the counters.
func (m *Metrics) AddFindings(severity string, n int) {
	if n <= 0 {
		return
	}
	m.findingsTotal.WithLabelValues(severity).Add(float64(n))

	m.mu.Lock()
	m.severityCounts[severity] += int64(n)
	m.mu.Unlock()
}

// RecordFetchFailure records one degraded snapshot sub-fetch.
func (m *Metrics) RecordFetchFailure(part string) {
	m.fetchFailures.WithLabelValues(part).Inc()
}

// RecordGateRejection records an API request the gate turned away.
func (m *Metrics) RecordGateRejection(reason string) {
	m.gateRejections.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.rejectedCount++
	m.mu.Unlock()
}

// IncrActiveScans increments the in-flight scan gauge.
func (m *Metrics) IncrActiveScans() {
	m.activeScans.Inc()
}

// DecrActiveScans decrements the in-flight scan gauge.
func (m *Metrics) DecrActiveScans() {
	m.activeScans.Dec()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		total := m.completedCount + m.failedCount
		findings := make(map[string]int64, len(m.severityCounts))
		for sev, n := range m.severityCounts {
			findings[sev] = n
		}
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Scans: scanStats{
				Total:     total,
				Completed: m.completedCount,
				Failed:    m.failedCount,
			},
			Findings:       findings,
			GateRejections: m.rejectedCount,
			TopRepos:       topN(m.topRepos),
		}
		if total > 0 {
			stats.Scans.FailRate = float64(m.failedCount) / float64(total)
		}
		if m.completedCount > 0 {
			stats.MeanScores.Safety = float64(m.sumSafety) / float64(m.completedCount)
			stats.MeanScores.Legitimacy = float64(m.sumLegitimacy) / float64(m.completedCount)
			stats.MeanScores.Overall = float64(m.sumOverall) / float64(m.completedCount)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds  float64          `json:"uptime_seconds"`
	Scans          scanStats        `json:"scans"`
	MeanScores     meanScores       `json:"mean_scores"`
	Findings       map[string]int64 `json:"findings_by_severity"`
	GateRejections int64            `json:"gate_rejections"`
	TopRepos       []rankedEntry    `json:"top_repos"`
}

type scanStats struct {
	Total     int64   `json:"total"`
	Completed int64   `json:"completed"`
	Failed    int64   `json:"failed"`
	FailRate  float64 `json:"fail_rate"`
}

type meanScores struct {
	Safety     float64 `json:"safety"`
	Legitimacy float64 `json:"legitimacy"`
	Overall    float64 `json:"overall"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func topN(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}
