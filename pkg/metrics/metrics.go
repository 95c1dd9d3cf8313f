// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to the process so tests can construct servers
// repeatedly without duplicate registration against the default registry.
var Registry = prometheus.NewRegistry()

var (
	requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eline_http_request_duration_seconds",
			Help:    "HTTP request latency, by method, route template and status code.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "code"},
	)

	evcOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eline_evc_operations_total",
			Help: "Circuit operations, by operation and result.",
		},
		[]string{"operation", "result"},
	)

	evcCircuits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eline_evc_circuits",
			Help: "Non-archived circuits, by state (total, enabled, active).",
		},
		[]string{"state"},
	)

	statsPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eline_stats_polls_total",
			Help: "Statistics polls, by result.",
		},
		[]string{"result"},
	)

	statsPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eline_stats_poll_duration_seconds",
			Help:    "Time spent polling the statistics source.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	tableCounters = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eline_table_counter",
			Help: "Latest flow table counters, by switch, table and counter.",
		},
		[]string{"dpid", "table", "counter"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requestLatency,
		evcOperations,
		evcCircuits,
		statsPolls,
		statsPollDuration,
		tableCounters,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func ObserveRequest(method, route string, code int, elapsed time.Duration) {
	requestLatency.WithLabelValues(method, route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

// EVCOperation counts a circuit operation outcome.
func EVCOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	evcOperations.WithLabelValues(operation, result).Inc()
}

// SetCircuits publishes circuit counts.
func SetCircuits(total, enabled, active int) {
	evcCircuits.WithLabelValues("total").Set(float64(total))
	evcCircuits.WithLabelValues("enabled").Set(float64(enabled))
	evcCircuits.WithLabelValues("active").Set(float64(active))
}

// StatsPoll records one poll of the statistics source.
func StatsPoll(elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	statsPolls.WithLabelValues(result).Inc()
	statsPollDuration.Observe(elapsed.Seconds())
}

// SetTableCounters publishes one table's counters.
func SetTableCounters(dpid string, table int, active, lookup, matched uint64) {
	t := strconv.Itoa(table)
	tableCounters.WithLabelValues(dpid, t, "active").Set(float64(active))
	tableCounters.WithLabelValues(dpid, t, "lookup").Set(float64(lookup))
	tableCounters.WithLabelValues(dpid, t, "matched").Set(float64(matched))
}

// ForgetSwitch drops the table series of a switch that left the topology.
func ForgetSwitch(dpid string) {
	tableCounters.DeletePartialMatch(prometheus.Labels{"dpid": dpid})
}
