package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a store server
type Metrics struct {
	registry *prometheus.Registry

	// Command metrics
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	CommandBytes     prometheus.Histogram
	ErrorsTotal      *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter

	// Connection metrics
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionsRejected prometheus.Counter

	// Trie metrics
	TrieKeys       prometheus.Gauge
	TrieNodes      prometheus.Gauge
	TrieTombstones prometheus.Gauge

	// Formula metrics
	ComputeDuration prometheus.Histogram

	// Gossip metrics
	GossipMembersTotal   prometheus.Gauge
	GossipMembersHealthy prometheus.Gauge

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
}

// NewMetrics creates all metrics on a private registry so several servers
// can live in one process.
func NewMetrics(nodeID string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWithRegistry(nodeID, reg)
}

// NewMetricsWithRegistry creates and registers all metrics on reg
func NewMetricsWithRegistry(nodeID string, reg *prometheus.Registry) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Command metrics
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "triekv",
			Subsystem:   "server",
			Name:        "commands_total",
			Help:        "Total number of commands by verb and status",
			ConstLabels: labels,
		}, []string{"command", "status"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "triekv",
			Subsystem:   "server",
			Name:        "command_duration_seconds",
			Help:        "Histogram of command durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"command"}),
		CommandBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "triekv",
			Subsystem:   "server",
			Name:        "command_bytes",
			Help:        "Histogram of request line sizes in bytes",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(16, 4, 10), // 16B to 4MB
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "triekv",
			Subsystem:   "server",
			Name:        "errors_total",
			Help:        "Total number of error replies by error code",
			ConstLabels: labels,
		}, []string{"code"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "triekv",
			Subsystem:   "server",
			Name:        "rate_limited_total",
			Help:        "Total number of commands delayed by the per-connection rate limit",
			ConstLabels: labels,
		}),

		// Connection metrics
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "triekv",
			Subsystem:   "server",
			Name:        "connections_active",
			Help:        "Current number of open client connections",
			ConstLabels: labels,
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "triekv",
			Subsystem:   "server",
			Name:        "connections_total",
			Help:        "Total number of accepted client connections",
			ConstLabels: labels,
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "triekv",
			Subsystem:   "server",
			Name:        "connections_rejected_total",
			Help:        "Total number of connections rejected because the server was full",
			ConstLabels: labels,
		}),

		// Trie metrics
		TrieKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "triekv",
			Subsystem:   "trie",
			Name:        "keys",
			Help:        "Current number of live keys",
			ConstLabels: labels,
		}),
		TrieNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "triekv",
			Subsystem:   "trie",
			Name:        "nodes",
			Help:        "Current number of trie nodes",
			ConstLabels: labels,
		}),
		TrieTombstones: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "triekv",
			Subsystem:   "trie",
			Name:        "tombstones",
			Help:        "Current number of tombstoned keys",
			ConstLabels: labels,
		}),

		// Formula metrics
		ComputeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "triekv",
			Subsystem:   "formula",
			Name:        "compute_duration_seconds",
			Help:        "Histogram of formula evaluation durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),

		// Gossip metrics
		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "triekv",
			Subsystem:   "gossip",
			Name:        "members_total",
			Help:        "Total number of gossip members",
			ConstLabels: labels,
		}),
		GossipMembersHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "triekv",
			Subsystem:   "gossip",
			Name:        "members_healthy",
			Help:        "Number of healthy gossip members",
			ConstLabels: labels,
		}),

		// System metrics
		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "triekv",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current heap allocation in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "triekv",
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// Registry returns the registry the metrics were registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCommand records metrics for one handled command
func (m *Metrics) RecordCommand(command, status string, duration float64, bytes int) {
	m.CommandsTotal.WithLabelValues(command, status).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(duration)
	m.CommandBytes.Observe(float64(bytes))
}

// RecordError records an error reply by code name
func (m *Metrics) RecordError(code string) {
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// RecordRateLimited records a throttled command
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// RecordCompute records the duration of a formula evaluation
func (m *Metrics) RecordCompute(duration float64) {
	m.ComputeDuration.Observe(duration)
}

// ConnectionOpened records an accepted connection
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed records a closed connection
func (m *Metrics) ConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// RecordRejectedConnection records a connection refused at capacity
func (m *Metrics) RecordRejectedConnection() {
	m.ConnectionsRejected.Inc()
}

// UpdateTrieStats updates trie size metrics
func (m *Metrics) UpdateTrieStats(keys, nodes, tombstones int) {
	m.TrieKeys.Set(float64(keys))
	m.TrieNodes.Set(float64(nodes))
	m.TrieTombstones.Set(float64(tombstones))
}

// UpdateGossipStats updates gossip statistics
func (m *Metrics) UpdateGossipStats(totalMembers, healthyMembers int) {
	m.GossipMembersTotal.Set(float64(totalMembers))
	m.GossipMembersHealthy.Set(float64(healthyMembers))
}

// UpdateSystemStats updates process-level statistics
func (m *Metrics) UpdateSystemStats(memoryUsage int64, goroutines int) {
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
