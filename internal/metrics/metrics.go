// Package metrics defines the Prometheus registry Overseer exposes for
// connection, request, watcher and storage health, per the expanded
// specification §4.11.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric overseerd publishes.
type Registry struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionsFailed   prometheus.Counter
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	WatchersActive      prometheus.Gauge
	NotificationsTotal  *prometheus.CounterVec
	StoreKeys           prometheus.Gauge
	StoragePagesTotal   prometheus.Gauge
	StoragePagesFree    prometheus.Gauge
	StorageFragBytes    prometheus.Gauge
	OutboxDroppedTotal  prometheus.Counter
	HostCPUPercent      prometheus.Gauge
	HostMemoryPercent   prometheus.Gauge

	reg *prometheus.Registry
}

// New builds a fresh, independently registered metrics Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{reg: reg}
	r.ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overseer_connections_active",
		Help: "Number of currently open client connections.",
	})
	r.ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overseer_connections_total",
		Help: "Total connections accepted since start.",
	})
	r.ConnectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overseer_connections_failed_total",
		Help: "Total connections rejected because the connection limit was reached; connections torn down by a read, dispatch or rate-limit error are not counted.",
	})
	r.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overseer_requests_total",
		Help: "Total requests handled, by payload tag.",
	}, []string{"op"})
	r.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overseer_request_duration_seconds",
		Help:    "Request handling latency, by payload tag.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	r.WatchersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overseer_watchers_active",
		Help: "Number of currently active (key, client) subscriptions.",
	})
	r.NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overseer_notifications_total",
		Help: "Total watcher notifications delivered, by mode.",
	}, []string{"mode"})
	r.StoreKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overseer_store_keys",
		Help: "Number of keys currently bound in the in-memory store.",
	})
	r.StoragePagesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overseer_storage_pages_total",
		Help: "Total pages currently allocated in the storage file.",
	})
	r.StoragePagesFree = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overseer_storage_pages_free",
		Help: "Pages currently on the free list.",
	})
	r.StorageFragBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overseer_storage_fragmented_bytes",
		Help: "Sum of fragmented bytes across observed leaf pages.",
	})
	r.OutboxDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overseer_outbox_dropped_total",
		Help: "Messages dropped because they were enqueued after their connection had torn down.",
	})
	r.HostCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overseer_host_cpu_percent",
		Help: "Most recently sampled host CPU utilization percentage.",
	})
	r.HostMemoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overseer_host_memory_percent",
		Help: "Most recently sampled host memory utilization percentage.",
	})

	reg.MustRegister(
		r.ConnectionsActive, r.ConnectionsTotal, r.ConnectionsFailed,
		r.RequestsTotal, r.RequestDuration, r.WatchersActive,
		r.NotificationsTotal, r.StoreKeys, r.StoragePagesTotal,
		r.StoragePagesFree, r.StorageFragBytes, r.OutboxDroppedTotal,
		r.HostCPUPercent, r.HostMemoryPercent,
	)
	return r
}

// Handler returns the http.Handler serving this registry's /metrics page.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetStoreKeys implements store.Metrics.
func (r *Registry) SetStoreKeys(n int) { r.StoreKeys.Set(float64(n)) }

// SetWatchersActive implements store.Metrics.
func (r *Registry) SetWatchersActive(n int) { r.WatchersActive.Set(float64(n)) }

// IncNotifications implements store.Metrics.
func (r *Registry) IncNotifications(mode string) { r.NotificationsTotal.WithLabelValues(mode).Inc() }

// SetHostCPUPercent implements hoststats.Sink.
func (r *Registry) SetHostCPUPercent(v float64) { r.HostCPUPercent.Set(v) }

// SetHostMemoryPercent implements hoststats.Sink.
func (r *Registry) SetHostMemoryPercent(v float64) { r.HostMemoryPercent.Set(v) }

// IncConnectionsTotal implements netio.Metrics.
func (r *Registry) IncConnectionsTotal() { r.ConnectionsTotal.Inc() }

// SetConnectionsActive implements netio.Metrics.
func (r *Registry) SetConnectionsActive(n int) { r.ConnectionsActive.Set(float64(n)) }

// IncConnectionsFailed implements netio.Metrics.
func (r *Registry) IncConnectionsFailed() { r.ConnectionsFailed.Inc() }

// IncRequestsTotal implements netio.Metrics.
func (r *Registry) IncRequestsTotal(op string) { r.RequestsTotal.WithLabelValues(op).Inc() }

// ObserveRequestDuration implements netio.Metrics.
func (r *Registry) ObserveRequestDuration(op string, seconds float64) {
	r.RequestDuration.WithLabelValues(op).Observe(seconds)
}

// IncOutboxDropped implements netio.Metrics.
func (r *Registry) IncOutboxDropped() { r.OutboxDroppedTotal.Inc() }

// SetStoragePages implements the storage-sampling side of the metrics
// registry, reporting total/free page counts and fragmentation.
func (r *Registry) SetStoragePages(total, free uint32, fragmented uint64) {
	r.StoragePagesTotal.Set(float64(total))
	r.StoragePagesFree.Set(float64(free))
	r.StorageFragBytes.Set(float64(fragmented))
}
