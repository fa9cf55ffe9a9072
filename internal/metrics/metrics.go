// Package metrics 汇总 tierhub 的 Prometheus 指标。每个 Metrics 使用独立的
// Registry，方法对 nil 接收者安全，未注入指标的组件可以直接传 nil。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Storage metrics
	StorageOps *prometheus.CounterVec
	CacheFills *prometheus.CounterVec

	// Maintenance metrics
	Maintenance    *prometheus.CounterVec
	SyncedTarballs *prometheus.CounterVec
	UplinkRequests *prometheus.CounterVec
	CleanedFiles   prometheus.Counter
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tierhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		StorageOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierhub_storage_operations_total",
				Help: "Package storage operations by tier",
			},
			[]string{"op", "tier", "result"},
		),
		CacheFills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierhub_cache_fills_total",
				Help: "Local cache fills of remote tarballs by final state",
			},
			[]string{"state"},
		),

		Maintenance: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierhub_maintenance_total",
				Help: "Sync and clean operations",
			},
			[]string{"action", "result"},
		),
		SyncedTarballs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierhub_synced_tarballs_total",
				Help: "Tarballs pulled from an uplink",
			},
			[]string{"result"},
		),
		UplinkRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierhub_uplink_requests_total",
				Help: "Requests sent to uplinks by response status class",
			},
			[]string{"kind", "status"},
		),
		CleanedFiles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tierhub_cleaned_tarballs_total",
				Help: "Tarballs removed by the cleaner",
			},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveStorage records one routed storage operation.
func (m *Metrics) ObserveStorage(op, tier string, err error) {
	if m == nil {
		return
	}
	m.StorageOps.WithLabelValues(op, tier, result(err)).Inc()
}

// ObserveFill records the final state of a cache fill.
func (m *Metrics) ObserveFill(state string) {
	if m == nil {
		return
	}
	m.CacheFills.WithLabelValues(state).Inc()
}

// ObserveMaintenance records one sync or clean request.
func (m *Metrics) ObserveMaintenance(action string, err error) {
	if m == nil {
		return
	}
	m.Maintenance.WithLabelValues(action, result(err)).Inc()
}

// ObserveTarballSync records one tarball transfer from an uplink.
func (m *Metrics) ObserveTarballSync(err error) {
	if m == nil {
		return
	}
	m.SyncedTarballs.WithLabelValues(result(err)).Inc()
}

// ObserveUplink records one uplink response; status 0 means a transport error.
func (m *Metrics) ObserveUplink(kind string, status int) {
	if m == nil {
		return
	}
	class := "error"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	m.UplinkRequests.WithLabelValues(kind, class).Inc()
}

// ObserveCleaned adds removed tarballs to the counter.
func (m *Metrics) ObserveCleaned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CleanedFiles.Add(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
