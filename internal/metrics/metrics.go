// Package metrics exposes server counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "phxd"

// Metrics holds the collectors of one server.
type Metrics struct {
	registry *prometheus.Registry

	connections     prometheus.Counter
	usersOnline     prometheus.Gauge
	packetsTotal    *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	transfers       *prometheus.CounterVec
	transferBytes   *prometheus.CounterVec
	transfersActive prometheus.Gauge
	diskUsed        prometheus.Gauge
	memoryUsed      prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Control connections accepted",
		}),

		usersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_online",
			Help:      "Users currently logged in",
		}),

		packetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets dispatched by transaction type",
		}, []string{"type"}),

		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Handler failures by kind",
		}, []string{"kind"}),

		handlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Packet handler duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"type"}),

		transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Finished transfers by direction and outcome",
		}, []string{"direction", "outcome"}),

		transferBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved over transfer connections",
		}, []string{"direction"}),

		transfersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Transfers currently connected",
		}),

		diskUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "file_root_disk_used_percent",
			Help:      "Used space of the disk holding the file root",
		}),

		memoryUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_percent",
			Help:      "Used host memory",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
}

func (m *Metrics) SetUsersOnline(n int) {
	m.usersOnline.Set(float64(n))
}

// PacketHandled records one dispatched packet. kind is "ok", "fail",
// "fatal", "internal" or "unknown".
func (m *Metrics) PacketHandled(packetType, kind string, elapsed time.Duration) {
	m.packetsTotal.WithLabelValues(packetType).Inc()
	m.handlerDuration.WithLabelValues(packetType).Observe(elapsed.Seconds())
	if kind != "ok" {
		m.handlerErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) TransferStarted() {
	m.transfersActive.Inc()
}

// TransferFinished records a transfer leaving the registry. started tells
// whether TransferStarted was recorded for it.
func (m *Metrics) TransferFinished(incoming bool, outcome string, bytes uint64, started bool) {
	direction := "download"
	if incoming {
		direction = "upload"
	}
	m.transfers.WithLabelValues(direction, outcome).Inc()
	m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	if started {
		m.transfersActive.Dec()
	}
}

func (m *Metrics) SetDiskUsed(percent float64) {
	m.diskUsed.Set(percent)
}

func (m *Metrics) SetMemoryUsed(percent float64) {
	m.memoryUsed.Set(percent)
}
