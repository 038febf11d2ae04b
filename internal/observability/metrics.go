package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "artchain_collab"

// Metrics holds the Prometheus collectors for the broadcast engine.
// Each Metrics owns a private registry so tests can construct as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsOpened   prometheus.Counter
	MessagesReceived *prometheus.CounterVec
	Deliveries       prometheus.Counter
	Errors           *prometheus.CounterVec
	Evictions        prometheus.Counter
	QueueOverflows   *prometheus.CounterVec
	SnapshotWrites   *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
//
// Postcondition: Returns a Metrics whose collectors are all non-nil.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open websocket sessions.",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Websocket sessions accepted.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound envelopes by type.",
		}, []string{"type"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Frames enqueued to room members by broadcast.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Handled errors by taxonomy category.",
		}, []string{"category"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_evictions_total",
			Help:      "Sessions evicted for missing a liveness probe.",
		}),
		QueueOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_queue_overflows_total",
			Help:      "Outbound queue overflows by applied policy.",
		}, []string{"policy"}),
		SnapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Canvas snapshot write attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsActive,
		m.SessionsOpened,
		m.MessagesReceived,
		m.Deliveries,
		m.Errors,
		m.Evictions,
		m.QueueOverflows,
		m.SnapshotWrites,
	)
	return m
}

// RegisterRoomStats exposes room and member counts sampled from statsFn at scrape time.
//
// Precondition: statsFn must be non-nil and safe for concurrent use.
func (m *Metrics) RegisterRoomStats(statsFn func() (rooms, members int)) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one member.",
		}, func() float64 {
			rooms, _ := statsFn()
			return float64(rooms)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Sessions joined to a room.",
		}, func() float64 {
			_, members := statsFn()
			return float64(members)
		}),
	)
}

// RegisterPoolStats exposes database connection counts sampled from statsFn at scrape time.
//
// Precondition: statsFn must be non-nil and safe for concurrent use.
func (m *Metrics) RegisterPoolStats(statsFn func() (total, idle, acquired int)) {
	gauge := func(state string, pick func(total, idle, acquired int) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "db_connections",
			Help:        "Database pool connections by state.",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 {
			return float64(pick(statsFn()))
		})
	}
	m.registry.MustRegister(
		gauge("total", func(total, _, _ int) int { return total }),
		gauge("idle", func(_, idle, _ int) int { return idle }),
		gauge("acquired", func(_, _, acquired int) int { return acquired }),
	)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving this registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
