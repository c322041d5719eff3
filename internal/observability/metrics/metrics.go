package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the appointment workflow.
type EngineMetrics struct {
	turnsTotal     *prometheus.CounterVec
	bookingsTotal  *prometheus.CounterVec
	dispatchTotal  *prometheus.CounterVec
	circuitOpens   *prometheus.CounterVec
	activeSessions prometheus.Gauge
	turnLatency    *prometheus.HistogramVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total processed conversation turns",
		}, []string{"state", "kind"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "engine",
			Name:      "bookings_total",
			Help:      "Total booking attempts by result",
		}, []string{"result"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Total notification dispatch outcomes",
		}, []string{"channel", "result"}),
		circuitOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "notify",
			Name:      "circuit_open_total",
			Help:      "Times a channel circuit breaker tripped",
		}, []string{"channel"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinicflow",
			Subsystem: "engine",
			Name:      "active_sessions",
			Help:      "Sessions currently held in the registry",
		}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicflow",
			Subsystem: "engine",
			Name:      "turn_latency_seconds",
			Help:      "Latency of HandleTurn including effect execution",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.bookingsTotal, m.dispatchTotal, m.circuitOpens, m.activeSessions, m.turnLatency)
	return m
}

func (m *EngineMetrics) ObserveTurn(state, kind string, seconds float64) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	m.turnsTotal.WithLabelValues(state, kind).Inc()
	m.turnLatency.WithLabelValues(state).Observe(seconds)
}

func (m *EngineMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveDispatch(channel, result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(channel, result).Inc()
}

func (m *EngineMetrics) ObserveCircuitOpen(channel string) {
	if m == nil {
		return
	}
	m.circuitOpens.WithLabelValues(channel).Inc()
}

func (m *EngineMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
