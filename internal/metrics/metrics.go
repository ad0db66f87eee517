package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the trader's series on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles     *prometheus.CounterVec
	decisions  *prometheus.CounterVec
	orders     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	reaped     *prometheus.CounterVec
	indication *prometheus.GaugeVec
	lastCycle  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterntrader_cycles_total",
				Help: "Trade cycles by outcome",
			},
			[]string{"outcome"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterntrader_decisions_total",
				Help: "Pair decisions by signal",
			},
			[]string{"pair", "signal"}, // signal: buy|sell|none
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterntrader_orders_total",
				Help: "Orders accepted by the exchange",
			},
			[]string{"pair", "side"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterntrader_rejections_total",
				Help: "Orders not submitted or refused, by reason",
			},
			[]string{"pair", "reason"},
		),
		reaped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterntrader_reaped_orders_total",
				Help: "Stale open orders cancelled",
			},
			[]string{"pair"},
		),
		indication: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "patterntrader_indication",
				Help: "Last aggregated pattern indication per pair",
			},
			[]string{"pair"},
		),
		lastCycle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "patterntrader_last_cycle_timestamp_seconds",
				Help: "Unix time the last cycle finished",
			},
		),
	}
	m.registry.MustRegister(m.cycles, m.decisions, m.orders, m.rejections, m.reaped, m.indication, m.lastCycle)
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) CycleFinished(outcome string, unixSeconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.lastCycle.Set(unixSeconds)
}

func (m *Metrics) Decision(pair, signal string, indication float64) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(pair, signal).Inc()
	m.indication.WithLabelValues(pair).Set(indication)
}

func (m *Metrics) OrderPlaced(pair, side string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(pair, side).Inc()
}

func (m *Metrics) Rejected(pair, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(pair, reason).Inc()
}

func (m *Metrics) Reaped(pair string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.WithLabelValues(pair).Add(float64(n))
}

// Handler serves /metrics and a /healthz liveness probe.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	return mux
}
