package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry        *prometheus.Registry
	operationsTotal *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	custodialFunds  prometheus.Gauge
	openOffers      prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offerx_operations_total",
		Help: "Engine operations by name and outcome",
	}, []string{"op", "outcome"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offerx_events_total",
		Help: "Engine events emitted, by kind",
	}, []string{"kind"})

	funds := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offerx_custodial_funds",
		Help: "Custodial value currently on hand",
	})

	open := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offerx_open_offers",
		Help: "Offers not yet accepted",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(ops, events, funds, open)

	return &metricsRegistry{
		registry:        r,
		operationsTotal: ops,
		eventsTotal:     events,
		custodialFunds:  funds,
		openOffers:      open,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incOp(op, outcome string) {
	m.operationsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *metricsRegistry) incEvent(kind string) {
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *metricsRegistry) setFunds(funds float64) {
	m.custodialFunds.Set(funds)
}

func (m *metricsRegistry) setOpenOffers(n int) {
	m.openOffers.Set(float64(n))
}
