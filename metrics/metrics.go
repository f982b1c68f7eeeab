// Package metrics exposes Prometheus collectors for the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	OrdersPlaced    *prometheus.CounterVec
	OrderRevenue    prometheus.Counter
	CatalogCache    *prometheus.CounterVec
	PaymentIntents  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookmart",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookmart",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookmart",
			Name:      "orders_placed_total",
			Help:      "Orders placed by payment method.",
		}, []string{"payment_method"}),
		OrderRevenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookmart",
			Name:      "order_revenue_minor_units_total",
			Help:      "Sum of order totals in minor currency units.",
		}),
		CatalogCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookmart",
			Name:      "catalog_cache_lookups_total",
			Help:      "Catalog cache lookups by result.",
		}, []string{"result"}),
		PaymentIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookmart",
			Name:      "payment_intents_total",
			Help:      "Payment intent creation attempts by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.OrdersPlaced,
		m.OrderRevenue,
		m.CatalogCache,
		m.PaymentIntents,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
