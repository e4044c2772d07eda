// Package metric exposes Prometheus metrics for the client facade.
//
// Every method is safe on a nil *Metrics, which disables collection.
package metric

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bassista/go_learn/internal/link"
	"github.com/bassista/go_learn/internal/operation"
)

const namespace = "go_learn"

// Metrics holds the client collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec   // By kind, channel and outcome (ok/graphql_error/transport_error)
	duration      *prometheus.HistogramVec // By kind and channel, until the first result
	cacheReads    *prometheus.CounterVec   // By result (hit/miss)
	invalidations prometheus.Counter
	subscriptions prometheus.Gauge
}

// New creates the collectors and registers them, with the Go and process
// collectors, in a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "operations_total",
			Help:      "Total number of GraphQL operations by kind, channel and outcome",
		}, []string{"kind", "channel", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "first_result_seconds",
			Help:      "Time from request to first result in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "channel"}),

		cacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Total number of cache reads by result",
		}, []string{"result"}),

		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "invalidations_total",
			Help:      "Total number of sessions ended by a rejected credential",
		}),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "active_subscriptions",
			Help:      "Number of subscriptions currently open",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.operations, m.duration, m.cacheReads, m.invalidations, m.subscriptions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the collectors are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts every operation passing through the pipeline.
func (m *Metrics) Middleware() link.Middleware {
	return func(next link.Link) link.Link {
		if m == nil {
			return next
		}
		return link.Func(func(ctx context.Context, op *operation.Operation) *link.Stream {
			kind := string(op.Kind())
			channel := string(link.Route(op))
			start := time.Now()
			first := true
			failed := false

			return link.Tap(ctx, next.Request(ctx, op),
				func(resp *link.Response) {
					if first {
						m.duration.WithLabelValues(kind, channel).Observe(time.Since(start).Seconds())
						first = false
					}
					outcome := "ok"
					if len(resp.Errors) > 0 {
						outcome = "graphql_error"
					}
					m.operations.WithLabelValues(kind, channel, outcome).Inc()
				},
				func(error) {
					if !failed {
						failed = true
						m.operations.WithLabelValues(kind, channel, "transport_error").Inc()
					}
				},
			)
		})
	}
}

// CacheRead records a cache lookup.
func (m *Metrics) CacheRead(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheReads.WithLabelValues(result).Inc()
}

// SessionInvalidated has the signature of a session.OnInvalidate hook.
func (m *Metrics) SessionInvalidated(context.Context) {
	if m == nil {
		return
	}
	m.invalidations.Inc()
}

// SubscriptionOpened and SubscriptionClosed track open subscriptions.
func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}
