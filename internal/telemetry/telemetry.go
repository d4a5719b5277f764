// Package telemetry exposes Prometheus instrumentation for the HTTP
// surface and the ingestion pipeline.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the server and coordinator report into.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	ingestionsTotal   *prometheus.CounterVec
	entitiesIngested  prometheus.Counter
	embeddingsCreated prometheus.Counter
	embeddingFailures prometheus.Counter

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// New builds a metrics bundle on its own registry so tests can run
// side by side.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atlas_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ingestionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_ingestions_total",
			Help: "Ingestion jobs by terminal status.",
		}, []string{"status"}),
		entitiesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_entities_ingested_total",
			Help: "Entities written to the graph store.",
		}),
		embeddingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_embeddings_created_total",
			Help: "Embeddings stored in the vector store.",
		}),
		embeddingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_embedding_failures_total",
			Help: "Per-entity embedding failures skipped during ingestion.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_cache_hits_total",
			Help: "Query cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_cache_misses_total",
			Help: "Query cache misses.",
		}),
	}
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveIngestion records one finished ingestion job.
func (m *Metrics) ObserveIngestion(status string, entities, embeddings, failures int) {
	m.ingestionsTotal.WithLabelValues(status).Inc()
	m.entitiesIngested.Add(float64(entities))
	m.embeddingsCreated.Add(float64(embeddings))
	m.embeddingFailures.Add(float64(failures))
}

// ObserveCache records a cache lookup outcome.
func (m *Metrics) ObserveCache(hit bool) {
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// Handler serves the Prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
