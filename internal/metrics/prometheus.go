package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcfd_request_duration_seconds",
			Help:    "Generation request duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcfd_request_total",
			Help: "Total number of generation requests",
		},
		[]string{"mode", "status"},
	)

	RetrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcfd_retrieval_results",
			Help:    "Number of retrieval matches returned per query",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"corpus"},
	)

	GuardrailSanitized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcfd_guardrail_sanitized_total",
			Help: "Responses rewritten by the banned-term sanitizer",
		},
	)

	GuardrailRewrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcfd_guardrail_rewrites_total",
			Help: "Responses rewritten for readability",
		},
	)

	CorpusRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcfd_corpus_rebuilds_total",
			Help: "Explicit corpus index rebuilds",
		},
		[]string{"corpus"},
	)

	DocumentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcfd_documents_indexed_total",
			Help: "Source documents read into corpus indexes",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcfd_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcfd_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(RequestTotal)
	prometheus.MustRegister(RetrievalResults)
	prometheus.MustRegister(GuardrailSanitized)
	prometheus.MustRegister(GuardrailRewrites)
	prometheus.MustRegister(CorpusRebuilds)
	prometheus.MustRegister(DocumentsIndexed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
