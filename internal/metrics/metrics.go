// Package metrics holds the Prometheus collectors shared by the engine,
// the embedding client and the reranker. A nil *Metrics is valid and
// records nothing, so library code never has to check for it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docrag"

type Metrics struct {
	chunksIndexed     prometheus.Counter
	chunksSkipped     *prometheus.CounterVec
	summaryFallbacks  prometheus.Counter
	embeddingFailures *prometheus.CounterVec
	rerankOutcomes    *prometheus.CounterVec
	searchDuration    prometheus.Histogram
	indexSize         prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks accepted into the index.",
		}),
		chunksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_skipped_total",
			Help:      "Chunks skipped during indexing, by reason.",
		}, []string{"reason"}),
		summaryFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_fallbacks_total",
			Help:      "Chunks whose summary vector fell back to the detail vector.",
		}),
		embeddingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Texts that could not be embedded, by reason.",
		}, []string{"reason"}),
		rerankOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_total",
			Help:      "Rerank attempts, by outcome.",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Coarse-to-fine engine search latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Chunks in the currently loaded index.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.chunksIndexed,
			m.chunksSkipped,
			m.summaryFallbacks,
			m.embeddingFailures,
			m.rerankOutcomes,
			m.searchDuration,
			m.indexSize,
		)
	}
	return m
}

func (m *Metrics) ChunkIndexed() {
	if m == nil {
		return
	}
	m.chunksIndexed.Inc()
}

func (m *Metrics) ChunkSkipped(reason string) {
	if m == nil {
		return
	}
	m.chunksSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SummaryFallback() {
	if m == nil {
		return
	}
	m.summaryFallbacks.Inc()
}

func (m *Metrics) EmbeddingFailed(reason string) {
	if m == nil {
		return
	}
	m.embeddingFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RerankOutcome(outcome string) {
	if m == nil {
		return
	}
	m.rerankOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSearch(d time.Duration) {
	if m == nil {
		return
	}
	m.searchDuration.Observe(d.Seconds())
}

func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(n))
}
