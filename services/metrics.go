package services

import "github.com/prometheus/client_golang/prometheus"

var (
	papersInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paper_alerts_papers_inserted_total",
		Help: "Total number of new papers added to the database.",
	})
	papersMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paper_alerts_papers_merged_total",
		Help: "Total number of re-recommended papers merged into existing rows.",
	})
	parseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paper_alerts_parse_failures_total",
		Help: "Alert fragments that could not be parsed.",
	})
	embeddingFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paper_alerts_embedding_failures_total",
		Help: "Embedding attempts that failed.",
	})
	enrichmentFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_alerts_enrichment_failures_total",
		Help: "Failed metadata enrichment calls by provider.",
	}, []string{"provider"})
	searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_alerts_searches_total",
		Help: "Searches served by the mode actually used.",
	}, []string{"mode"})
	searchFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paper_alerts_search_fallbacks_total",
		Help: "Semantic searches that degraded to keyword mode.",
	})
	ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paper_alerts_ingest_duration_seconds",
		Help:    "Duration of ingestion runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(
		papersInserted,
		papersMerged,
		parseFailures,
		embeddingFailures,
		enrichmentFailures,
		searches,
		searchFallbacks,
		ingestDuration,
	)
}
