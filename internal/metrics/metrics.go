package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/oakbuilders/bid-finder/internal/db"
	"github.com/oakbuilders/bid-finder/internal/logger"
)

// Record outcomes counted per source.
const (
	OutcomeSeen       = "seen"
	OutcomeNormalized = "normalized"
	OutcomeSkipped    = "skipped"
	OutcomeInserted   = "inserted"
	OutcomeMerged     = "merged"
	OutcomeUnchanged  = "unchanged"
)

// Metrics holds the ingestion collectors. A nil *Metrics records nothing.
type Metrics struct {
	records     *prometheus.CounterVec
	skips       *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	scores      prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidfinder_records_total",
			Help: "Raw records processed by source and outcome",
		}, []string{"source", "outcome"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidfinder_skipped_records_total",
			Help: "Records skipped during normalization by source and reason",
		}, []string{"source", "reason"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidfinder_ingest_runs_total",
			Help: "Ingestion runs by source and final status",
		}, []string{"source", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bidfinder_ingest_run_duration_seconds",
			Help:    "Wall time of ingestion runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"source"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bidfinder_opportunity_score",
			Help:    "Scores of upserted opportunities",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
	}
	reg.MustRegister(m.records, m.skips, m.runs, m.runDuration, m.scores)
	return m
}

func (m *Metrics) Record(source, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Skip(source, reason string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(source, OutcomeSkipped).Inc()
	m.skips.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) ObserveScore(score float64) {
	if m == nil {
		return
	}
	m.scores.Observe(score)
}

func (m *Metrics) RunFinished(source, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(source, status).Inc()
	m.runDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

var (
	opportunitiesDesc = prometheus.NewDesc(
		"bidfinder_opportunities",
		"Stored opportunities by status",
		[]string{"status"},
		nil,
	)
	expiredDesc = prometheus.NewDesc(
		"bidfinder_opportunities_expired",
		"Opportunities flagged expired",
		nil, nil,
	)
	highRelevanceDesc = prometheus.NewDesc(
		"bidfinder_opportunities_high_relevance",
		"Live opportunities scoring at or above the high relevance mark",
		nil, nil,
	)
)

// StatsReader is the part of the store the collector needs.
type StatsReader interface {
	Stats(ctx context.Context) (db.Stats, error)
}

// StoreCollector reads store statistics on each scrape.
type StoreCollector struct {
	store   StatsReader
	log     *zap.Logger
	timeout time.Duration
}

func NewStoreCollector(store StatsReader, log *zap.Logger) *StoreCollector {
	return &StoreCollector{store: store, log: logger.WithFields(log), timeout: 5 * time.Second}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- opportunitiesDesc
	ch <- expiredDesc
	ch <- highRelevanceDesc
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	st, err := c.store.Stats(ctx)
	if err != nil {
		c.log.Error("failed to collect store metrics", zap.Error(err))
		return
	}
	for status, n := range st.ByStatus {
		ch <- prometheus.MustNewConstMetric(opportunitiesDesc, prometheus.GaugeValue, float64(n), status)
	}
	ch <- prometheus.MustNewConstMetric(expiredDesc, prometheus.GaugeValue, float64(st.Expired))
	ch <- prometheus.MustNewConstMetric(highRelevanceDesc, prometheus.GaugeValue, float64(st.HighRelevance))
}
