package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/wiki-character-crawler/internal/progress"
)

// Record outcome labels.
const (
	outcomeDropped   = "dropped"
	outcomeRejected  = "rejected"
	outcomePersisted = "persisted"
	outcomeFailed    = "persist_failed"
)

// PrometheusSink turns progress events into crawl counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRuntime    *prometheus.HistogramVec

	recordsListed  prometheus.Counter
	recordOutcomes *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	sectionsFilled *prometheus.CounterVec

	pageFetches   *prometheus.CounterVec
	pageBytes     *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charcrawler_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charcrawler_runs_completed_total",
			Help: "Crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charcrawler_run_runtime_seconds",
			Help:    "Wall time per crawl run.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"result"}),
		recordsListed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charcrawler_records_listed_total",
			Help: "Character rows admitted from the listing page.",
		}),
		recordOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charcrawler_record_outcomes_total",
			Help: "Final record outcomes.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charcrawler_fallbacks_issued_total",
			Help: "Sub-page fetches issued per section.",
		}, []string{"section"}),
		sectionsFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charcrawler_sections_filled_total",
			Help: "Sections resolved per section.",
		}, []string{"section"}),
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charcrawler_page_fetches_total",
			Help: "Successful page fetches by page kind and status class.",
		}, []string{"kind", "status_class"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charcrawler_page_bytes_total",
			Help: "Bytes downloaded by page kind.",
		}, []string{"kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charcrawler_fetch_duration_seconds",
			Help:    "Fetch duration by page kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"kind"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.recordsListed,
		s.recordOutcomes,
		s.fallbacks,
		s.sectionsFilled,
		s.pageFetches,
		s.pageBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.completeRun("success", evt)
	case progress.StageRunError:
		s.completeRun("error", evt)
	case progress.StageRecordListed:
		s.recordsListed.Inc()
	case progress.StageRecordDropped:
		s.recordOutcomes.WithLabelValues(outcomeDropped).Inc()
	case progress.StageRecordRejected:
		s.recordOutcomes.WithLabelValues(outcomeRejected).Inc()
	case progress.StageRecordPersisted:
		s.recordOutcomes.WithLabelValues(outcomePersisted).Inc()
	case progress.StageRecordFailed:
		s.recordOutcomes.WithLabelValues(outcomeFailed).Inc()
	case progress.StageFallbackIssued:
		s.fallbacks.WithLabelValues(evt.Section).Inc()
	case progress.StageSectionFilled:
		s.sectionsFilled.WithLabelValues(evt.Section).Inc()
	case progress.StagePageFetched:
		s.observePage(evt)
	}
}

func (s *PrometheusSink) completeRun(result string, evt progress.Event) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observePage(evt progress.Event) {
	class := evt.StatusClass
	if class == "" {
		class = progress.StatusOther
	}
	s.pageFetches.WithLabelValues(evt.Kind, string(class)).Inc()
	if evt.Bytes > 0 {
		s.pageBytes.WithLabelValues(evt.Kind).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(evt.Kind).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
