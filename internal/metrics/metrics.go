package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/mentor/internal/ledger"
)

// Metrics holds the Prometheus metrics for transcript analysis.
type Metrics struct {
	// Agent metrics
	AgentRuns    *prometheus.CounterVec
	AgentLatency *prometheus.HistogramVec

	// Ledger metrics
	EventsProcessed     prometheus.Counter
	CandidatesExtracted prometheus.Counter
	LessonsAccepted     prometheus.Counter
	DuplicatesRejected  prometheus.Counter
	CommitFailures      prometheus.Counter
	EventDuration       prometheus.Histogram
	DedupRate           prometheus.Gauge
	Plateaued           prometheus.Gauge
	CorpusSize          prometheus.Gauge
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AgentRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentor_agent_runs_total",
				Help: "Agent runs by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		AgentLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mentor_agent_duration_seconds",
				Help:    "Duration of one agent analysis in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to 256s
			},
			[]string{"agent"},
		),
		EventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "mentor_events_processed_total",
			Help: "Processing events committed to the ledger",
		}),
		CandidatesExtracted: f.NewCounter(prometheus.CounterOpts{
			Name: "mentor_lesson_candidates_total",
			Help: "Lesson candidates extracted from agent results",
		}),
		LessonsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "mentor_lessons_accepted_total",
			Help: "Lessons accepted into the corpus",
		}),
		DuplicatesRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "mentor_lessons_duplicate_total",
			Help: "Lesson candidates rejected as duplicates",
		}),
		CommitFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mentor_ledger_commit_failures_total",
			Help: "Processing events that could not be recorded",
		}),
		EventDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mentor_event_duration_seconds",
			Help:    "Wall time of a full transcript analysis in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
		}),
		DedupRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "mentor_dedup_rate",
			Help: "Cumulative duplicates over cumulative raw candidates",
		}),
		Plateaued: f.NewGauge(prometheus.GaugeOpts{
			Name: "mentor_plateaued",
			Help: "1 once a learning plateau has been detected",
		}),
		CorpusSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "mentor_corpus_lessons",
			Help: "Lessons recorded in the corpus",
		}),
	}
}

// ObserveAgent records one agent run.
func (m *Metrics) ObserveAgent(agent string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AgentRuns.WithLabelValues(agent, outcome).Inc()
	m.AgentLatency.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordEvent records a committed processing event.
func (m *Metrics) RecordEvent(ev *ledger.ProcessingEvent) {
	m.EventsProcessed.Inc()
	m.CandidatesExtracted.Add(float64(ev.CandidatesExtracted))
	m.LessonsAccepted.Add(float64(ev.LessonsAccepted))
	m.DuplicatesRejected.Add(float64(ev.LessonsRejectedAsDuplicate))
	m.EventDuration.Observe(ev.DurationSeconds)
}

// SetLedgerState refreshes the ledger gauges.
func (m *Metrics) SetLedgerState(totals ledger.GlobalTotals, corpusSize int) {
	m.DedupRate.Set(totals.DedupRate)
	m.CorpusSize.Set(float64(corpusSize))
	if totals.Plateau.IsPlateaued {
		m.Plateaued.Set(1)
	} else {
		m.Plateaued.Set(0)
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
