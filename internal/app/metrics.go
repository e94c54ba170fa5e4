package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for job runs and deliveries.
type Metrics struct {
	JobRuns         *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	ItemsProcessed  *prometheus.CounterVec
	ItemsUpdated    *prometheus.CounterVec
	ItemsNotified   *prometheus.CounterVec
	ItemErrors      *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	CancelOutcomes  *prometheus.CounterVec
	LastSuccessTime *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg. Pass a fresh registry in
// tests; a nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subsnooze",
			Name:      "job_runs_total",
			Help:      "Job runs by job and outcome",
		}, []string{"job", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "subsnooze",
			Name:      "job_duration_seconds",
			Help:      "Wall time of a full job run",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subsnooze",
			Name:      "job_items_processed_total",
			Help:      "Subscriptions examined by a job",
		}, []string{"job"}),
		ItemsUpdated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subsnooze",
			Name:      "job_items_updated_total",
			Help:      "Subscriptions whose renewal period was rolled over",
		}, []string{"job"}),
		ItemsNotified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subsnooze",
			Name:      "job_items_notified_total",
			Help:      "Notifications written by a job",
		}, []string{"job"}),
		ItemErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subsnooze",
			Name:      "job_item_errors_total",
			Help:      "Per-subscription failures by job and stage",
		}, []string{"job", "stage"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subsnooze",
			Name:      "delivery_requests_total",
			Help:      "Push and email delivery requests by channel and outcome",
		}, []string{"channel", "outcome"}),
		CancelOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subsnooze",
			Name:      "cancellation_events_total",
			Help:      "Cancellation attempts and verification outcomes",
		}, []string{"event"}),
		LastSuccessTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "subsnooze",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last job run without item errors",
		}, []string{"job"}),
	}
}

func (m *Metrics) observeRun(res BatchResult, runErr error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case runErr != nil:
		outcome = "failed"
	case len(res.Errors) > 0:
		outcome = "partial"
	}
	m.JobRuns.WithLabelValues(res.Job, outcome).Inc()
	m.JobDuration.WithLabelValues(res.Job).Observe(res.Duration.Seconds())
	m.ItemsProcessed.WithLabelValues(res.Job).Add(float64(res.Processed))
	m.ItemsUpdated.WithLabelValues(res.Job).Add(float64(res.Updated))
	m.ItemsNotified.WithLabelValues(res.Job).Add(float64(res.Notified))
	for _, e := range res.Errors {
		m.ItemErrors.WithLabelValues(res.Job, e.Stage).Inc()
	}
	if outcome == "success" {
		m.LastSuccessTime.WithLabelValues(res.Job).Set(float64(res.StartedAt.Add(res.Duration).Unix()))
	}
}

func (m *Metrics) observeDelivery(channel, outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) observeCancellation(event string) {
	if m == nil {
		return
	}
	m.CancelOutcomes.WithLabelValues(event).Inc()
}

func since(start time.Time, now func() time.Time) time.Duration {
	d := now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
