package etl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdtp_migrator_executions_total",
			Help: "Finished migration executions by final status",
		},
		[]string{"status"},
	)

	executionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tdtp_migrator_executions_active",
			Help: "Executions currently running or paused",
		},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdtp_migrator_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
		},
		[]string{"stage", "status"},
	)

	// recordsTotal - строки, прошедшие стадию (result = processed | failed)
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdtp_migrator_records_total",
			Help: "Records handled by pipeline stages",
		},
		[]string{"stage", "result"},
	)

	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdtp_migrator_validations_total",
			Help: "Validation results by kind and status",
		},
		[]string{"kind", "status"},
	)

	attachmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdtp_migrator_attachments_total",
			Help: "Attachments handled by the load-facts stage",
		},
		[]string{"status"},
	)
)

func observeStage(res StageResult) {
	stageDuration.WithLabelValues(string(res.Stage), string(res.Status)).Observe(res.Duration().Seconds())
	recordsTotal.WithLabelValues(string(res.Stage), "processed").Add(float64(res.RecordsProcessed))
	recordsTotal.WithLabelValues(string(res.Stage), "failed").Add(float64(res.RecordsFailed))
}
