package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samples_ingested_total",
		Help: "Total number of telemetry samples accepted, by source",
	}, []string{"source"})

	SamplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "samples_dropped_total",
		Help: "Samples rejected because the ingest queue was full",
	})

	SamplesStoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "samples_store_errors_total",
		Help: "Samples that could not be written to the metrics store",
	})

	AnomaliesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anomalies_detected_total",
		Help: "Total number of anomalies detected",
	})

	HealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "health_score",
		Help: "Latest published health score",
	})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "analysis_pass_duration_seconds",
		Help:    "Duration of analysis passes",
		Buckets: prometheus.DefBuckets,
	})

	AnalysisFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_pass_failures_total",
		Help: "Analysis passes that did not publish a result",
	}, []string{"reason"})

	ModelTrainings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anomaly_model_trainings_total",
		Help: "Anomaly model training attempts",
	}, []string{"result"})

	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_created_total",
		Help: "Alerts created, by metric and severity",
	}, []string{"metric", "severity"})

	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alerts_suppressed_total",
		Help: "Threshold breaches folded into an existing open alert",
	})

	AlertsEscalated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alerts_escalated_total",
		Help: "Alerts escalated to the admin tier",
	})

	ActiveAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alerts_active",
		Help: "Unresolved alerts",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification attempts, by result",
	}, []string{"result"})
)
