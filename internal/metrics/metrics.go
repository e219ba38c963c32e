package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles that failed or overran their deadline.
	OutcomeError = "error"

	// ActionCreated labels a newly inserted incident.
	ActionCreated = "created"
	// ActionExtended labels an insight appended to an existing incident.
	ActionExtended = "extended"
)

var (
	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights_engine",
			Name:      "anomalies_detected_total",
			Help:      "Anomalous samples flagged by the z-score detector, partitioned by metric type.",
		},
		[]string{"metric_type"},
	)

	detectionsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights_engine",
			Name:      "detections_skipped_total",
			Help:      "Detection calls that produced no result, partitioned by reason.",
		},
		[]string{"reason"},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights_engine",
			Name:      "incidents_total",
			Help:      "Incident writes by correlation type and action (created or extended).",
		},
		[]string{"correlation_type", "action"},
	)

	correlationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "insights_engine",
			Name:      "correlation_failures_total",
			Help:      "Correlation groups that could not be persisted.",
		},
	)

	summariesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights_engine",
			Name:      "incident_summaries_total",
			Help:      "Generated incident summaries, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	forecastCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights_engine",
			Name:      "forecast_cache_total",
			Help:      "Fleet forecast cache lookups, partitioned by result.",
		},
		[]string{"result"},
	)

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insights_engine",
			Name:      "monitoring_cycles_total",
			Help:      "Monitoring cycles run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "insights_engine",
			Name:      "monitoring_cycle_seconds",
			Help:      "Monitoring cycle latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

// Register attaches engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		anomaliesTotal,
		detectionsSkippedTotal,
		incidentsTotal,
		correlationFailuresTotal,
		summariesTotal,
		forecastCacheTotal,
		cyclesTotal,
		cycleDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnomaly counts one anomalous detection.
func ObserveAnomaly(metricType string) {
	anomaliesTotal.WithLabelValues(metricType).Inc()
}

// ObserveDetectionSkipped counts a detection that returned no result.
func ObserveDetectionSkipped(reason string) {
	detectionsSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveIncident counts an incident write.
func ObserveIncident(correlationType, action string) {
	incidentsTotal.WithLabelValues(correlationType, action).Inc()
}

// ObserveCorrelationFailure counts a correlation group that failed to persist.
func ObserveCorrelationFailure() {
	correlationFailuresTotal.Inc()
}

// ObserveSummary records whether a generated summary was usable.
func ObserveSummary(ok bool) {
	label := OutcomeSuccess
	if !ok {
		label = OutcomeError
	}
	summariesTotal.WithLabelValues(label).Inc()
}

// ObserveForecastCache records a cache hit or miss for the fleet overview.
func ObserveForecastCache(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	forecastCacheTotal.WithLabelValues(label).Inc()
}

// ObserveCycle records a monitoring cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}
