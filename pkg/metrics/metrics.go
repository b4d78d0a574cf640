package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission metrics
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oav_admissions_total",
		Help: "Validation session admission attempts by result.",
	}, []string{"result"})
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oav_sessions_live",
		Help: "Number of sessions holding a worker slot.",
	})

	// Traffic metrics
	SamplesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oav_samples_received_total",
		Help: "Live traffic samples received by the router.",
	})
	SamplesUnrouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oav_samples_unrouted_total",
		Help: "Live traffic samples that reached no session, by reason.",
	}, []string{"reason"})
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oav_sample_deliveries_total",
		Help: "Per-session sample deliveries by result.",
	}, []string{"result"})

	// Worker metrics
	WorkerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oav_worker_exits_total",
		Help: "Worker exits by outcome.",
	}, []string{"outcome"})
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oav_flush_failures_total",
		Help: "Result flushes rejected by the results store.",
	})
	WorkerRSSBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oav_worker_rss_bytes",
		Help: "Resident memory of worker processes.",
	}, []string{"session_id"})
	WorkerCPUPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oav_worker_cpu_percent",
		Help: "CPU usage of worker processes.",
	}, []string{"session_id"})
	ValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oav_validation_duration_seconds",
		Help:    "Time spent scoring one traffic sample.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	// Telemetry metrics
	TelemetryPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oav_trace_records_published_total",
		Help: "Trace records handed to a publisher.",
	}, []string{"publisher"})
	TelemetryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oav_trace_records_dropped_total",
		Help: "Trace records dropped because the publisher was saturated or failing.",
	}, []string{"publisher"})
)

// Result labels
const (
	ResultAdmitted         = "admitted"
	ResultCapacityExceeded = "capacity_exceeded"
	ResultInvalidDuration  = "invalid_duration"
	ResultDelivered        = "delivered"
	ResultDropped          = "dropped"
	ReasonNoMatch          = "no_match"
	ReasonInvalidURL       = "invalid_url"
)
