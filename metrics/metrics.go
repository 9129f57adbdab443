package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type AdTranscoderMetrics struct {
	JobsConsumed       *prometheus.CounterVec
	JobResults         *prometheus.CounterVec
	RetriesScheduled   *prometheus.CounterVec
	MalformedMessages  prometheus.Counter
	GroupsCompleted    prometheus.Counter
	GroupsFailed       prometheus.Counter
	ComputeCallSec     *prometheus.HistogramVec
	PodLifecycleEvents *prometheus.CounterVec
}

func NewMetrics() *AdTranscoderMetrics {
	m := &AdTranscoderMetrics{
		JobsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_jobs_consumed_total",
			Help: "Job messages consumed from the queue, broken up by job kind",
		}, []string{"kind"}),
		JobResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_job_results_total",
			Help: "Job message outcomes, broken up by job kind and success",
		}, []string{"kind", "success"}),
		RetriesScheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_retries_scheduled_total",
			Help: "Message-level retries scheduled, broken up by job kind",
		}, []string{"kind"}),
		MalformedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_malformed_messages_total",
			Help: "Messages dropped because they could not be classified or parsed",
		}),
		GroupsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_job_groups_completed_total",
			Help: "Job groups that collected every segment and enqueued assembly",
		}),
		GroupsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_job_groups_failed_total",
			Help: "Job groups that failed because a segment exhausted its retry budget",
		}),
		ComputeCallSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcode_compute_call_duration_seconds",
			Help:    "Time taken by calls to the transcoding runner, broken up by operation",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"operation"}),
		PodLifecycleEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_pod_lifecycle_events_total",
			Help: "Runner pod lifecycle events (started, stopped, errored)",
		}, []string{"event"}),
	}

	return m
}

// Metrics is the global instance, set up once at startup.
var Metrics = NewMetrics()
