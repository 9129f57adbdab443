package pipeline

import (
	"context"
	"time"

	"github.com/livecast/ad-transcoder/clients"
	"github.com/livecast/ad-transcoder/compute"
	xerrors "github.com/livecast/ad-transcoder/errors"
	"github.com/livecast/ad-transcoder/log"
	"github.com/livecast/ad-transcoder/metrics"
	"github.com/livecast/ad-transcoder/queue"
)

// SegmentHandler drives one segment's transcode and reports the outcome to
// the coordinator, which owns all group-level consequences. The handler never
// touches ad records.
type SegmentHandler struct {
	runner      compute.Runner
	coordinator *Coordinator
	storage     clients.StorageConfig
	podPrefix   string
	retryDelay  time.Duration
}

func NewSegmentHandler(runner compute.Runner, coordinator *Coordinator, storage clients.StorageConfig, podPrefix string, retryDelay time.Duration) *SegmentHandler {
	return &SegmentHandler{
		runner:      runner,
		coordinator: coordinator,
		storage:     storage,
		podPrefix:   podPrefix,
		retryDelay:  retryDelay,
	}
}

func (h *SegmentHandler) Handle(ctx context.Context, requestID string, job *SegmentTranscodeJob, delivery queue.Delivery) {
	identity := compute.SegmentIdentity(h.podPrefix, job.JobGroupID, job.SegmentID)
	result, err := h.runner.TranscodeSegment(ctx, identity, clients.TranscodeSegmentRequest{
		SourceKey:   job.SourceKey,
		StartTime:   job.StartTime,
		DurationSec: job.Duration,
		Bitrates:    job.Bitrates,
		Storage:     h.storage,
	})
	if err != nil {
		h.handleFailure(requestID, job, delivery, err)
		return
	}

	status := h.coordinator.SegmentCompleted(requestID, job, SegmentOutcome{
		SegmentID:   job.SegmentID,
		Index:       job.SegmentIndex,
		StoragePath: result.StoragePath,
	})
	metrics.Metrics.JobResults.WithLabelValues(string(JobKindSegment), "true").Inc()
	log.Log(requestID, "Segment transcode recorded",
		"job_group_id", job.JobGroupID, "segment_id", job.SegmentID, "group_status", string(status))
	if err := delivery.Ack(); err != nil {
		log.LogError(requestID, "error acking segment job", err, "segment_id", job.SegmentID)
	}
}

func (h *SegmentHandler) handleFailure(requestID string, job *SegmentTranscodeJob, delivery queue.Delivery, cause error) {
	reason := xerrors.ComputeReason(cause)
	metrics.Metrics.JobResults.WithLabelValues(string(JobKindSegment), "false").Inc()

	decision := h.coordinator.SegmentFailed(requestID, job, reason)
	if decision.ShouldRetry {
		metrics.Metrics.RetriesScheduled.WithLabelValues(string(JobKindSegment)).Inc()
		log.Log(requestID, "Scheduling segment transcode retry",
			"job_group_id", job.JobGroupID, "segment_id", job.SegmentID, "delay", h.retryDelay.String(), "err", reason)
		if err := delivery.RetryAfter(h.retryDelay, delivery.Body()); err != nil {
			log.LogError(requestID, "error scheduling segment retry", err, "segment_id", job.SegmentID)
		}
		return
	}

	if decision.JobFailed != nil {
		log.Log(requestID, "Segment failure was terminal for its job group",
			"job_group_id", decision.JobFailed.JobGroupID, "segment_id", decision.JobFailed.SegmentID, "err", decision.JobFailed.Reason)
	} else if decision.Status != GroupCollecting {
		log.Log(requestID, "Ignoring segment failure for resolved group",
			"job_group_id", job.JobGroupID, "segment_id", job.SegmentID, "group_status", string(decision.Status), "err", reason)
	}
	if err := delivery.Ack(); err != nil {
		log.LogError(requestID, "error acking failed segment job", err, "segment_id", job.SegmentID)
	}
}
