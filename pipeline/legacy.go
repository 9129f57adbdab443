package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/livecast/ad-transcoder/clients"
	"github.com/livecast/ad-transcoder/compute"
	"github.com/livecast/ad-transcoder/config"
	xerrors "github.com/livecast/ad-transcoder/errors"
	"github.com/livecast/ad-transcoder/log"
	"github.com/livecast/ad-transcoder/metrics"
	"github.com/livecast/ad-transcoder/queue"
	"github.com/livecast/ad-transcoder/store"
)

// LegacyHandler drives the whole-file path: one compute call for the entire
// source, retried at the message level with growing delays.
type LegacyHandler struct {
	runner    compute.Runner
	ads       store.AdStore
	locks     clients.LockClient
	storage   clients.StorageConfig
	podPrefix string
}

func NewLegacyHandler(runner compute.Runner, ads store.AdStore, locks clients.LockClient, storage clients.StorageConfig, podPrefix string) *LegacyHandler {
	return &LegacyHandler{
		runner:    runner,
		ads:       ads,
		locks:     locks,
		storage:   storage,
		podPrefix: podPrefix,
	}
}

func (h *LegacyHandler) Handle(ctx context.Context, requestID string, job *TranscodeJob, delivery queue.Delivery) {
	if err := h.ads.MarkProcessing(ctx, job.AdID); err != nil {
		log.LogError(requestID, "error marking ad record as processing", err, "ad_id", job.AdID)
	}

	identity := compute.WholeFileIdentity(h.podPrefix, job.AdID)
	result, err := h.runner.Transcode(ctx, identity, clients.TranscodeRequest{
		SourceKey: job.SourceKey,
		Bitrates:  job.Bitrates,
		Storage:   h.storage,
	})
	if err != nil {
		h.handleFailure(ctx, requestID, job, delivery, err)
		return
	}

	if err := h.ads.MarkReady(ctx, job.AdID, result); err != nil {
		log.LogError(requestID, "error marking ad record as ready", err, "ad_id", job.AdID)
	}
	if job.IsOnDemand {
		// Best effort: the lock has its own TTL, so a failed release only
		// delays the next on-demand request instead of breaking anything.
		if err := h.locks.Release(ctx, job.AdID, job.Bitrates); err != nil {
			log.LogError(requestID, "warning: error releasing on-demand transcode lock", err, "ad_id", job.AdID)
		}
	}
	metrics.Metrics.JobResults.WithLabelValues(string(JobKindLegacy), "true").Inc()
	log.Log(requestID, "Whole-file transcode complete", "ad_id", job.AdID, "variants", len(result.Variants))
	if err := delivery.Ack(); err != nil {
		log.LogError(requestID, "error acking transcode job", err, "ad_id", job.AdID)
	}
}

func (h *LegacyHandler) handleFailure(ctx context.Context, requestID string, job *TranscodeJob, delivery queue.Delivery, cause error) {
	reason := xerrors.ComputeReason(cause)
	metrics.Metrics.JobResults.WithLabelValues(string(JobKindLegacy), "false").Inc()

	attempt := job.RetryCount + 1
	if attempt > config.LegacyMaxRetries {
		msg := fmt.Sprintf("Failed after %d attempts: %s", config.LegacyMaxRetries, reason)
		if err := h.ads.MarkError(ctx, job.AdID, msg); err != nil {
			log.LogError(requestID, "error marking ad record as failed", err, "ad_id", job.AdID)
		}
		log.LogError(requestID, "Whole-file transcode permanently failed", cause, "ad_id", job.AdID)
		if err := delivery.Ack(); err != nil {
			log.LogError(requestID, "error acking failed transcode job", err, "ad_id", job.AdID)
		}
		return
	}

	msg := fmt.Sprintf("Retry %d/%d: %s", attempt, config.LegacyMaxRetries, reason)
	if err := h.ads.MarkQueued(ctx, job.AdID, msg); err != nil {
		log.LogError(requestID, "error requeueing ad record", err, "ad_id", job.AdID)
	}

	retried := *job
	retried.RetryCount = attempt
	body, err := json.Marshal(retried)
	if err != nil {
		log.LogError(requestID, "error marshaling retried transcode job", err, "ad_id", job.AdID)
		return
	}
	delay := config.LegacyRetryDelay(attempt)
	metrics.Metrics.RetriesScheduled.WithLabelValues(string(JobKindLegacy)).Inc()
	log.Log(requestID, "Scheduling whole-file transcode retry", "ad_id", job.AdID, "attempt", attempt, "delay", delay.String(), "err", reason)
	if err := delivery.RetryAfter(delay, body); err != nil {
		log.LogError(requestID, "error scheduling transcode retry", err, "ad_id", job.AdID)
	}
}
