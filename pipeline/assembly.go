package pipeline

import (
	"context"
	"fmt"

	"github.com/livecast/ad-transcoder/clients"
	"github.com/livecast/ad-transcoder/compute"
	xerrors "github.com/livecast/ad-transcoder/errors"
	"github.com/livecast/ad-transcoder/log"
	"github.com/livecast/ad-transcoder/metrics"
	"github.com/livecast/ad-transcoder/queue"
	"github.com/livecast/ad-transcoder/store"
)

// AssemblyHandler multiplexes a group's segment outputs into the final
// renditions and writes the terminal record state. Assembly is never retried:
// by the time it could run again the segment artifacts or the group state may
// already be gone, so any failure here is terminal for the whole job.
type AssemblyHandler struct {
	runner      compute.Runner
	ads         store.AdStore
	objectStore clients.ObjectStoreClient
	storage     clients.StorageConfig
	podPrefix   string
}

func NewAssemblyHandler(runner compute.Runner, ads store.AdStore, objectStore clients.ObjectStoreClient, storage clients.StorageConfig, podPrefix string) *AssemblyHandler {
	return &AssemblyHandler{
		runner:      runner,
		ads:         ads,
		objectStore: objectStore,
		storage:     storage,
		podPrefix:   podPrefix,
	}
}

func (h *AssemblyHandler) Handle(ctx context.Context, requestID string, job *AssemblyJob, delivery queue.Delivery) {
	paths := make([]string, len(job.SegmentPaths))
	for i, p := range job.SegmentPaths {
		paths[i] = p.StoragePath
	}

	identity := compute.WholeFileIdentity(h.podPrefix, job.AdID)
	result, err := h.runner.Assemble(ctx, identity, clients.AssembleRequest{
		SegmentPaths: paths,
		Bitrates:     job.Bitrates,
		Storage:      h.storage,
	})
	if err != nil {
		reason := xerrors.ComputeReason(err)
		metrics.Metrics.JobResults.WithLabelValues(string(JobKindAssembly), "false").Inc()
		if err := h.ads.MarkError(ctx, job.AdID, "Assembly failed: "+reason); err != nil {
			log.LogError(requestID, "error marking ad record as failed", err, "ad_id", job.AdID)
		}
		log.LogError(requestID, "Assembly permanently failed", err, "ad_id", job.AdID, "job_group_id", job.JobGroupID)
		if err := delivery.Ack(); err != nil {
			log.LogError(requestID, "error acking failed assembly job", err, "ad_id", job.AdID)
		}
		return
	}

	if err := h.ads.MarkReady(ctx, job.AdID, result); err != nil {
		log.LogError(requestID, "error marking ad record as ready", err, "ad_id", job.AdID)
	}
	h.cleanupSegmentArtifacts(requestID, job, paths)

	metrics.Metrics.JobResults.WithLabelValues(string(JobKindAssembly), "true").Inc()
	log.Log(requestID, "Assembly complete", "ad_id", job.AdID, "job_group_id", job.JobGroupID, "segments", job.SegmentCount)
	if err := delivery.Ack(); err != nil {
		log.LogError(requestID, "error acking assembly job", err, "ad_id", job.AdID)
	}
}

// cleanupSegmentArtifacts deletes the intermediate per-segment outputs once
// the final renditions exist. Best effort: leftovers cost storage, not
// correctness, and bucket lifecycle rules catch whatever this misses.
func (h *AssemblyHandler) cleanupSegmentArtifacts(requestID string, job *AssemblyJob, paths []string) {
	if h.objectStore == nil {
		return
	}
	if err := h.objectStore.DeleteObjects(paths); err != nil {
		log.LogError(requestID, "warning: error deleting segment artifacts", err, "job_group_id", job.JobGroupID)
		return
	}
	log.Log(requestID, "Deleted intermediate segment artifacts", "job_group_id", job.JobGroupID, "count", len(paths))
}

// adRecordFailureSink writes the terminal record state for groups the
// coordinator marks FAILED. Satisfies GroupFailureSink.
type adRecordFailureSink struct {
	ads store.AdStore
}

func NewAdRecordFailureSink(ads store.AdStore) GroupFailureSink {
	return &adRecordFailureSink{ads: ads}
}

func (s *adRecordFailureSink) GroupFailed(ctx context.Context, adID string, failure GroupFailure) {
	msg := fmt.Sprintf("Segment %s failed permanently: %s", failure.SegmentID, failure.Reason)
	if err := s.ads.MarkError(ctx, adID, msg); err != nil {
		log.LogNoRequestID("error marking ad record failed for job group",
			"ad_id", adID, "job_group_id", failure.JobGroupID, "err", err.Error())
	}
}
