package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	xerrors "github.com/livecast/ad-transcoder/errors"
	"github.com/livecast/ad-transcoder/log"
	"github.com/livecast/ad-transcoder/metrics"
	"github.com/livecast/ad-transcoder/queue"
)

// Router classifies each message of a delivered batch and dispatches it to
// the matching handler. Messages are fully independent: each one runs on its
// own goroutine and no message's outcome can block another's.
type Router struct {
	legacy   *LegacyHandler
	segment  *SegmentHandler
	assembly *AssemblyHandler
}

func NewRouter(legacy *LegacyHandler, segment *SegmentHandler, assembly *AssemblyHandler) *Router {
	return &Router{
		legacy:   legacy,
		segment:  segment,
		assembly: assembly,
	}
}

// HandleBatch implements queue.BatchHandler.
func (r *Router) HandleBatch(batch []queue.Delivery) {
	for _, delivery := range batch {
		delivery := delivery
		go recovered(func() { r.dispatch(delivery) })
	}
}

func (r *Router) dispatch(delivery queue.Delivery) {
	parsed, err := ParseJob(delivery.Body())
	if err != nil {
		if !xerrors.IsUnretriable(err) {
			// left unacked for redelivery
			log.LogNoRequestID("transient error classifying job message", "err", err.Error())
			return
		}
		// a malformed message stays malformed on every redelivery, so it
		// must never requeue
		metrics.Metrics.MalformedMessages.Inc()
		log.LogNoRequestID("dropping malformed job message", "err", err.Error())
		if err := delivery.Reject(); err != nil {
			log.LogNoRequestID("error rejecting malformed message", "err", err.Error())
		}
		return
	}

	requestID := uuid.New().String()
	ctx := context.Background()
	metrics.Metrics.JobsConsumed.WithLabelValues(string(parsed.Kind)).Inc()

	switch parsed.Kind {
	case JobKindLegacy:
		log.AddContext(requestID, "kind", string(JobKindLegacy), "ad_id", parsed.Legacy.AdID)
		r.legacy.Handle(ctx, requestID, parsed.Legacy, delivery)
	case JobKindSegment:
		log.AddContext(requestID, "kind", string(JobKindSegment),
			"ad_id", parsed.Segment.AdID, "job_group_id", parsed.Segment.JobGroupID, "segment_id", parsed.Segment.SegmentID)
		r.segment.Handle(ctx, requestID, parsed.Segment, delivery)
	case JobKindAssembly:
		log.AddContext(requestID, "kind", string(JobKindAssembly),
			"ad_id", parsed.Assembly.AdID, "job_group_id", parsed.Assembly.JobGroupID)
		r.assembly.Handle(ctx, requestID, parsed.Assembly, delivery)
	default:
		// ParseJob only produces the three kinds above.
		panic(fmt.Sprintf("unhandled job kind %q", parsed.Kind))
	}
}

// recovered keeps a panicking handler from taking down the consumer. The
// message stays unacked so the broker redelivers it later.
func recovered(f func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoRequestID("panic in job handler goroutine, recovering", "err", fmt.Sprintf("%v", rec))
		}
	}()
	f()
}
