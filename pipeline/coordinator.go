package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/livecast/ad-transcoder/cache"
	"github.com/livecast/ad-transcoder/log"
	"github.com/livecast/ad-transcoder/metrics"
	"github.com/livecast/ad-transcoder/queue"
)

type GroupStatus string

const (
	// GroupCollecting means the group is still waiting on segment outcomes.
	GroupCollecting GroupStatus = "COLLECTING"
	// GroupCompleted and GroupFailed are terminal; a group never returns to
	// COLLECTING once it has left it.
	GroupCompleted GroupStatus = "COMPLETED"
	GroupFailed    GroupStatus = "FAILED"
)

// How long a resolved group's state lingers for late duplicate deliveries and
// the status endpoint before it is dropped.
const resolvedGroupRetention = 10 * time.Minute

// SegmentOutcome reports one segment's successful transcode to the
// coordinator.
type SegmentOutcome struct {
	SegmentID   string
	Index       int
	StoragePath string
}

// FailureDecision tells the segment handler what to do with a failed segment
// message.
type FailureDecision struct {
	ShouldRetry bool
	// Status is the group's status after accounting for this failure.
	Status GroupStatus
	// JobFailed is set when this failure pushed the group into FAILED.
	JobFailed *GroupFailure
}

// GroupFailure identifies the segment whose exhausted retry budget failed the
// whole group.
type GroupFailure struct {
	JobGroupID string
	SegmentID  string
	Reason     string
}

// GroupSnapshot is the read-only view served for observability.
type GroupSnapshot struct {
	JobGroupID        string `json:"jobGroupId"`
	Status            string `json:"status"`
	CompletedSegments int    `json:"completedSegments"`
	ExpectedSegments  int    `json:"expectedSegments"`
}

// GroupFailureSink receives terminal group failures. The coordinator never
// touches ad records itself; the sink is the handler that does.
type GroupFailureSink interface {
	GroupFailed(ctx context.Context, adID string, failure GroupFailure)
}

// jobGroup is the fan-in state for one split creative. The mutex is the only
// synchronization in the whole fan-in: all coordinator operations for a group
// run under it, one at a time, while distinct groups proceed concurrently.
type jobGroup struct {
	mu sync.Mutex

	adID     string
	bitrates []int
	expected int

	status    GroupStatus
	completed map[string]SegmentOutcome
	failures  map[string]int
}

// Coordinator is the fan-in authority: it decides when a job group has every
// segment recorded and when it has permanently failed, and it is the only
// component that enqueues assembly jobs.
type Coordinator struct {
	groups            *cache.Cache[*jobGroup]
	publisher         queue.Publisher
	failureSink       GroupFailureSink
	maxSegmentRetries int
}

func NewCoordinator(publisher queue.Publisher, failureSink GroupFailureSink, maxSegmentRetries int) *Coordinator {
	return &Coordinator{
		groups:            cache.New[*jobGroup](),
		publisher:         publisher,
		failureSink:       failureSink,
		maxSegmentRetries: maxSegmentRetries,
	}
}

// SegmentCompleted records one segment's output. The call that records the
// final expected segment transitions the group to COMPLETED and enqueues the
// assembly job; duplicates and post-resolution stragglers change nothing.
func (c *Coordinator) SegmentCompleted(requestID string, job *SegmentTranscodeJob, outcome SegmentOutcome) GroupStatus {
	g := c.group(job)
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.completed[outcome.SegmentID]; seen {
		log.Log(requestID, "Ignoring duplicate segment completion", "job_group_id", job.JobGroupID, "segment_id", outcome.SegmentID)
		return g.status
	}
	if g.status != GroupCollecting {
		// Possible wasted compute: the segment finished after the group was
		// already resolved.
		log.Log(requestID, "Ignoring segment completion for resolved group",
			"job_group_id", job.JobGroupID, "segment_id", outcome.SegmentID, "group_status", string(g.status))
		return g.status
	}

	g.completed[outcome.SegmentID] = outcome
	if len(g.completed) < g.expected {
		return GroupCollecting
	}

	g.status = GroupCompleted
	metrics.Metrics.GroupsCompleted.Inc()
	c.enqueueAssembly(requestID, job.JobGroupID, g)
	c.scheduleEviction(job.JobGroupID)
	return GroupCompleted
}

// SegmentFailed counts one failed attempt against the segment's retry budget.
// Exhausting the budget fails the whole group, exactly once.
func (c *Coordinator) SegmentFailed(requestID string, job *SegmentTranscodeJob, reason string) FailureDecision {
	g := c.group(job)
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != GroupCollecting {
		return FailureDecision{ShouldRetry: false, Status: g.status}
	}

	g.failures[job.SegmentID]++
	if g.failures[job.SegmentID] < c.maxSegmentRetries {
		return FailureDecision{ShouldRetry: true, Status: GroupCollecting}
	}

	g.status = GroupFailed
	metrics.Metrics.GroupsFailed.Inc()
	failure := GroupFailure{JobGroupID: job.JobGroupID, SegmentID: job.SegmentID, Reason: reason}
	log.Log(requestID, "Job group failed: segment exhausted its retry budget",
		"job_group_id", job.JobGroupID, "segment_id", job.SegmentID, "attempts", g.failures[job.SegmentID], "err", reason)
	c.failureSink.GroupFailed(context.Background(), g.adID, failure)
	c.scheduleEviction(job.JobGroupID)
	return FailureDecision{ShouldRetry: false, Status: GroupFailed, JobFailed: &failure}
}

// GroupStatus returns a snapshot for the status endpoint. The bool reports
// whether the group is known.
func (c *Coordinator) GroupStatus(jobGroupID string) (GroupSnapshot, bool) {
	g := c.groups.Get(jobGroupID)
	if g == nil {
		return GroupSnapshot{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return GroupSnapshot{
		JobGroupID:        jobGroupID,
		Status:            string(g.status),
		CompletedSegments: len(g.completed),
		ExpectedSegments:  g.expected,
	}, true
}

// Groups lists a snapshot of every tracked job group, ordered by id. Resolved
// groups appear until their retention window lapses.
func (c *Coordinator) Groups() []GroupSnapshot {
	ids := c.groups.GetKeys()
	sort.Strings(ids)
	snapshots := make([]GroupSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, known := c.GroupStatus(id); known {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots
}

// group fetches the state for the job's group, creating it on the first
// message that references the jobGroupId. The expected segment count is fixed
// at creation and never changes afterwards.
func (c *Coordinator) group(job *SegmentTranscodeJob) *jobGroup {
	return c.groups.GetOrStore(job.JobGroupID, &jobGroup{
		adID:      job.AdID,
		bitrates:  job.Bitrates,
		expected:  job.SegmentCount,
		status:    GroupCollecting,
		completed: map[string]SegmentOutcome{},
		failures:  map[string]int{},
	})
}

// enqueueAssembly publishes the assembly job with the recorded paths in
// segment order. Caller holds the group lock, which is what makes the
// transition and the enqueue a single atomic step per group.
func (c *Coordinator) enqueueAssembly(requestID, jobGroupID string, g *jobGroup) {
	outcomes := make([]SegmentOutcome, 0, len(g.completed))
	for _, o := range g.completed {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })

	paths := make([]SegmentPath, len(outcomes))
	for i, o := range outcomes {
		paths[i] = SegmentPath{SegmentID: o.SegmentID, StoragePath: o.StoragePath}
	}

	body, err := json.Marshal(AssemblyJob{
		Type:         string(JobKindAssembly),
		AdID:         g.adID,
		JobGroupID:   jobGroupID,
		SegmentPaths: paths,
		SegmentCount: g.expected,
		Bitrates:     g.bitrates,
	})
	if err != nil {
		log.LogError(requestID, "error marshaling assembly job", err, "job_group_id", jobGroupID)
		return
	}
	if err := c.publisher.Publish(context.Background(), body); err != nil {
		log.LogError(requestID, "error enqueueing assembly job", err, "job_group_id", jobGroupID)
		return
	}
	log.Log(requestID, "All segments recorded, assembly enqueued", "job_group_id", jobGroupID, "segments", g.expected)
}

// scheduleEviction drops a resolved group's state after a grace window. The
// window lets duplicate deliveries hit the resolved-group no-op paths rather
// than implicitly recreating a fresh group.
func (c *Coordinator) scheduleEviction(jobGroupID string) {
	time.AfterFunc(resolvedGroupRetention, func() {
		c.groups.Remove(jobGroupID)
	})
}
