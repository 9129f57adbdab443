package pipeline

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livecast/ad-transcoder/queue"
)

func newTestCoordinator(maxRetries int) (*Coordinator, *queue.StubPublisher, *stubFailureSink) {
	publisher := &queue.StubPublisher{}
	sink := &stubFailureSink{}
	return NewCoordinator(publisher, sink, maxRetries), publisher, sink
}

func TestGroupCompletesExactlyOnceRegardlessOfOrder(t *testing.T) {
	coord, publisher, _ := newTestCoordinator(3)

	// out-of-order arrival: 2, 0, 1
	require.Equal(t, GroupCollecting, coord.SegmentCompleted("r1", segmentJob("g1", "seg-2", 2, 3), SegmentOutcome{SegmentID: "seg-2", Index: 2, StoragePath: "segments/g1/2.ts"}))
	require.Equal(t, GroupCollecting, coord.SegmentCompleted("r2", segmentJob("g1", "seg-0", 0, 3), SegmentOutcome{SegmentID: "seg-0", Index: 0, StoragePath: "segments/g1/0.ts"}))
	require.Equal(t, GroupCompleted, coord.SegmentCompleted("r3", segmentJob("g1", "seg-1", 1, 3), SegmentOutcome{SegmentID: "seg-1", Index: 1, StoragePath: "segments/g1/1.ts"}))

	require.Len(t, publisher.Published, 1)
	var assembly AssemblyJob
	require.NoError(t, json.Unmarshal(publisher.Published[0], &assembly))
	require.Equal(t, "assembly", assembly.Type)
	require.Equal(t, "ad-1", assembly.AdID)
	require.Equal(t, "g1", assembly.JobGroupID)
	require.Equal(t, 3, assembly.SegmentCount)
	// paths come out in segment order, not arrival order
	require.Equal(t, []SegmentPath{
		{SegmentID: "seg-0", StoragePath: "segments/g1/0.ts"},
		{SegmentID: "seg-1", StoragePath: "segments/g1/1.ts"},
		{SegmentID: "seg-2", StoragePath: "segments/g1/2.ts"},
	}, assembly.SegmentPaths)
}

func TestDuplicateCompletionIsIdempotent(t *testing.T) {
	coord, publisher, _ := newTestCoordinator(3)

	coord.SegmentCompleted("r1", segmentJob("g1", "seg-0", 0, 2), SegmentOutcome{SegmentID: "seg-0", Index: 0, StoragePath: "a"})
	require.Equal(t, GroupCollecting, coord.SegmentCompleted("r2", segmentJob("g1", "seg-0", 0, 2), SegmentOutcome{SegmentID: "seg-0", Index: 0, StoragePath: "a"}))
	require.Empty(t, publisher.Published)

	require.Equal(t, GroupCompleted, coord.SegmentCompleted("r3", segmentJob("g1", "seg-1", 1, 2), SegmentOutcome{SegmentID: "seg-1", Index: 1, StoragePath: "b"}))
	// redelivery after resolution changes nothing
	require.Equal(t, GroupCompleted, coord.SegmentCompleted("r4", segmentJob("g1", "seg-1", 1, 2), SegmentOutcome{SegmentID: "seg-1", Index: 1, StoragePath: "b"}))
	require.Len(t, publisher.Published, 1)

	// a failure delivered after the group resolved reports the terminal status
	afterResolved := coord.SegmentFailed("r5", segmentJob("g1", "seg-0", 0, 2), "late timeout")
	require.False(t, afterResolved.ShouldRetry)
	require.Equal(t, GroupCompleted, afterResolved.Status)
	require.Nil(t, afterResolved.JobFailed)
}

func TestRetryBudgetExhaustionFailsGroupExactlyOnce(t *testing.T) {
	coord, publisher, sink := newTestCoordinator(3)
	job := segmentJob("g2", "seg-2", 1, 2)

	first := coord.SegmentFailed("r1", job, "timeout")
	require.True(t, first.ShouldRetry)
	require.Equal(t, GroupCollecting, first.Status)
	require.True(t, coord.SegmentFailed("r2", job, "timeout").ShouldRetry)

	decision := coord.SegmentFailed("r3", job, "timeout")
	require.False(t, decision.ShouldRetry)
	require.Equal(t, GroupFailed, decision.Status)
	require.NotNil(t, decision.JobFailed)
	require.Equal(t, "g2", decision.JobFailed.JobGroupID)
	require.Equal(t, "seg-2", decision.JobFailed.SegmentID)
	require.Equal(t, 1, sink.count())
	require.Equal(t, "ad-1", sink.adIDs[0])

	// every call after the terminal transition is a no-op, but the decision
	// still reports the terminal status
	late := coord.SegmentFailed("r4", job, "timeout")
	require.False(t, late.ShouldRetry)
	require.Equal(t, GroupFailed, late.Status)
	require.Nil(t, late.JobFailed)
	require.Equal(t, 1, sink.count())

	// a late completion of the other segment never resurrects the group
	require.Equal(t, GroupFailed, coord.SegmentCompleted("r5", segmentJob("g2", "seg-1", 0, 2), SegmentOutcome{SegmentID: "seg-1", Index: 0, StoragePath: "x"}))
	require.Empty(t, publisher.Published)
}

func TestFailedSegmentCanStillSucceedWithinBudget(t *testing.T) {
	coord, publisher, sink := newTestCoordinator(3)

	coord.SegmentCompleted("r1", segmentJob("g3", "seg-0", 0, 3), SegmentOutcome{SegmentID: "seg-0", Index: 0, StoragePath: "p0"})
	coord.SegmentCompleted("r2", segmentJob("g3", "seg-1", 1, 3), SegmentOutcome{SegmentID: "seg-1", Index: 1, StoragePath: "p1"})

	require.True(t, coord.SegmentFailed("r3", segmentJob("g3", "seg-2", 2, 3), "oom").ShouldRetry)
	require.Equal(t, GroupCompleted, coord.SegmentCompleted("r4", segmentJob("g3", "seg-2", 2, 3), SegmentOutcome{SegmentID: "seg-2", Index: 2, StoragePath: "p2"}))

	require.Len(t, publisher.Published, 1)
	require.Zero(t, sink.count())
	var assembly AssemblyJob
	require.NoError(t, json.Unmarshal(publisher.Published[0], &assembly))
	require.Len(t, assembly.SegmentPaths, 3)
}

func TestGroupStatusSnapshot(t *testing.T) {
	coord, _, _ := newTestCoordinator(3)

	_, known := coord.GroupStatus("missing")
	require.False(t, known)

	coord.SegmentCompleted("r1", segmentJob("g4", "seg-0", 0, 5), SegmentOutcome{SegmentID: "seg-0", Index: 0, StoragePath: "p"})
	snap, known := coord.GroupStatus("g4")
	require.True(t, known)
	require.Equal(t, GroupSnapshot{
		JobGroupID:        "g4",
		Status:            string(GroupCollecting),
		CompletedSegments: 1,
		ExpectedSegments:  5,
	}, snap)
}

func TestConcurrentCompletionsPublishSingleAssembly(t *testing.T) {
	coord, publisher, _ := newTestCoordinator(3)

	const n = 16
	jobs := make([]*SegmentTranscodeJob, n)
	for i := range jobs {
		jobs[i] = segmentJob("g5", fmt.Sprintf("seg-%02d", i), i, n)
	}
	rand.Shuffle(n, func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })

	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			coord.SegmentCompleted("r", job, SegmentOutcome{SegmentID: job.SegmentID, Index: job.SegmentIndex, StoragePath: job.SegmentID + ".ts"})
		}()
	}
	wg.Wait()

	require.Len(t, publisher.Published, 1)
	var assembly AssemblyJob
	require.NoError(t, json.Unmarshal(publisher.Published[0], &assembly))
	require.Len(t, assembly.SegmentPaths, n)
	for i, p := range assembly.SegmentPaths {
		require.Equal(t, fmt.Sprintf("seg-%02d", i), p.SegmentID)
	}
}
