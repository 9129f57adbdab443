package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livecast/ad-transcoder/clients"
	xerrors "github.com/livecast/ad-transcoder/errors"
	"github.com/livecast/ad-transcoder/queue"
)

func TestSegmentSuccessReportsToCoordinator(t *testing.T) {
	coord, publisher, _ := newTestCoordinator(3)
	runner := &stubRunner{
		segmentFn: func(req clients.TranscodeSegmentRequest) (*clients.SegmentResult, error) {
			require.Equal(t, 10.0, req.StartTime)
			require.Equal(t, 10.0, req.DurationSec)
			return &clients.SegmentResult{StoragePath: "segments/g1/1.ts"}, nil
		},
	}
	h := NewSegmentHandler(runner, coord, testStorage, "ad-runner", 30*time.Second)

	job := segmentJob("g1", "seg-1", 1, 2)
	delivery := queue.NewStubDelivery(mustMarshal(t, job), 0)
	h.Handle(context.Background(), "req-1", job, delivery)

	require.True(t, delivery.Acked)
	require.Equal(t, []string{"ad-runner-g1-seg-1"}, runner.identities)
	snap, known := coord.GroupStatus("g1")
	require.True(t, known)
	require.Equal(t, 1, snap.CompletedSegments)
	require.Empty(t, publisher.Published)
}

func TestSegmentFailureWithinBudgetSchedulesFixedDelayRetry(t *testing.T) {
	coord, _, _ := newTestCoordinator(3)
	runner := &stubRunner{
		segmentFn: func(req clients.TranscodeSegmentRequest) (*clients.SegmentResult, error) {
			return nil, xerrors.NewTransportError(fmt.Errorf("connection reset"))
		},
	}
	h := NewSegmentHandler(runner, coord, testStorage, "ad-runner", 30*time.Second)

	job := segmentJob("g1", "seg-0", 0, 2)
	delivery := queue.NewStubDelivery(mustMarshal(t, job), 0)
	h.Handle(context.Background(), "req-1", job, delivery)

	require.True(t, delivery.WasRetried())
	require.Equal(t, 30*time.Second, delivery.RetryDelay)
	// the segment message is requeued unchanged
	require.JSONEq(t, string(mustMarshal(t, job)), string(delivery.RetryBody))
}

func TestSegmentExhaustedBudgetAcksWithoutRetry(t *testing.T) {
	coord, publisher, sink := newTestCoordinator(2)
	runner := &stubRunner{
		segmentFn: func(req clients.TranscodeSegmentRequest) (*clients.SegmentResult, error) {
			return nil, xerrors.NewRunnerError("corrupt input window")
		},
	}
	h := NewSegmentHandler(runner, coord, testStorage, "ad-runner", 30*time.Second)
	job := segmentJob("g2", "seg-0", 0, 2)

	first := queue.NewStubDelivery(mustMarshal(t, job), 0)
	h.Handle(context.Background(), "req-1", job, first)
	require.True(t, first.WasRetried())

	second := queue.NewStubDelivery(mustMarshal(t, job), 1)
	h.Handle(context.Background(), "req-2", job, second)
	require.True(t, second.Acked)
	require.False(t, second.WasRetried())
	require.Equal(t, 1, sink.count())
	require.Empty(t, publisher.Published)
}
