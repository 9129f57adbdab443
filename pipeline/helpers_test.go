package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livecast/ad-transcoder/clients"
)

var testStorage = clients.StorageConfig{
	Endpoint: "http://minio.local:9000",
	Bucket:   "ads",
}

// stubRunner implements compute.Runner with per-operation function hooks.
type stubRunner struct {
	mu sync.Mutex

	transcodeFn func(req clients.TranscodeRequest) (*clients.TranscodeResult, error)
	segmentFn   func(req clients.TranscodeSegmentRequest) (*clients.SegmentResult, error)
	assembleFn  func(req clients.AssembleRequest) (*clients.TranscodeResult, error)

	identities []string
}

func (s *stubRunner) Transcode(ctx context.Context, identity string, req clients.TranscodeRequest) (*clients.TranscodeResult, error) {
	s.recordIdentity(identity)
	return s.transcodeFn(req)
}

func (s *stubRunner) TranscodeSegment(ctx context.Context, identity string, req clients.TranscodeSegmentRequest) (*clients.SegmentResult, error) {
	s.recordIdentity(identity)
	return s.segmentFn(req)
}

func (s *stubRunner) Assemble(ctx context.Context, identity string, req clients.AssembleRequest) (*clients.TranscodeResult, error) {
	s.recordIdentity(identity)
	return s.assembleFn(req)
}

func (s *stubRunner) recordIdentity(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = append(s.identities, identity)
}

type stubLockClient struct {
	mu       sync.Mutex
	released []string
	err      error
}

func (s *stubLockClient) Release(ctx context.Context, adID string, bitrates []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, adID)
	return s.err
}

type stubObjectStore struct {
	mu      sync.Mutex
	deleted [][]string
	err     error
}

func (s *stubObjectStore) DeleteObjects(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, keys)
	return s.err
}

// stubFailureSink records terminal group failures handed over by the
// coordinator.
type stubFailureSink struct {
	mu       sync.Mutex
	failures []GroupFailure
	adIDs    []string
}

func (s *stubFailureSink) GroupFailed(ctx context.Context, adID string, failure GroupFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adIDs = append(s.adIDs, adID)
	s.failures = append(s.failures, failure)
}

func (s *stubFailureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

func segmentJob(groupID, segmentID string, index, count int) *SegmentTranscodeJob {
	return &SegmentTranscodeJob{
		Type:         string(JobKindSegment),
		JobGroupID:   groupID,
		SegmentID:    segmentID,
		SegmentIndex: index,
		SegmentCount: count,
		AdID:         "ad-1",
		SourceKey:    "sources/ad-1.mp4",
		StartTime:    float64(index) * 10,
		Duration:     10,
		Bitrates:     []int{1000, 2000},
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
