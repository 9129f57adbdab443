package store

import (
	"context"
	"sync"

	"github.com/livecast/ad-transcoder/clients"
)

// StatusWrite records one call against the stub store. Used for testing.
type StatusWrite struct {
	AdID         string
	Status       TranscodeStatus
	ErrorMessage string
	Result       *clients.TranscodeResult
}

// StubAdStore collects status writes in memory. Used for testing.
type StubAdStore struct {
	mu     sync.Mutex
	Writes []StatusWrite
	Err    error
}

func (s *StubAdStore) MarkProcessing(ctx context.Context, adID string) error {
	return s.record(StatusWrite{AdID: adID, Status: TranscodeStatusProcessing})
}

func (s *StubAdStore) MarkReady(ctx context.Context, adID string, result *clients.TranscodeResult) error {
	return s.record(StatusWrite{AdID: adID, Status: TranscodeStatusReady, Result: result})
}

func (s *StubAdStore) MarkError(ctx context.Context, adID string, errorMessage string) error {
	return s.record(StatusWrite{AdID: adID, Status: TranscodeStatusError, ErrorMessage: errorMessage})
}

func (s *StubAdStore) MarkQueued(ctx context.Context, adID string, errorMessage string) error {
	return s.record(StatusWrite{AdID: adID, Status: TranscodeStatusQueued, ErrorMessage: errorMessage})
}

func (s *StubAdStore) record(w StatusWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes = append(s.Writes, w)
	return s.Err
}

// LastWrite returns the most recent write, or a zero value when none exist.
func (s *StubAdStore) LastWrite() StatusWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Writes) == 0 {
		return StatusWrite{}
	}
	return s.Writes[len(s.Writes)-1]
}

// WriteCount returns how many writes have been recorded.
func (s *StubAdStore) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Writes)
}
