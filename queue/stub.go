package queue

import (
	"context"
	"sync"
	"time"
)

// StubDelivery records the outcome taken on a message. Used for testing.
type StubDelivery struct {
	mu sync.Mutex

	body    []byte
	retries int

	Acked      bool
	Rejected   bool
	RetryDelay time.Duration
	RetryBody  []byte
}

func NewStubDelivery(body []byte, retryCount int) *StubDelivery {
	return &StubDelivery{body: body, retries: retryCount}
}

func (s *StubDelivery) Body() []byte {
	return s.body
}

func (s *StubDelivery) RetryCount() int {
	return s.retries
}

func (s *StubDelivery) Ack() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Acked = true
	return nil
}

func (s *StubDelivery) RetryAfter(delay time.Duration, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RetryDelay = delay
	s.RetryBody = body
	s.Acked = true
	return nil
}

func (s *StubDelivery) Reject() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rejected = true
	return nil
}

// WasRetried reports whether RetryAfter was invoked.
func (s *StubDelivery) WasRetried() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RetryBody != nil
}

// StubPublisher collects published payloads. Used for testing.
type StubPublisher struct {
	mu        sync.Mutex
	Published [][]byte
}

func (s *StubPublisher) Publish(ctx context.Context, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Published = append(s.Published, body)
	return nil
}
