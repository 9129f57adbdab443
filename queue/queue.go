// Package queue provides the job message transport for the orchestrator. The
// platform contract is at-least-once delivery with per-message acknowledge or
// retry-with-delay, and batch-level fan-out to the consumer's handler.
package queue

import (
	"context"
	"time"
)

// Delivery is one job message as handed to the router. Exactly one of Ack,
// RetryAfter or Reject must be called for every delivery.
type Delivery interface {
	// Body is the raw message payload.
	Body() []byte
	// RetryCount reports how many times this message has been requeued.
	RetryCount() int
	// Ack marks the message as permanently handled.
	Ack() error
	// RetryAfter requeues body as a new delivery of this message after the
	// given delay, with the retry count incremented, and acknowledges the
	// original. No resources are held across the delay.
	RetryAfter(delay time.Duration, body []byte) error
	// Reject acknowledges the message without requeueing it. Used for
	// payloads that can never be processed, so they do not cycle forever.
	Reject() error
}

// BatchHandler consumes one delivered batch. Implementations must process
// messages independently; one message's outcome may not block another's.
type BatchHandler interface {
	HandleBatch(batch []Delivery)
}

// Publisher enqueues new job payloads onto the job queue.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}
