// Package compute maps deterministic work identities to ephemeral runner
// pods: the same identity always resolves to the same pod, so a retried or
// duplicated job message reuses the runner it already warmed up instead of
// provisioning a second one.
package compute

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/livecast/ad-transcoder/clients"
	"github.com/livecast/ad-transcoder/metrics"
)

// Timeouts bound each runner operation. A timeout is reported the same way as
// any other transport failure.
type Timeouts struct {
	Transcode time.Duration
	Segment   time.Duration
	Assembly  time.Duration
}

// Runner is what the pipeline handlers see: the three runner operations,
// addressed by work identity.
type Runner interface {
	Transcode(ctx context.Context, identity string, req clients.TranscodeRequest) (*clients.TranscodeResult, error)
	TranscodeSegment(ctx context.Context, identity string, req clients.TranscodeSegmentRequest) (*clients.SegmentResult, error)
	Assemble(ctx context.Context, identity string, req clients.AssembleRequest) (*clients.TranscodeResult, error)
}

// WholeFileIdentity addresses the pod for a whole-file or assembly job.
func WholeFileIdentity(prefix, adID string) string {
	return fmt.Sprintf("%s-%s", prefix, adID)
}

// SegmentIdentity addresses the pod for one segment of a job group.
func SegmentIdentity(prefix, jobGroupID, segmentID string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, jobGroupID, segmentID)
}

// entry is one identity's pod. Its mutex serializes calls, matching the
// runner's one-request-at-a-time processing. An entry with calls in flight
// can never be stopped: the idle reclaimer rearms its timer instead.
type entry struct {
	mu  sync.Mutex
	pod *runnerPod

	stateMu  sync.Mutex
	started  bool
	inFlight int
	stopped  bool
}

// Manager lazily provisions pods and reclaims them after an idle window.
type Manager struct {
	fleet    clients.FleetAPIClient
	timeouts Timeouts
	idleTTL  time.Duration

	// entries is the authoritative identity map; idle only times the
	// reclamation. A lapsed idle timer never removes an identity that still
	// has calls in flight, so duplicate messages always find the entry
	// their sibling is executing against.
	mu      sync.Mutex
	entries map[string]*entry
	idle    *gocache.Cache
}

func NewManager(fleet clients.FleetAPIClient, idleTTL time.Duration, timeouts Timeouts) *Manager {
	cleanup := idleTTL
	if cleanup > time.Minute {
		cleanup = time.Minute
	}
	m := &Manager{
		fleet:    fleet,
		timeouts: timeouts,
		idleTTL:  idleTTL,
		entries:  map[string]*entry{},
		idle:     gocache.New(idleTTL, cleanup),
	}
	m.idle.OnEvicted(m.reclaim)
	return m
}

func (m *Manager) Transcode(ctx context.Context, identity string, req clients.TranscodeRequest) (*clients.TranscodeResult, error) {
	var result *clients.TranscodeResult
	err := m.withPod(ctx, identity, "transcode", m.timeouts.Transcode, func(ctx context.Context, r runnerAPI) error {
		var err error
		result, err = r.Transcode(ctx, req)
		return err
	})
	return result, err
}

func (m *Manager) TranscodeSegment(ctx context.Context, identity string, req clients.TranscodeSegmentRequest) (*clients.SegmentResult, error) {
	var result *clients.SegmentResult
	err := m.withPod(ctx, identity, "transcode_segment", m.timeouts.Segment, func(ctx context.Context, r runnerAPI) error {
		var err error
		result, err = r.TranscodeSegment(ctx, req)
		return err
	})
	return result, err
}

func (m *Manager) Assemble(ctx context.Context, identity string, req clients.AssembleRequest) (*clients.TranscodeResult, error) {
	var result *clients.TranscodeResult
	err := m.withPod(ctx, identity, "assemble", m.timeouts.Assembly, func(ctx context.Context, r runnerAPI) error {
		var err error
		result, err = r.Assemble(ctx, req)
		return err
	})
	return result, err
}

func (m *Manager) withPod(ctx context.Context, identity, operation string, timeout time.Duration, call func(context.Context, runnerAPI) error) error {
	var e *entry
	for {
		e = m.resolve(identity)
		e.mu.Lock()
		if e.beginCall() {
			break
		}
		// reclaimed between resolve and dispatch, about to leave the map
		e.mu.Unlock()
	}
	defer e.mu.Unlock()
	defer e.endCall()

	if err := e.start(ctx); err != nil {
		return err
	}

	// refresh the idle window while work is arriving
	m.idle.Set(identity, e, m.idleTTL)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := call(ctx, e.pod.runner)
	metrics.Metrics.ComputeCallSec.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		e.pod.OnError(err)
	}
	return err
}

// resolve returns the entry for identity, creating it if absent. Creation is
// guarded so concurrent calls with the same identity share one pod.
func (m *Manager) resolve(identity string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[identity]; ok {
		return e
	}
	e := &entry{pod: &runnerPod{identity: identity, fleet: m.fleet}}
	m.entries[identity] = e
	m.idle.Set(identity, e, m.idleTTL)
	return e
}

// reclaim runs when an identity's idle timer lapses. An entry still serving
// calls gets its timer rearmed; only an entry with nothing in flight is
// stopped and removed, so an in-progress call always completes against the
// pod it was dispatched to.
func (m *Manager) reclaim(identity string, value interface{}) {
	e := value.(*entry)
	e.stateMu.Lock()
	if e.inFlight > 0 {
		e.stateMu.Unlock()
		m.idle.Set(identity, e, m.idleTTL)
		return
	}
	e.stopped = true
	stopNow := e.started
	e.started = false
	e.stateMu.Unlock()

	m.mu.Lock()
	if m.entries[identity] == e {
		delete(m.entries, identity)
	}
	m.mu.Unlock()

	if stopNow {
		e.pod.Stop()
	}
}

// start provisions the pod on first use. Caller holds e.mu, so concurrent
// requests for the same identity wait for one provisioning attempt. A failed
// attempt is retried on the next call rather than poisoning the entry.
func (e *entry) start(ctx context.Context) error {
	e.stateMu.Lock()
	started := e.started
	e.stateMu.Unlock()
	if started {
		return nil
	}
	if err := e.pod.Start(ctx); err != nil {
		e.pod.OnError(err)
		return err
	}
	e.stateMu.Lock()
	e.started = true
	e.stateMu.Unlock()
	return nil
}

// beginCall reserves the entry for one call. It fails when idle reclamation
// already stopped this entry, in which case the caller must resolve a fresh
// one. The check and the increment share a lock with reclaim's in-flight
// check, so a reserved entry can never be stopped out from under its call.
func (e *entry) beginCall() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.stopped {
		return false
	}
	e.inFlight++
	return true
}

func (e *entry) endCall() {
	e.stateMu.Lock()
	e.inFlight--
	e.stateMu.Unlock()
}
