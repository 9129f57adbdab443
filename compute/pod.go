package compute

import (
	"context"
	"time"

	"github.com/livecast/ad-transcoder/clients"
	"github.com/livecast/ad-transcoder/log"
	"github.com/livecast/ad-transcoder/metrics"
)

// Pod is the lifecycle surface of one ephemeral runner. Lifecycle events are
// observability only; correctness never depends on them.
type Pod interface {
	Start(ctx context.Context) error
	Stop()
	OnError(err error)
}

// runnerAPI is the request surface of one runner, satisfied by
// clients.RunnerClient and stubbed out in tests.
type runnerAPI interface {
	Transcode(ctx context.Context, req clients.TranscodeRequest) (*clients.TranscodeResult, error)
	TranscodeSegment(ctx context.Context, req clients.TranscodeSegmentRequest) (*clients.SegmentResult, error)
	Assemble(ctx context.Context, req clients.AssembleRequest) (*clients.TranscodeResult, error)
}

// runnerPod is a fleet-provisioned transcoding pod.
type runnerPod struct {
	identity string
	fleet    clients.FleetAPIClient

	podID  string
	runner runnerAPI
}

func (p *runnerPod) Start(ctx context.Context) error {
	info, err := p.fleet.Provision(ctx, p.identity)
	if err != nil {
		return err
	}
	p.podID = info.ID
	p.runner = clients.NewRunnerClient(info.Endpoint)
	metrics.Metrics.PodLifecycleEvents.WithLabelValues("started").Inc()
	log.LogNoRequestID("runner pod started", "identity", p.identity, "pod_id", p.podID)
	return nil
}

func (p *runnerPod) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.fleet.Suspend(ctx, p.podID); err != nil {
		p.OnError(err)
		return
	}
	metrics.Metrics.PodLifecycleEvents.WithLabelValues("stopped").Inc()
	log.LogNoRequestID("runner pod suspended after idle window", "identity", p.identity, "pod_id", p.podID)
}

func (p *runnerPod) OnError(err error) {
	metrics.Metrics.PodLifecycleEvents.WithLabelValues("errored").Inc()
	log.LogNoRequestID("runner pod error", "identity", p.identity, "pod_id", p.podID, "err", err.Error())
}
