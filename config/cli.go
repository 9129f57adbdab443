package config

import "time"

// Cli holds the full command line configuration of the orchestrator. Values
// are populated in main() via flags with env var overrides.
type Cli struct {
	InternalHTTPAddress string

	// message queue
	AMQPURL      string
	JobQueueName string

	// ad record store
	DatabaseURL string

	// on-demand transcode locks
	RedisAddress  string
	RedisPassword string

	// pod fleet + transcoding runners
	FleetAPIURL    string
	FleetAPIToken  string
	PodNamePrefix  string
	PodIdleTimeout time.Duration

	// per-operation compute timeouts
	TranscodeTimeout time.Duration
	SegmentTimeout   time.Duration
	AssemblyTimeout  time.Duration

	// retry policy
	SegmentMaxRetries int
	SegmentRetryDelay time.Duration

	// object store the runners upload to
	StorageEndpoint        string
	StorageRegion          string
	StorageBucket          string
	StorageAccessKeyID     string
	StorageAccessKeySecret string
	StoragePublicBaseURL   string
}
