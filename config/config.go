package config

import "time"

var Version string

// Retry policy fixed by the legacy whole-file pipeline: delays grow by a
// minute per attempt and cap at five minutes.
const (
	LegacyMaxRetries      = 3
	LegacyRetryDelayStep  = 60 * time.Second
	LegacyRetryDelayLimit = 300 * time.Second
)

// LegacyRetryDelay returns the requeue delay for the given attempt number
// (1-based): 60s, 120s, 180s, capped at 300s.
func LegacyRetryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * LegacyRetryDelayStep
	if d > LegacyRetryDelayLimit {
		return LegacyRetryDelayLimit
	}
	return d
}

const (
	DefaultSegmentMaxRetries = 3
	DefaultSegmentRetryDelay = 30 * time.Second
	DefaultPodIdleTimeout    = 5 * time.Minute
)
