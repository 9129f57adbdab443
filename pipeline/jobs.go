package pipeline

import (
	"encoding/json"
	"fmt"

	xerrors "github.com/livecast/ad-transcoder/errors"
)

// JobKind discriminates the message variants on the job queue. Legacy
// whole-file jobs predate the discriminator and carry no type field at all.
type JobKind string

const (
	JobKindLegacy   JobKind = "legacy"
	JobKindSegment  JobKind = "segment"
	JobKindAssembly JobKind = "assembly"
)

// TranscodeJob is the legacy whole-file job: one compute call transcodes the
// entire source. Still used for small creatives that do not need splitting.
type TranscodeJob struct {
	AdID           string `json:"adId"`
	SourceKey      string `json:"sourceKey"`
	Bitrates       []int  `json:"bitrates"`
	OrganizationID string `json:"organizationId"`
	ChannelID      string `json:"channelId,omitempty"`
	RetryCount     int    `json:"retryCount"`
	IsOnDemand     bool   `json:"isOnDemand,omitempty"`
}

// SegmentTranscodeJob is one independently transcodable slice of a split
// creative. SegmentCount rides on every segment message so the coordinator
// can size the group on whichever message arrives first.
type SegmentTranscodeJob struct {
	Type         string  `json:"type"`
	JobGroupID   string  `json:"jobGroupId"`
	SegmentID    string  `json:"segmentId"`
	SegmentIndex int     `json:"segmentIndex"`
	SegmentCount int     `json:"segmentCount"`
	AdID         string  `json:"adId"`
	SourceKey    string  `json:"sourceKey"`
	StartTime    float64 `json:"startTime"`
	Duration     float64 `json:"duration"`
	Bitrates     []int   `json:"bitrates"`
}

// SegmentPath pairs a segment with the artifact it produced.
type SegmentPath struct {
	SegmentID   string `json:"segmentId"`
	StoragePath string `json:"storagePath"`
}

// AssemblyJob asks for all segment outputs of a group to be multiplexed into
// the final renditions. Enqueued by the coordinator, exactly once per group.
type AssemblyJob struct {
	Type         string        `json:"type"`
	AdID         string        `json:"adId"`
	JobGroupID   string        `json:"jobGroupId"`
	SegmentPaths []SegmentPath `json:"segmentPaths"`
	SegmentCount int           `json:"segmentCount"`
	Bitrates     []int         `json:"bitrates"`
}

// ParsedJob is the discriminated result of classifying one queue message.
// Exactly one of the three pointers is set.
type ParsedJob struct {
	Kind     JobKind
	Legacy   *TranscodeJob
	Segment  *SegmentTranscodeJob
	Assembly *AssemblyJob
}

// ParseJob classifies and validates one message body. Every error it returns
// is marked unretriable: the message can never be processed and must not be
// requeued.
func ParseJob(body []byte) (*ParsedJob, error) {
	var discriminator struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &discriminator); err != nil {
		return nil, xerrors.Unretriable(fmt.Errorf("unparseable job message: %w", err))
	}

	switch discriminator.Type {
	case "":
		var job TranscodeJob
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, xerrors.Unretriable(fmt.Errorf("malformed transcode job: %w", err))
		}
		if job.AdID == "" || job.SourceKey == "" {
			return nil, xerrors.Unretriable(fmt.Errorf("transcode job missing adId or sourceKey"))
		}
		if err := validBitrates(job.Bitrates); err != nil {
			return nil, xerrors.Unretriable(err)
		}
		return &ParsedJob{Kind: JobKindLegacy, Legacy: &job}, nil

	case string(JobKindSegment):
		var job SegmentTranscodeJob
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, xerrors.Unretriable(fmt.Errorf("malformed segment job: %w", err))
		}
		if job.JobGroupID == "" || job.SegmentID == "" || job.AdID == "" || job.SourceKey == "" {
			return nil, xerrors.Unretriable(fmt.Errorf("segment job missing jobGroupId, segmentId, adId or sourceKey"))
		}
		if job.SegmentCount <= 0 {
			return nil, xerrors.Unretriable(fmt.Errorf("segment job has invalid segmentCount %d", job.SegmentCount))
		}
		if err := validBitrates(job.Bitrates); err != nil {
			return nil, xerrors.Unretriable(err)
		}
		return &ParsedJob{Kind: JobKindSegment, Segment: &job}, nil

	case string(JobKindAssembly):
		var job AssemblyJob
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, xerrors.Unretriable(fmt.Errorf("malformed assembly job: %w", err))
		}
		if job.AdID == "" || len(job.SegmentPaths) == 0 {
			return nil, xerrors.Unretriable(fmt.Errorf("assembly job missing adId or segmentPaths"))
		}
		return &ParsedJob{Kind: JobKindAssembly, Assembly: &job}, nil

	default:
		return nil, xerrors.Unretriable(fmt.Errorf("unknown job type %q", discriminator.Type))
	}
}

func validBitrates(bitrates []int) error {
	if len(bitrates) == 0 {
		return fmt.Errorf("job has no bitrates")
	}
	for _, b := range bitrates {
		if b <= 0 {
			return fmt.Errorf("job has invalid bitrate %d", b)
		}
	}
	return nil
}
