package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	xerrors "github.com/livecast/ad-transcoder/errors"
)

// StorageConfig tells a runner where to upload its artifacts. It rides on
// every request since runners are stateless between calls; media bytes never
// transit through this layer.
type StorageConfig struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"accessKeyId"`
	AccessKeySecret string `json:"accessKeySecret"`
	PublicBaseURL   string `json:"publicBaseUrl"`
}

// Variant is one bitrate rendition produced by a runner.
type Variant struct {
	Bitrate     int    `json:"bitrate"`
	PlaylistURL string `json:"playlistUrl"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// TranscodeResult is the outcome of a whole-file transcode or an assembly.
type TranscodeResult struct {
	Variants          []Variant `json:"variants"`
	MasterPlaylistURL string    `json:"masterPlaylistUrl"`
	DurationSec       float64   `json:"duration"`
}

// SegmentResult is the outcome of a single segment transcode.
type SegmentResult struct {
	StoragePath string `json:"storagePath"`
}

type TranscodeRequest struct {
	SourceKey string        `json:"sourceKey"`
	Bitrates  []int         `json:"bitrates"`
	Storage   StorageConfig `json:"storage"`
}

type TranscodeSegmentRequest struct {
	SourceKey   string        `json:"sourceKey"`
	StartTime   float64       `json:"startTime"`
	DurationSec float64       `json:"duration"`
	Bitrates    []int         `json:"bitrates"`
	Storage     StorageConfig `json:"storage"`
}

type AssembleRequest struct {
	SegmentPaths []string      `json:"segmentPaths"`
	Bitrates     []int         `json:"bitrates"`
	Storage      StorageConfig `json:"storage"`
}

// RunnerClient talks to one transcoding runner pod. Retry policy lives at the
// message and coordinator layers, so this client makes exactly one attempt
// per call: a transparent transport retry could double-invoke encode work.
type RunnerClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRunnerClient(baseURL string) *RunnerClient {
	return &RunnerClient{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
}

func (c *RunnerClient) Transcode(ctx context.Context, req TranscodeRequest) (*TranscodeResult, error) {
	var res TranscodeResult
	if err := c.post(ctx, "/transcode", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RunnerClient) TranscodeSegment(ctx context.Context, req TranscodeSegmentRequest) (*SegmentResult, error) {
	var res SegmentResult
	if err := c.post(ctx, "/transcode/segment", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RunnerClient) Assemble(ctx context.Context, req AssembleRequest) (*TranscodeResult, error) {
	var res TranscodeResult
	if err := c.post(ctx, "/assemble", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// runnerResponse is the envelope every runner endpoint answers with. The
// operation result rides alongside the success flag.
type runnerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// post normalizes the two failure modes of a runner call, a transport error
// with no response and a {success:false} body, into xerrors.ComputeError.
func (c *RunnerClient) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return xerrors.Unretriable(fmt.Errorf("error marshaling runner request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Unretriable(fmt.Errorf("error creating runner request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.NewTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.NewTransportError(fmt.Errorf("error reading runner response: %w", err))
	}

	var envelope runnerResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 300 {
			return xerrors.NewTransportError(fmt.Errorf("runner returned status %d", resp.StatusCode))
		}
		return xerrors.NewTransportError(fmt.Errorf("error parsing runner response: %w", err))
	}
	if !envelope.Success {
		reason := envelope.Error
		if reason == "" {
			reason = fmt.Sprintf("runner returned status %d with no error detail", resp.StatusCode)
		}
		return xerrors.NewRunnerError(reason)
	}
	return json.Unmarshal(raw, result)
}
