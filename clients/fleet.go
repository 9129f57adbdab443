package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// PodInfo describes a provisioned runner pod.
type PodInfo struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

// FleetAPIClient talks to the pod fleet control plane. Provisioning a pod by
// name is idempotent server-side (same name resolves to the same pod), so
// transport retries here are safe, unlike runner calls.
type FleetAPIClient interface {
	Provision(ctx context.Context, name string) (PodInfo, error)
	Suspend(ctx context.Context, podID string) error
}

type fleetAPIClient struct {
	baseURL    string
	token      string
	httpClient *retryablehttp.Client
}

func NewFleetAPIClient(baseURL, token string) FleetAPIClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 500 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 5 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.HTTPClient = &http.Client{
		Timeout: 30 * time.Second, // Give up on requests that take more than this long
	}
	client.Logger = nil

	return &fleetAPIClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: client,
	}
}

func (c *fleetAPIClient) Provision(ctx context.Context, name string) (PodInfo, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return PodInfo{}, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pods", bytes.NewReader(body))
	if err != nil {
		return PodInfo{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PodInfo{}, fmt.Errorf("error provisioning pod %q: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return PodInfo{}, fmt.Errorf("error provisioning pod %q: status %d", name, resp.StatusCode)
	}

	var info PodInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return PodInfo{}, fmt.Errorf("error parsing fleet response for pod %q: %w", name, err)
	}
	return info, nil
}

func (c *fleetAPIClient) Suspend(ctx context.Context, podID string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pods/"+podID+"/suspend", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error suspending pod %q: %w", podID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("error suspending pod %q: status %d", podID, resp.StatusCode)
	}
	return nil
}
