package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/herdctl/herd/pkg/events"
	"github.com/herdctl/herd/pkg/gpu"
	"github.com/herdctl/herd/pkg/registry"
	"github.com/herdctl/herd/pkg/types"
)

// Client talks to a herd control-plane API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartScheduler starts a scheduler for (mode, configIndex).
func (c *Client) StartScheduler(mode types.Mode, configIndex int) (*registry.StartResult, error) {
	body, _ := json.Marshal(map[string]any{"mode": mode, "config_index": configIndex})

	resp, err := c.http.Post(c.baseURL+"/v1/schedulers", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to reach control plane: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var result registry.StartResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// StopScheduler stops the scheduler for (mode, configIndex).
func (c *Client) StopScheduler(mode types.Mode, configIndex int) error {
	url := fmt.Sprintf("%s/v1/schedulers/%s/%d", c.baseURL, mode, configIndex)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach control plane: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// ListSchedulers returns snapshots of all live schedulers.
func (c *Client) ListSchedulers() ([]*types.InstanceSnapshot, error) {
	var snaps []*types.InstanceSnapshot
	if err := c.getJSON("/v1/schedulers", &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// GetScheduler returns the snapshot for (mode, configIndex).
func (c *Client) GetScheduler(mode types.Mode, configIndex int) (*types.InstanceSnapshot, error) {
	var snap types.InstanceSnapshot
	path := fmt.Sprintf("/v1/schedulers/%s/%d", mode, configIndex)
	if err := c.getJSON(path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GPUs returns the current device snapshots.
func (c *Client) GPUs() ([]gpu.DeviceSnapshot, error) {
	var snaps []gpu.DeviceSnapshot
	if err := c.getJSON("/v1/gpus", &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Events returns the recent lifecycle events.
func (c *Client) Events() ([]*events.Event, error) {
	var evs []*events.Event
	if err := c.getJSON("/v1/events", &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach control plane: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
