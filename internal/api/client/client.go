// Package client is an HTTP client for the call manager's status API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	types "github.com/sebas/callmanager/api/types/v1"
)

// Client is an HTTP client for a call manager API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new call manager API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches health status
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var health types.HealthResponse
	if err := c.getJSON(ctx, "/api/v1/health", &health); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &health, nil
}

// Stats fetches call statistics
func (c *Client) Stats(ctx context.Context) (*types.StatsResponse, error) {
	var stats types.StatsResponse
	if err := c.getJSON(ctx, "/api/v1/stats", &stats); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &stats, nil
}

// Calls fetches every call with the audio state
func (c *Client) Calls(ctx context.Context) (*types.CallsResponse, error) {
	var calls types.CallsResponse
	if err := c.getJSON(ctx, "/api/v1/calls", &calls); err != nil {
		return nil, fmt.Errorf("calls: %w", err)
	}
	return &calls, nil
}

// CallLog fetches the newest limit call log entries
func (c *Client) CallLog(ctx context.Context, limit int) ([]types.CallLogEntry, error) {
	path := "/api/v1/calllog"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []types.CallLogEntry
	if err := c.getJSON(ctx, path, &entries); err != nil {
		return nil, fmt.Errorf("calllog: %w", err)
	}
	return entries, nil
}

// Accounts fetches the enabled phone accounts
func (c *Client) Accounts(ctx context.Context) ([]types.Account, error) {
	var accounts []types.Account
	if err := c.getJSON(ctx, "/api/v1/accounts", &accounts); err != nil {
		return nil, fmt.Errorf("accounts: %w", err)
	}
	return accounts, nil
}

// Peripherals fetches the headset and dock state
func (c *Client) Peripherals(ctx context.Context) (*types.PeripheralsResponse, error) {
	var p types.PeripheralsResponse
	if err := c.getJSON(ctx, "/api/v1/peripherals", &p); err != nil {
		return nil, fmt.Errorf("peripherals: %w", err)
	}
	return &p, nil
}

// SetWiredHeadset plugs or unplugs the wired headset
func (c *Client) SetWiredHeadset(ctx context.Context, plugged bool) error {
	return c.post(ctx, "/api/v1/peripherals/wired", types.WiredHeadsetRequest{Plugged: plugged}, nil)
}

// SetBluetooth connects device, or disconnects the headset when device is empty
func (c *Client) SetBluetooth(ctx context.Context, device string, audioOn bool) error {
	return c.post(ctx, "/api/v1/peripherals/bluetooth", types.BluetoothRequest{Device: device, AudioOn: audioOn}, nil)
}

// SetDock reports a dock state such as "car", "desk" or "undocked"
func (c *Client) SetDock(ctx context.Context, state string) error {
	return c.post(ctx, "/api/v1/peripherals/dock", types.DockRequest{State: state}, nil)
}

// MediaButton presses the headset button
func (c *Client) MediaButton(ctx context.Context, longPress bool) (bool, error) {
	var resp types.MediaButtonResponse
	if err := c.post(ctx, "/api/v1/peripherals/media-button", types.MediaButtonRequest{LongPress: longPress}, &resp); err != nil {
		return false, err
	}
	return resp.Handled, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, v)
}

func (c *Client) post(ctx context.Context, path string, body, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, v)
}

// do sends req and decodes a JSON body into v when v is not nil
func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr types.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s", req.Method, req.URL.Path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
