// Package client provides an HTTP client for the virtfleet API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/types"
	"github.com/virtfleet/virtfleet/pkg/api/v1/handlers"
	"github.com/virtfleet/virtfleet/pkg/api/v1/routes"
)

// Client is the interface for interacting with the virtfleet API
type Client interface {
	ListInstances(ctx context.Context, opts *ListOptions) ([]models.Instance, error)
	GetInstance(ctx context.Context, id uint) (*models.Instance, error)
	GetInstanceHistory(ctx context.Context, id uint) ([]models.HistoryEntry, error)
	GetInstanceCounters(ctx context.Context, groupBy string) ([]types.CounterRow, error)
	StopInstances(ctx context.Context, ids []uint) (*types.HaltResult, error)
	RPC(ctx context.Context, method string, params interface{}, out interface{}) error
}

// ListOptions controls instance listing
type ListOptions struct {
	Status        string
	IncludeClosed bool
	Limit         int
	Offset        int
}

// Options configures the API client
type Options struct {
	// BaseURL is the base URL of the API server
	BaseURL string
	// Timeout is the request timeout
	Timeout time.Duration
	// Capabilities are attached to every request for the auth layer
	Capabilities []string
}

// DefaultOptions returns the default client options
func DefaultOptions() Options {
	return Options{
		BaseURL: routes.DefaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// APIClient is the HTTP implementation of Client
type APIClient struct {
	baseURL      string
	capabilities string
	httpClient   *http.Client
}

// NewClient creates a new API client with the given options
func NewClient(opts Options) (*APIClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &APIClient{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		capabilities: strings.Join(opts.Capabilities, ","),
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// doRequest performs an HTTP request and decodes the JSON response into out
func (c *APIClient) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.capabilities != "" {
		req.Header.Set("X-Virtfleet-Capabilities", c.capabilities)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", apiErr.Kind, apiErr.Error)
		}
		return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}

// ListInstances retrieves a page of instances
func (c *APIClient) ListInstances(ctx context.Context, opts *ListOptions) ([]models.Instance, error) {
	query := url.Values{}
	if opts != nil {
		if opts.Status != "" {
			query.Set("status", opts.Status)
		}
		if opts.IncludeClosed {
			query.Set("include_closed", "true")
		}
		if opts.Limit > 0 {
			query.Set("limit", fmt.Sprint(opts.Limit))
		}
		if opts.Offset > 0 {
			query.Set("offset", fmt.Sprint(opts.Offset))
		}
	}

	path := "/api/v1/instances"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp types.ListResponse[models.Instance]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// GetInstance retrieves a single instance by ID
func (c *APIClient) GetInstance(ctx context.Context, id uint) (*models.Instance, error) {
	var instance models.Instance
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/instances/%d", id), nil, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetInstanceHistory retrieves the status audit trail of an instance
func (c *APIClient) GetInstanceHistory(ctx context.Context, id uint) ([]models.HistoryEntry, error) {
	var resp types.ListResponse[models.HistoryEntry]
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/instances/%d/history", id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// GetInstanceCounters retrieves grouped instance counts
func (c *APIClient) GetInstanceCounters(ctx context.Context, groupBy string) ([]types.CounterRow, error) {
	path := "/api/v1/instances/counters"
	if groupBy != "" {
		path += "?group_by=" + url.QueryEscape(groupBy)
	}

	var resp struct {
		Counters []types.CounterRow `json:"counters"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Counters, nil
}

// StopInstances requests a stop of the given instances
func (c *APIClient) StopInstances(ctx context.Context, ids []uint) (*types.HaltResult, error) {
	var result types.HaltResult
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/instances/stop", types.StopRequest{InstanceIDs: ids}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RPC performs one RPC-style call and decodes its data payload into out
func (c *APIClient) RPC(ctx context.Context, method string, params interface{}, out interface{}) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("error marshaling params: %w", err)
	}

	req := handlers.RPCRequest{
		Method: method,
		Params: rawParams,
		ID:     uuid.New().String(),
	}

	var resp struct {
		Data    json.RawMessage    `json:"data"`
		Error   *handlers.RPCError `json:"error"`
		Success bool               `json:"success"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error != nil {
			return fmt.Errorf("%s: %s", resp.Error.Kind, resp.Error.Message)
		}
		return fmt.Errorf("RPC %s failed", method)
	}

	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}
