package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/virtfleet/virtfleet/internal/types"
)

// defaultHTTPTimeout is a safety net; halt dispatch passes its own
// per-call context deadline on top
const defaultHTTPTimeout = 30 * time.Second

// APIGateway is an HTTP client for a cloud backend's management API
type APIGateway struct {
	config     *EndpointConfig
	httpClient *http.Client
}

// NewAPIGateway creates a gateway client for the given endpoint
func NewAPIGateway(config *EndpointConfig) *APIGateway {
	return &APIGateway{
		config: config,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

type stopRequest struct {
	PublicIP string `json:"public_ip"`
}

// Stop asks the backend to terminate the instance with the given handle
func (g *APIGateway) Stop(ctx context.Context, handle, publicIP string) error {
	body, err := json.Marshal(stopRequest{PublicIP: publicIP})
	if err != nil {
		return fmt.Errorf("error marshaling stop request: %w", err)
	}

	url := fmt.Sprintf("%s/servers/%s/stop", g.config.APIURL, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.config.APIToken))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s - %s", types.ErrBackendCallFailed, resp.Status, string(respBody))
	}

	return nil
}
