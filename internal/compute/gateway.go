// Package compute talks to cloud backends on behalf of the lifecycle
// engine. The engine only ever asks a backend to stop an instance; it
// never creates them (provisioning is owned by an external director).
package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/virtfleet/virtfleet/internal/types"
)

// Gateway is one configured cloud backend endpoint, able to stop
// instances it hosts
type Gateway interface {
	// Stop terminates the instance with the given backend handle. The
	// public address is passed along because some backends key running
	// VMs by address rather than handle.
	Stop(ctx context.Context, handle, publicIP string) error
}

// Resolver maps a site/endpoint descriptor to a usable Gateway
type Resolver interface {
	Resolve(site, endpoint string) (Gateway, error)
}

// EndpointConfig describes one cloud backend endpoint
type EndpointConfig struct {
	// APIURL is the base URL of the backend's management API
	APIURL string `json:"api_url"`
	// APIToken authenticates the manager against the backend
	APIToken string `json:"api_token"`
}

// Validate checks that the endpoint configuration is usable
func (c *EndpointConfig) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	if c.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}
	return nil
}

// ConfigResolver resolves gateways from a static endpoint configuration,
// keyed by "site::endpoint"
type ConfigResolver struct {
	endpoints map[string]EndpointConfig
}

// NewConfigResolver creates a resolver over the given endpoint map
func NewConfigResolver(endpoints map[string]EndpointConfig) *ConfigResolver {
	return &ConfigResolver{endpoints: endpoints}
}

// LoadConfigResolver reads the endpoint map from a JSON file
func LoadConfigResolver(path string) (*ConfigResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config: %w", err)
	}

	var endpoints map[string]EndpointConfig
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, fmt.Errorf("failed to parse gateway config: %w", err)
	}

	for name, cfg := range endpoints {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid gateway config for %q: %w", name, err)
		}
	}

	return &ConfigResolver{endpoints: endpoints}, nil
}

// Resolve returns the gateway client for a site/endpoint pair
func (r *ConfigResolver) Resolve(site, endpoint string) (Gateway, error) {
	key := fmt.Sprintf("%s::%s", site, endpoint)
	cfg, ok := r.endpoints[key]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway configured for %s", types.ErrBackendUnreachable, key)
	}
	return NewAPIGateway(&cfg), nil
}
