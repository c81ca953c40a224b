package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/virtfleet/virtfleet/internal/types"
)

// MockGateway is an in-memory Gateway for tests. Handles listed in
// FailHandles get a BackendCallFailed on Stop; everything else succeeds
// and is recorded.
type MockGateway struct {
	mu          sync.Mutex
	FailHandles map[string]bool
	stopped     []string
}

// NewMockGateway creates a mock gateway that succeeds for every handle
func NewMockGateway() *MockGateway {
	return &MockGateway{FailHandles: map[string]bool{}}
}

// Stop records the handle or fails if it is listed in FailHandles
func (g *MockGateway) Stop(_ context.Context, handle, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailHandles[handle] {
		return fmt.Errorf("%w: forced failure for %s", types.ErrBackendCallFailed, handle)
	}
	g.stopped = append(g.stopped, handle)
	return nil
}

// Stopped returns the handles stopped so far
func (g *MockGateway) Stopped() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.stopped))
	copy(out, g.stopped)
	return out
}

// MockResolver resolves every site/endpoint pair to the same mock
// gateway, except pairs listed in FailSites which fail resolution
type MockResolver struct {
	Gateway   *MockGateway
	FailSites map[string]bool
}

// NewMockResolver creates a resolver over a fresh mock gateway
func NewMockResolver() *MockResolver {
	return &MockResolver{Gateway: NewMockGateway(), FailSites: map[string]bool{}}
}

// Resolve returns the shared mock gateway or a forced resolution failure
func (r *MockResolver) Resolve(site, endpoint string) (Gateway, error) {
	key := fmt.Sprintf("%s::%s", site, endpoint)
	if r.FailSites[key] {
		return nil, fmt.Errorf("%w: no gateway configured for %s", types.ErrBackendUnreachable, key)
	}
	return r.Gateway, nil
}
