package test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/virtfleet/virtfleet/internal/compute"
	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/db/repos"
	"github.com/virtfleet/virtfleet/internal/services"
	"github.com/virtfleet/virtfleet/pkg/api/v1/client"
)

// DefaultTestTimeout is the default timeout for test suites.
const DefaultTestTimeout = 30 * time.Second

// Suite encapsulates all components needed for integration testing.
// It provides a complete test setup with:
//   - File-based database
//   - Real API server
//   - Real API client
//   - Mocked cloud backend gateway
type Suite struct {
	t *testing.T

	// Server components
	App    *fiber.App
	Server *httptest.Server

	// Client components
	APIClient client.Client

	// Database components
	DB           *gorm.DB
	InstanceRepo *repos.InstanceRepository
	HistoryRepo  *repos.HistoryRepository

	// Engine components
	Lifecycle  *services.Lifecycle
	Heartbeat  *services.Heartbeat
	Dispatcher *services.HaltDispatcher

	// Mock backend
	Resolver *compute.MockResolver
	Gateway  *compute.MockGateway

	// Context management
	ctx        context.Context
	cancelFunc context.CancelFunc

	// Cleanup function
	cleanup func()
}

// NewSuite creates a new test suite.
// The suite must be cleaned up after use by calling Cleanup.
func NewSuite(t *testing.T) *Suite {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTestTimeout)

	suite := &Suite{
		t:          t,
		ctx:        ctx,
		cancelFunc: cancel,
		Resolver:   compute.NewMockResolver(),
	}
	suite.Gateway = suite.Resolver.Gateway

	suite.cleanup = func() {
		if suite.cancelFunc != nil {
			suite.cancelFunc()
		}
	}

	SetupTestDB(suite, nil)
	SetupServer(suite)

	return suite
}

// Cleanup tears down the test suite, releasing all resources.
// This should be deferred immediately after creating the suite.
func (s *Suite) Cleanup() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Context returns the suite's context, which is automatically
// canceled when the suite is cleaned up.
func (s *Suite) Context() context.Context {
	return s.ctx
}

// Require returns a require.Assertions instance for this suite.
// This is a convenience method to avoid passing t around.
func (s *Suite) Require() *require.Assertions {
	return require.New(s.t)
}

// Retry retries a function until it succeeds or the number of retries is reached.
func (s *Suite) Retry(fn func() error, retries int, interval time.Duration) (err error) {
	for i := 0; i < retries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		time.Sleep(interval)
	}
	return
}

// SeedInstance plants an instance directly in the store, bypassing the
// lifecycle rules, so tests can start from any status
func (s *Suite) SeedInstance(handle string, status models.InstanceStatus, mutate ...func(*models.Instance)) *models.Instance {
	instance := &models.Instance{
		Handle:   handle,
		Name:     "vm-" + handle,
		Image:    "centos-7",
		Site:     "CLOUD.Test",
		Endpoint: "Cloud",
		PublicIP: "192.0.2.10",
		Status:   status,
	}
	for _, fn := range mutate {
		fn(instance)
	}
	err := s.InstanceRepo.Create(s.ctx, instance)
	s.Require().NoError(err, "Failed to seed test instance")
	return instance
}
