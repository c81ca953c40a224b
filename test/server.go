package test

import (
	"net/http/httptest"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/virtfleet/virtfleet/internal/constants"
	"github.com/virtfleet/virtfleet/internal/services"
	"github.com/virtfleet/virtfleet/pkg/api/v1/client"
	"github.com/virtfleet/virtfleet/pkg/api/v1/handlers"
	"github.com/virtfleet/virtfleet/pkg/api/v1/routes"
)

// testClientTimeout is the timeout for test API client requests
const testClientTimeout = 5 * time.Second

// TestStallTimeout is the heartbeat silence tolerated in test servers
const TestStallTimeout = 10 * time.Minute

// SetupServer configures the test suite with a real API server
func SetupServer(suite *Suite) {
	suite.App = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Wire the engine over the suite's store and mock backend
	suite.Lifecycle = services.NewLifecycleService(suite.InstanceRepo, suite.HistoryRepo)
	suite.Heartbeat = services.NewHeartbeatService(suite.Lifecycle, suite.InstanceRepo, TestStallTimeout)
	suite.Dispatcher = services.NewHaltDispatcher(suite.Lifecycle, suite.InstanceRepo, suite.Resolver, 4, testClientTimeout)

	api := handlers.NewAPIHandler(suite.Lifecycle, suite.Heartbeat, suite.Dispatcher)
	routes.RegisterRoutes(suite.App, api)

	// Create test server using adaptor to convert Fiber app to http.Handler
	suite.Server = httptest.NewServer(adaptor.FiberApp(suite.App))

	// The default client carries every capability; tests that exercise
	// the auth checks build a narrower one with NewClient
	suite.APIClient = suite.NewClient(
		constants.CapabilityInstanceOperation,
		constants.CapabilityWebOperation,
	)

	originalCleanup := suite.cleanup
	suite.cleanup = func() {
		if suite.Server != nil {
			suite.Server.Close()
		}
		if originalCleanup != nil {
			originalCleanup()
		}
	}
}

// NewClient builds an API client against the suite's server carrying
// exactly the given capabilities
func (s *Suite) NewClient(capabilities ...string) client.Client {
	apiClient, err := client.NewClient(client.Options{
		BaseURL:      s.Server.URL,
		Timeout:      testClientTimeout,
		Capabilities: capabilities,
	})
	s.Require().NoError(err, "Failed to create API client")
	return apiClient
}
