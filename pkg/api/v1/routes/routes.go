// Package routes defines the API routes and URL structure
package routes

import (
	"fmt"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/virtfleet/virtfleet/internal/api/v1/middleware"
	"github.com/virtfleet/virtfleet/pkg/api/v1/handlers"
)

// API base configuration
const (
	// DefaultPort is the default port for the API
	DefaultPort = "8080"
	// APIv1Prefix is the prefix for all API endpoints
	APIv1Prefix = "/api/v1"
)

// DefaultBaseURL is the default base URL for the API
var DefaultBaseURL = fmt.Sprintf("http://localhost:%s", DefaultPort)

// Route names for lookup
const (
	// Health check
	HealthCheck = "HealthCheck"

	// Metrics
	Metrics = "Metrics"

	// Instance routes
	GetInstances         = "GetInstances"
	GetInstancesByStatus = "GetInstancesByStatus"
	GetInstanceCounters  = "GetInstanceCounters"
	GetInstanceByHandle  = "GetInstanceByHandle"
	GetInstance          = "GetInstance"
	GetInstanceHistory   = "GetInstanceHistory"
	StopInstances        = "StopInstances"

	// History aggregates
	GetRunningHistory = "GetRunningHistory"

	// RPC routes
	RPC = "RPC"
)

// RegisterRoutes configures all the v1 routes.
//
// NOTE: route ordering matters; fixed path segments must be registered
// before :id so fiber does not interpret them as an instance ID.
func RegisterRoutes(app *fiber.App, api *handlers.APIHandler) {
	app.Use(middleware.Logger())
	app.Use(middleware.Capabilities())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	}).Name(HealthCheck)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler())).Name(Metrics)

	v1 := app.Group(APIv1Prefix)

	// Instance endpoints
	instances := v1.Group("/instances")
	instances.Get("/", api.ListInstances).Name(GetInstances)
	instances.Get("/by-status/:status", api.GetInstancesByStatus).Name(GetInstancesByStatus)
	instances.Get("/counters", api.GetInstanceCounters).Name(GetInstanceCounters)
	instances.Get("/handle/:handle", api.GetInstanceByHandle).Name(GetInstanceByHandle)
	instances.Get("/:id", api.GetInstance).Name(GetInstance)
	instances.Get("/:id/history", api.GetInstanceHistory).Name(GetInstanceHistory)
	instances.Post("/stop", api.StopInstances).Name(StopInstances)

	// Historical aggregates
	v1.Get("/history/running", api.GetRunningHistory).Name(GetRunningHistory)

	// RPC endpoint as the root handler for agent operations
	v1.Post("/", api.HandleRPC).Name(RPC)
}
