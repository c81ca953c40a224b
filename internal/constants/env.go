// Package constants provides centralized definitions of constants used throughout the application
package constants

// Environment variable names
const (
	// EnvServerPort is the port the API server listens on
	EnvServerPort = "VIRTFLEET_PORT"

	// EnvStallTimeout is the maximum heartbeat silence tolerated before a
	// Running instance is presumed dead (Go duration string, e.g. "15m")
	EnvStallTimeout = "VIRTFLEET_STALL_TIMEOUT"

	// EnvReconcileInterval is the period of the stalled-instance
	// reconciliation loop (Go duration string, e.g. "15m")
	EnvReconcileInterval = "VIRTFLEET_RECONCILE_INTERVAL"

	// EnvHaltWorkers bounds the number of concurrent backend stop calls
	EnvHaltWorkers = "VIRTFLEET_HALT_WORKERS"

	// EnvHaltTimeout bounds a single backend stop call
	EnvHaltTimeout = "VIRTFLEET_HALT_TIMEOUT"

	// EnvGatewayConfig points at the JSON file describing cloud backend
	// endpoints (site/endpoint -> API URL and token)
	EnvGatewayConfig = "VIRTFLEET_GATEWAY_CONFIG"

	// EnvServerAddress is the API server address used by the CLI
	EnvServerAddress = "VIRTFLEET_SERVER_ADDRESS"
)

// Capability names granted by the fronting auth layer. The manager does
// not authenticate callers itself; it only checks the capability set the
// auth collaborator attaches to each request.
const (
	// CapabilityInstanceOperation is required for privileged instance
	// operations (declareRunning, heartbeat, declareHalting)
	CapabilityInstanceOperation = "vm-rpc-operation"

	// CapabilityWebOperation is required for management operations
	// (explicit stop requests)
	CapabilityWebOperation = "vm-web-operation"
)
