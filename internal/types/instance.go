package types

import (
	"fmt"
)

// RegisterRequest is the payload for registering a freshly leased instance
type RegisterRequest struct {
	Handle     string `json:"handle"`
	Image      string `json:"image"`
	Name       string `json:"name"`
	Site       string `json:"site"`
	Endpoint   string `json:"endpoint"`
	RunningPod string `json:"running_pod"`
}

// Validate checks that the required registration fields are present
func (r *RegisterRequest) Validate() error {
	if r.Handle == "" {
		return fmt.Errorf("handle is required")
	}
	if r.Image == "" {
		return fmt.Errorf("image is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Site == "" || r.Endpoint == "" {
		return fmt.Errorf("site and endpoint are required")
	}
	return nil
}

// RegisterResponse carries the store-assigned instance ID back to the caller
type RegisterResponse struct {
	InstanceID uint `json:"instance_id"`
}

// SubmittedRequest declares an instance submitted to its cloud backend
type SubmittedRequest struct {
	Handle string `json:"handle"`
}

// RunningRequest declares an instance running. The public address is
// learned by the transport layer from the connection, not from the body.
type RunningRequest struct {
	Handle    string `json:"handle"`
	PrivateIP string `json:"private_ip"`
}

// SetHandleRequest backfills the backend-assigned handle once submission
// completes
type SetHandleRequest struct {
	InstanceID uint   `json:"instance_id"`
	Handle     string `json:"handle"`
}

// HeartbeatRequest carries the periodic health report from a running instance
type HeartbeatRequest struct {
	Handle           string  `json:"handle"`
	Load             float64 `json:"load"`
	Jobs             int64   `json:"jobs"`
	TransferredFiles int64   `json:"transferred_files"`
	TransferredBytes int64   `json:"transferred_bytes"`
	Uptime           int64   `json:"uptime"`
}

// HeartbeatResponse tells the reporting agent whether an operator has
// requested a cooperative shutdown
type HeartbeatResponse struct {
	StopRequested bool `json:"stop_requested"`
}

// HaltingRequest is sent by an instance that is shutting itself down
type HaltingRequest struct {
	Handle string  `json:"handle"`
	Load   float64 `json:"load"`
}

// StopRequest asks for a set of instances to be stopped
type StopRequest struct {
	InstanceIDs []uint `json:"instance_ids"`
}

// HaltResult aggregates the per-instance outcome of a halt dispatch.
// Failed maps instance ID to the reason the stop did not happen; the
// instance stays eligible for a later attempt.
type HaltResult struct {
	Successful []uint          `json:"successful"`
	Failed     map[uint]string `json:"failed"`
}

// NewHaltResult returns an empty result ready for aggregation
func NewHaltResult() *HaltResult {
	return &HaltResult{
		Successful: []uint{},
		Failed:     map[uint]string{},
	}
}
