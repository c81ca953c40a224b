package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Column names used in raw query fragments
const (
	InstanceStatusField          = "status"
	InstanceHandleField          = "handle"
	InstanceLastHeartbeatAtField = "last_heartbeat_at"
	InstanceCreatedAtField       = "created_at"
)

// InstanceStatus is the lifecycle state of a managed VM instance
type InstanceStatus int

const (
	// we need unknown to be the first status to avoid conflicts with the default value
	InstanceStatusUnknown InstanceStatus = iota
	InstanceStatusNew
	InstanceStatusSubmitted
	InstanceStatusRunning
	InstanceStatusStalled
	InstanceStatusHalting
	InstanceStatusStopping
	InstanceStatusHalted
)

var instanceStatusNames = []string{
	"unknown",
	"new",
	"submitted",
	"running",
	"stalled",
	"halting",
	"stopping",
	"halted",
}

// AllInstanceStatuses lists every real status, in declaration order.
// Unknown is excluded; it is a zero-value guard, not a lifecycle state.
var AllInstanceStatuses = []InstanceStatus{
	InstanceStatusNew,
	InstanceStatusSubmitted,
	InstanceStatusRunning,
	InstanceStatusStalled,
	InstanceStatusHalting,
	InstanceStatusStopping,
	InstanceStatusHalted,
}

// allowedTransitions is the single authority on valid status changes.
// Every mutation path consults it; nothing else encodes lifecycle rules.
// Halted -> Halted is the sole same-state success, so duplicate reclaim
// attempts on an already closed instance succeed without error.
var allowedTransitions = map[InstanceStatus]map[InstanceStatus]bool{
	InstanceStatusNew: {
		InstanceStatusSubmitted: true,
		InstanceStatusHalted:    true,
	},
	InstanceStatusSubmitted: {
		InstanceStatusRunning: true,
		InstanceStatusHalted:  true,
		InstanceStatusStalled: true,
	},
	InstanceStatusRunning: {
		InstanceStatusStalled: true,
		InstanceStatusHalting: true,
	},
	InstanceStatusStalled: {
		InstanceStatusHalting:  true,
		InstanceStatusStopping: true,
	},
	InstanceStatusHalting: {
		InstanceStatusHalted: true,
	},
	InstanceStatusStopping: {
		InstanceStatusHalting: true,
		InstanceStatusHalted:  true,
	},
	InstanceStatusHalted: {
		InstanceStatusHalted: true,
	},
}

// ValidTransition reports whether from -> to appears in the
// allowed-transition table
func ValidTransition(from, to InstanceStatus) bool {
	return allowedTransitions[from][to]
}

func (s InstanceStatus) String() string {
	if int(s) < 0 || int(s) >= len(instanceStatusNames) {
		return "unknown"
	}
	return instanceStatusNames[s]
}

// ParseInstanceStatus converts a status name to its enum value
func ParseInstanceStatus(str string) (InstanceStatus, error) {
	for i, status := range instanceStatusNames {
		if status == str {
			return InstanceStatus(i), nil
		}
	}
	return InstanceStatusUnknown, fmt.Errorf("invalid instance status: %s", str)
}

// MarshalJSON renders the status by name
func (s InstanceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the status by name
func (s *InstanceStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseInstanceStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// Instance is one leased virtual machine tracked by the manager. Rows are
// never deleted; a Halted status closes the record while keeping it
// queryable for history and accounting.
type Instance struct {
	gorm.Model
	// Handle is the identifier assigned by the cloud backend. It may be
	// empty until submission completes, and must be unique among
	// non-Halted instances.
	Handle     string         `json:"handle" gorm:"index;varchar(255)"`
	Name       string         `json:"name" gorm:"not null;index;varchar(255)"`
	Image      string         `json:"image" gorm:"varchar(255)"`
	RunningPod string         `json:"running_pod" gorm:"varchar(255)"`
	Site       string         `json:"site" gorm:"not null;varchar(255)"`
	Endpoint   string         `json:"endpoint" gorm:"not null;varchar(255)"`
	PublicIP   string         `json:"public_ip" gorm:"varchar(100)"`
	PrivateIP  string         `json:"private_ip" gorm:"varchar(100)"`
	Status     InstanceStatus `json:"status" gorm:"index"`

	// Telemetry from the most recent heartbeat
	Load             float64    `json:"load"`
	Jobs             int64      `json:"jobs"`
	TransferredFiles int64      `json:"transferred_files"`
	TransferredBytes int64      `json:"transferred_bytes"`
	Uptime           int64      `json:"uptime"`
	LastHeartbeatAt  *time.Time `json:"last_heartbeat_at" gorm:"index"`
}

// SiteEndpoint renders the compound gateway descriptor the way it is
// keyed in the gateway configuration
func (i *Instance) SiteEndpoint() string {
	return fmt.Sprintf("%s::%s", i.Site, i.Endpoint)
}

// Closed reports whether the instance has left active management
func (i *Instance) Closed() bool {
	return i.Status == InstanceStatusHalted
}
