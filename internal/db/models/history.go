package models

import (
	"time"
)

// HistoryEntry is an immutable audit record of one status change. Exactly
// one entry is appended per successful status mutation, including the
// creating transition into New. Entries are never updated or deleted by
// the lifecycle engine; retention is an external concern.
//
// Telemetry fields snapshot the instance's last heartbeat at the moment
// of the change so time-bucketed aggregates can be computed from history
// alone.
type HistoryEntry struct {
	ID         uint           `json:"id" gorm:"primarykey"`
	InstanceID uint           `json:"instance_id" gorm:"not null;index"`
	FromStatus InstanceStatus `json:"from_status"`
	ToStatus   InstanceStatus `json:"to_status" gorm:"index"`

	Load             float64   `json:"load"`
	Jobs             int64     `json:"jobs"`
	TransferredFiles int64     `json:"transferred_files"`
	TransferredBytes int64     `json:"transferred_bytes"`
	Uptime           int64     `json:"uptime"`
	CreatedAt        time.Time `json:"created_at" gorm:"index"`
}
