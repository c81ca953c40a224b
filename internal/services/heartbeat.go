package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/db/repos"
	"github.com/virtfleet/virtfleet/internal/logger"
	"github.com/virtfleet/virtfleet/internal/types"
)

// DefaultStallTimeout is the default maximum heartbeat silence tolerated
// before a Running instance is presumed dead
const DefaultStallTimeout = 15 * time.Minute

// Heartbeat folds periodic health reports from running instances into
// the lifecycle state and classifies silent instances as stalled
type Heartbeat struct {
	lifecycle *Lifecycle
	instances *repos.InstanceRepository

	// stallTimeout is the maximum heartbeat silence tolerated before a
	// Running instance is presumed unreachable or dead
	stallTimeout time.Duration
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(lifecycle *Lifecycle, instances *repos.InstanceRepository, stallTimeout time.Duration) *Heartbeat {
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	return &Heartbeat{
		lifecycle:    lifecycle,
		instances:    instances,
		stallTimeout: stallTimeout,
	}
}

// StallTimeout returns the configured stall timeout
func (s *Heartbeat) StallTimeout() time.Duration {
	return s.stallTimeout
}

// Record applies one heartbeat. The first heartbeat of a Submitted
// instance implies a successful boot and moves it to Running, using the
// caller's public address as learned by the transport layer. A heartbeat
// from a Stopping instance is accepted so the response can carry the
// cooperative shutdown signal back to the agent. Any other status is
// incompatible with reporting health.
func (s *Heartbeat) Record(ctx context.Context, req types.HeartbeatRequest, callerPublicIP string) (*types.HeartbeatResponse, error) {
	resp := &types.HeartbeatResponse{}

	err := s.instances.Transaction(ctx, func(instances *repos.InstanceRepository, history *repos.HistoryRepository) error {
		instance, err := instances.GetByHandleForUpdate(ctx, req.Handle)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrUnknownHandle
			}
			return storeError(err)
		}

		switch instance.Status {
		case models.InstanceStatusSubmitted:
			return s.lifecycle.applyTransition(ctx, instances, history, instance, models.InstanceStatusRunning,
				telemetryMutation(req, time.Now()),
				func(i *models.Instance, updates map[string]interface{}) {
					updates["public_ip"] = callerPublicIP
					i.PublicIP = callerPublicIP
				},
			)
		case models.InstanceStatusRunning, models.InstanceStatusStopping:
			resp.StopRequested = instance.Status == models.InstanceStatusStopping

			updates := map[string]interface{}{}
			telemetryMutation(req, time.Now())(instance, updates)
			if err := instances.Update(ctx, instance.ID, updates); err != nil {
				return storeError(err)
			}
			return nil
		default:
			return types.InvalidTransitionError(instance.Status, models.InstanceStatusRunning)
		}
	})
	if err != nil {
		return nil, err
	}

	if resp.StopRequested {
		logger.Infof("Heartbeat from %s answered with stop request", req.Handle)
	}
	return resp, nil
}

// telemetryMutation folds the reported health figures into an instance
// update. LastHeartbeatAt only moves forward.
func telemetryMutation(req types.HeartbeatRequest, now time.Time) Mutation {
	return func(instance *models.Instance, updates map[string]interface{}) {
		updates["load"] = req.Load
		updates["jobs"] = req.Jobs
		updates["transferred_files"] = req.TransferredFiles
		updates["transferred_bytes"] = req.TransferredBytes
		updates["uptime"] = req.Uptime
		instance.Load = req.Load
		instance.Jobs = req.Jobs
		instance.TransferredFiles = req.TransferredFiles
		instance.TransferredBytes = req.TransferredBytes
		instance.Uptime = req.Uptime

		if instance.LastHeartbeatAt == nil || now.After(*instance.LastHeartbeatAt) {
			updates[models.InstanceLastHeartbeatAtField] = now
			instance.LastHeartbeatAt = &now
		}
	}
}

// IsStalled reports whether a Running instance has been silent longer
// than the timeout at the given point in time. Pure and monotonic in
// now: once true for a fixed last heartbeat, it stays true.
func IsStalled(instance *models.Instance, now time.Time, timeout time.Duration) bool {
	if instance.Status != models.InstanceStatusRunning {
		return false
	}
	if instance.LastHeartbeatAt == nil {
		return false
	}
	return now.Sub(*instance.LastHeartbeatAt) > timeout
}
