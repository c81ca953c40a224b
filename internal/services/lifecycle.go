// Package services provides the business logic of the lifecycle manager
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/db/repos"
	"github.com/virtfleet/virtfleet/internal/logger"
	"github.com/virtfleet/virtfleet/internal/types"
)

// Lifecycle owns every instance status mutation. All writes go through
// the allowed-transition table and append exactly one history entry per
// applied change, inside one transaction per mutation.
type Lifecycle struct {
	instances *repos.InstanceRepository
	history   *repos.HistoryRepository
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(instances *repos.InstanceRepository, history *repos.HistoryRepository) *Lifecycle {
	return &Lifecycle{instances: instances, history: history}
}

// Register creates a New instance. It fails with DuplicateHandle when the
// backend handle already names a live (non-Halted) instance; a handle
// freed by a Halted instance may be reused.
func (s *Lifecycle) Register(ctx context.Context, req types.RegisterRequest) (uint, error) {
	var id uint
	err := s.instances.Transaction(ctx, func(instances *repos.InstanceRepository, history *repos.HistoryRepository) error {
		if req.Handle != "" {
			_, err := instances.GetByHandleForUpdate(ctx, req.Handle)
			if err == nil {
				return types.ErrDuplicateHandle
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return storeError(err)
			}
		}

		instance := &models.Instance{
			Handle:     req.Handle,
			Name:       req.Name,
			Image:      req.Image,
			RunningPod: req.RunningPod,
			Site:       req.Site,
			Endpoint:   req.Endpoint,
			Status:     models.InstanceStatusNew,
		}
		if err := instances.Create(ctx, instance); err != nil {
			return storeError(err)
		}
		id = instance.ID

		return history.Append(ctx, &models.HistoryEntry{
			InstanceID: instance.ID,
			FromStatus: models.InstanceStatusUnknown,
			ToStatus:   models.InstanceStatusNew,
		})
	})
	if err != nil {
		return 0, err
	}

	logger.InfoWithFields("Instance registered", map[string]interface{}{
		"instance_id": id,
		"handle":      req.Handle,
		"site":        req.Site,
		"endpoint":    req.Endpoint,
	})
	return id, nil
}

// Mutation applies side data to an instance while its transition commits
type Mutation func(instance *models.Instance, updates map[string]interface{})

// Transition validates instanceID's move to target against the
// allowed-transition table and applies it. The row stays locked from read
// to commit so concurrent heartbeat and halt traffic on the same instance
// serializes. Halted -> Halted is accepted as a no-op without touching
// state or history.
func (s *Lifecycle) Transition(ctx context.Context, instanceID uint, target models.InstanceStatus, mutations ...Mutation) error {
	return s.instances.Transaction(ctx, func(instances *repos.InstanceRepository, history *repos.HistoryRepository) error {
		instance, err := instances.GetByIDForUpdate(ctx, instanceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrUnknownInstance
			}
			return storeError(err)
		}
		return s.applyTransition(ctx, instances, history, instance, target, mutations...)
	})
}

// TransitionByHandle is Transition keyed by the backend handle
func (s *Lifecycle) TransitionByHandle(ctx context.Context, handle string, target models.InstanceStatus, mutations ...Mutation) (*models.Instance, error) {
	var result *models.Instance
	err := s.instances.Transaction(ctx, func(instances *repos.InstanceRepository, history *repos.HistoryRepository) error {
		instance, err := instances.GetByHandleForUpdate(ctx, handle)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrUnknownHandle
			}
			return storeError(err)
		}
		result = instance
		return s.applyTransition(ctx, instances, history, instance, target, mutations...)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyTransition is the single mutation path: table check, field update,
// history append. Callers hold the row lock.
func (s *Lifecycle) applyTransition(ctx context.Context, instances *repos.InstanceRepository, history *repos.HistoryRepository, instance *models.Instance, target models.InstanceStatus, mutations ...Mutation) error {
	from := instance.Status

	if from == models.InstanceStatusHalted && target == models.InstanceStatusHalted {
		// Duplicate reclaim attempt on a closed instance; tolerated so
		// overlapping reconciliation cycles and operator retries never error.
		return nil
	}
	if !models.ValidTransition(from, target) {
		return types.InvalidTransitionError(from, target)
	}

	updates := map[string]interface{}{
		models.InstanceStatusField: target,
	}
	instance.Status = target
	for _, mutate := range mutations {
		mutate(instance, updates)
	}

	if err := instances.Update(ctx, instance.ID, updates); err != nil {
		return storeError(err)
	}

	return history.Append(ctx, &models.HistoryEntry{
		InstanceID:       instance.ID,
		FromStatus:       from,
		ToStatus:         target,
		Load:             instance.Load,
		Jobs:             instance.Jobs,
		TransferredFiles: instance.TransferredFiles,
		TransferredBytes: instance.TransferredBytes,
		Uptime:           instance.Uptime,
	})
}

// RecordHalted drives an instance to Halted after a confirmed backend
// stop (or for instances that never reached a backend). When the current
// status has no direct edge to Halted it routes through Halting, so the
// audit trail always shows the intermediate state. Already-Halted
// instances succeed as a no-op.
func (s *Lifecycle) RecordHalted(ctx context.Context, instanceID uint) error {
	return s.instances.Transaction(ctx, func(instances *repos.InstanceRepository, history *repos.HistoryRepository) error {
		instance, err := instances.GetByIDForUpdate(ctx, instanceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrUnknownInstance
			}
			return storeError(err)
		}

		if instance.Status == models.InstanceStatusHalted {
			return nil
		}
		if !models.ValidTransition(instance.Status, models.InstanceStatusHalted) {
			if err := s.applyTransition(ctx, instances, history, instance, models.InstanceStatusHalting); err != nil {
				return err
			}
		}
		return s.applyTransition(ctx, instances, history, instance, models.InstanceStatusHalted)
	})
}

// DeclareSubmitted moves a New instance to Submitted
func (s *Lifecycle) DeclareSubmitted(ctx context.Context, handle string) error {
	_, err := s.TransitionByHandle(ctx, handle, models.InstanceStatusSubmitted)
	return err
}

// DeclareRunning moves a Submitted instance to Running and records its
// addresses. The public address comes from the transport layer, the
// private one from the instance's own report.
func (s *Lifecycle) DeclareRunning(ctx context.Context, handle, publicIP, privateIP string) error {
	now := time.Now()
	_, err := s.TransitionByHandle(ctx, handle, models.InstanceStatusRunning, func(instance *models.Instance, updates map[string]interface{}) {
		updates["public_ip"] = publicIP
		updates["private_ip"] = privateIP
		updates[models.InstanceLastHeartbeatAtField] = now
		instance.PublicIP = publicIP
		instance.PrivateIP = privateIP
		instance.LastHeartbeatAt = &now
	})
	return err
}

// SetHandle backfills the backend-assigned handle once submission
// completes, preserving live-handle uniqueness
func (s *Lifecycle) SetHandle(ctx context.Context, instanceID uint, handle string) error {
	return s.instances.Transaction(ctx, func(instances *repos.InstanceRepository, _ *repos.HistoryRepository) error {
		existing, err := instances.GetByHandleForUpdate(ctx, handle)
		if err == nil && existing.ID != instanceID {
			return types.ErrDuplicateHandle
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return storeError(err)
		}

		instance, err := instances.GetByIDForUpdate(ctx, instanceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrUnknownInstance
			}
			return storeError(err)
		}
		return instances.Update(ctx, instance.ID, map[string]interface{}{
			models.InstanceHandleField: handle,
		})
	})
}

// GetInstance retrieves an instance by ID
func (s *Lifecycle) GetInstance(ctx context.Context, id uint) (*models.Instance, error) {
	instance, err := s.instances.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrUnknownInstance
		}
		return nil, storeError(err)
	}
	return instance, nil
}

// GetByHandle retrieves the live instance for a backend handle
func (s *Lifecycle) GetByHandle(ctx context.Context, handle string) (*models.Instance, error) {
	instance, err := s.instances.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrUnknownHandle
		}
		return nil, storeError(err)
	}
	return instance, nil
}

// GetByName retrieves the most recently registered instance with the given name
func (s *Lifecycle) GetByName(ctx context.Context, name string) (*models.Instance, error) {
	instance, err := s.instances.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrUnknownInstance
		}
		return nil, storeError(err)
	}
	return instance, nil
}

// ListInstances returns a page of instances
func (s *Lifecycle) ListInstances(ctx context.Context, opts *models.ListOptions) ([]models.Instance, error) {
	instances, err := s.instances.List(ctx, opts)
	if err != nil {
		return nil, storeError(err)
	}
	return instances, nil
}

// ListByStatus returns all instances in the given status
func (s *Lifecycle) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]models.Instance, error) {
	instances, err := s.instances.ListByStatus(ctx, status)
	if err != nil {
		return nil, storeError(err)
	}
	return instances, nil
}

// History returns the full audit trail of an instance, oldest first
func (s *Lifecycle) History(ctx context.Context, instanceID uint) ([]models.HistoryEntry, error) {
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, storeError(err)
	}
	return entries, nil
}

// Counters returns instance counts grouped by the given field
func (s *Lifecycle) Counters(ctx context.Context, groupField string, opts *models.ListOptions) ([]repos.GroupCount, error) {
	counts, err := s.instances.CountByGroup(ctx, groupField, opts)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// RunningHistory aggregates running-instance history into time buckets
func (s *Lifecycle) RunningHistory(ctx context.Context, timespan, bucket time.Duration, groupField string) ([]repos.RunningBucket, error) {
	return s.history.RunningHistory(ctx, timespan, bucket, groupField)
}

// storeError wraps storage failures so callers and handlers can
// distinguish them from lifecycle rule violations
func storeError(err error) error {
	return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
}
