package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/virtfleet/virtfleet/internal/compute"
	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/db/repos"
	"github.com/virtfleet/virtfleet/internal/logger"
	"github.com/virtfleet/virtfleet/internal/types"
)

// Defaults for halt dispatch concurrency
const (
	DefaultHaltWorkers = 8
	DefaultHaltTimeout = 30 * time.Second
)

// HaltDispatcher drives backend stop calls for batches of instances.
// Per-instance work is independent: one unreachable backend or malformed
// record never blocks the rest of the batch.
type HaltDispatcher struct {
	lifecycle *Lifecycle
	instances *repos.InstanceRepository
	resolver  compute.Resolver

	// workers bounds concurrent backend calls; callTimeout bounds each one
	workers     int
	callTimeout time.Duration
}

// NewHaltDispatcher creates a halt dispatcher
func NewHaltDispatcher(lifecycle *Lifecycle, instances *repos.InstanceRepository, resolver compute.Resolver, workers int, callTimeout time.Duration) *HaltDispatcher {
	if workers <= 0 {
		workers = DefaultHaltWorkers
	}
	if callTimeout <= 0 {
		callTimeout = DefaultHaltTimeout
	}
	return &HaltDispatcher{
		lifecycle:   lifecycle,
		instances:   instances,
		resolver:    resolver,
		workers:     workers,
		callTimeout: callTimeout,
	}
}

// HaltInstances stops every instance in the batch, concurrently and
// independently, and reports the per-instance outcome. The batch itself
// never fails: backend errors land in the Failed map and leave the
// instance eligible for a later attempt.
func (d *HaltDispatcher) HaltInstances(ctx context.Context, instanceIDs []uint) *types.HaltResult {
	result := types.NewHaltResult()
	if len(instanceIDs) == 0 {
		return result
	}

	type outcome struct {
		id  uint
		err error
	}

	sem := make(chan struct{}, d.workers)
	outcomes := make(chan outcome, len(instanceIDs))
	var wg sync.WaitGroup

	for _, id := range instanceIDs {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes <- outcome{id: id, err: d.haltOne(ctx, id)}
		}(id)
	}
	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		if o.err != nil {
			result.Failed[o.id] = o.err.Error()
			metricHaltOutcomes.WithLabelValues("failed").Inc()
			logger.ErrorWithFields("Halt dispatch failed", map[string]interface{}{
				"instance_id": o.id,
				"error":       o.err.Error(),
			})
		} else {
			result.Successful = append(result.Successful, o.id)
			metricHaltOutcomes.WithLabelValues("successful").Inc()
		}
	}
	sort.Slice(result.Successful, func(i, j int) bool { return result.Successful[i] < result.Successful[j] })

	logger.InfoWithFields("Halt dispatch finished", map[string]interface{}{
		"requested":  len(instanceIDs),
		"successful": len(result.Successful),
		"failed":     len(result.Failed),
	})
	return result
}

// haltOne resolves one instance to its backend and stops it. Each step
// failure is reported against this instance only.
func (d *HaltDispatcher) haltOne(ctx context.Context, instanceID uint) error {
	instance, err := d.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrUnknownInstance
		}
		return storeError(err)
	}

	// Duplicate reclaim attempt; already closed, nothing to stop.
	if instance.Status == models.InstanceStatusHalted {
		return nil
	}

	if instance.Handle == "" {
		return fmt.Errorf("%w: instance %d has no backend handle", types.ErrUnknownHandle, instanceID)
	}

	gateway, err := d.resolver.Resolve(instance.Site, instance.Endpoint)
	if err != nil {
		return err
	}

	if instance.PublicIP == "" {
		return fmt.Errorf("instance %d has no public address", instanceID)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	if err := gateway.Stop(callCtx, instance.Handle, instance.PublicIP); err != nil {
		return err
	}

	return d.lifecycle.RecordHalted(ctx, instanceID)
}

// RequestStop is the caller-initiated stop path. Each requested instance
// is routed by its current status: Stalled instances are already
// unreachable and go straight to halt dispatch, New instances close
// immediately with no backend call, Halted instances succeed as a no-op,
// and everything else gets the Stopping transition so the agent observes
// the shutdown request on its next heartbeat. Per-item outcomes never
// abort the rest of the request.
func (d *HaltDispatcher) RequestStop(ctx context.Context, instanceIDs []uint) *types.HaltResult {
	result := types.NewHaltResult()

	var toHalt []uint
	for _, id := range instanceIDs {
		instance, err := d.lifecycle.GetInstance(ctx, id)
		if err != nil {
			result.Failed[id] = err.Error()
			continue
		}

		switch instance.Status {
		case models.InstanceStatusStalled:
			toHalt = append(toHalt, id)
		case models.InstanceStatusNew:
			if err := d.lifecycle.RecordHalted(ctx, id); err != nil {
				result.Failed[id] = err.Error()
			} else {
				result.Successful = append(result.Successful, id)
			}
		case models.InstanceStatusHalted:
			result.Successful = append(result.Successful, id)
		default:
			if err := d.lifecycle.Transition(ctx, id, models.InstanceStatusStopping); err != nil {
				result.Failed[id] = err.Error()
			} else {
				result.Successful = append(result.Successful, id)
			}
		}
	}

	if len(toHalt) > 0 {
		halted := d.HaltInstances(ctx, toHalt)
		result.Successful = append(result.Successful, halted.Successful...)
		for id, reason := range halted.Failed {
			result.Failed[id] = reason
		}
	}
	sort.Slice(result.Successful, func(i, j int) bool { return result.Successful[i] < result.Successful[j] })
	return result
}

// DeclareHalting handles an instance's own shutdown report: it applies
// the Halting transition and immediately dispatches the backend stop for
// it. A handle whose instance was already reclaimed concurrently is
// answered with success rather than an error, so a slow agent report
// after reconciliation does not fail.
func (d *HaltDispatcher) DeclareHalting(ctx context.Context, handle string, load float64) (*types.HaltResult, error) {
	instance, err := d.lifecycle.TransitionByHandle(ctx, handle, models.InstanceStatusHalting, func(i *models.Instance, updates map[string]interface{}) {
		updates["load"] = load
		i.Load = load
	})
	if err != nil {
		if errors.Is(err, types.ErrUnknownHandle) {
			closed, lookupErr := d.instances.GetByHandleIncludingClosed(ctx, handle)
			if lookupErr == nil && closed.Status == models.InstanceStatusHalted {
				result := types.NewHaltResult()
				result.Successful = append(result.Successful, closed.ID)
				return result, nil
			}
		}
		return nil, err
	}

	return d.HaltInstances(ctx, []uint{instance.ID}), nil
}
