package services

import (
	"context"
	"time"

	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/logger"
)

// DefaultReconcileInterval matches the cadence instances are expected to
// heartbeat on
const DefaultReconcileInterval = 15 * time.Minute

// Reconciler periodically finds Running instances whose heartbeat has
// gone silent, declares them Stalled and hands them to the halt
// dispatcher. A failed cycle is logged and retried on the next tick; the
// loop heals itself by re-running on a fixed cadence.
type Reconciler struct {
	lifecycle  *Lifecycle
	heartbeat  *Heartbeat
	dispatcher *HaltDispatcher
	interval   time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReconciler creates a reconciler with the given scan interval
func NewReconciler(lifecycle *Lifecycle, heartbeat *Heartbeat, dispatcher *HaltDispatcher, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		lifecycle:  lifecycle,
		heartbeat:  heartbeat,
		dispatcher: dispatcher,
		interval:   interval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs one cycle immediately, so instances already stale at process
// start are reclaimed promptly, then schedules the periodic loop
func (r *Reconciler) Start(ctx context.Context) {
	if err := r.Cycle(ctx); err != nil {
		logger.Errorf("Initial reconciliation cycle failed: %v", err)
	}

	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		defer close(r.doneCh)
		for {
			select {
			case <-ticker.C:
				if err := r.Cycle(ctx); err != nil {
					logger.Errorf("Reconciliation cycle failed: %v", err)
				}
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic loop and waits for the in-flight cycle's
// goroutine to finish
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// Cycle runs one reconciliation pass: scan, declare stalled, dispatch
// halts. A store failure aborts the pass without touching any instance.
func (r *Reconciler) Cycle(ctx context.Context) error {
	metricReconcileCycles.Inc()

	running, err := r.lifecycle.ListByStatus(ctx, models.InstanceStatusRunning)
	if err != nil {
		metricReconcileFailures.Inc()
		return err
	}

	now := time.Now()
	timeout := r.heartbeat.StallTimeout()
	for i := range running {
		instance := &running[i]
		if !IsStalled(instance, now, timeout) {
			continue
		}
		if err := r.lifecycle.Transition(ctx, instance.ID, models.InstanceStatusStalled); err != nil {
			// Lost a race with a concurrent transition; the next cycle
			// will see the instance's new status.
			logger.Warnf("Failed to declare instance %d stalled: %v", instance.ID, err)
			continue
		}
		metricStalledDetected.Inc()
		logger.InfoWithFields("Instance declared stalled", map[string]interface{}{
			"instance_id":    instance.ID,
			"handle":         instance.Handle,
			"last_heartbeat": instance.LastHeartbeatAt,
		})
	}

	// Dispatch every currently stalled instance, not only the ones this
	// cycle declared, so instances whose previous halt attempt failed are
	// retried.
	stalled, err := r.lifecycle.ListByStatus(ctx, models.InstanceStatusStalled)
	if err != nil {
		metricReconcileFailures.Inc()
		return err
	}
	if len(stalled) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(stalled))
	for _, instance := range stalled {
		ids = append(ids, instance.ID)
	}
	r.dispatcher.HaltInstances(ctx, ids)
	return nil
}
