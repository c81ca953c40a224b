package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/virtfleet/virtfleet/internal/db/models"
)

type ReconcilerTestSuite struct {
	ServiceTestSuite
	reconciler *Reconciler
}

func (s *ReconcilerTestSuite) SetupTest() {
	s.ServiceTestSuite.SetupTest()
	s.reconciler = NewReconciler(s.lifecycle, s.heartbeat, s.dispatcher, time.Hour)
}

func TestReconciler(t *testing.T) {
	suite.Run(t, new(ReconcilerTestSuite))
}

// silentSince plants a Running instance whose last heartbeat is the
// given age in the past
func (s *ReconcilerTestSuite) silentSince(handle string, age time.Duration) *models.Instance {
	lhb := time.Now().Add(-age)
	return s.seedInstance(handle, models.InstanceStatusRunning, func(i *models.Instance) {
		i.LastHeartbeatAt = &lhb
	})
}

func (s *ReconcilerTestSuite) TestCycleReclaimsSilentInstance() {
	stale := s.silentSince("silent", testStallTimeout+time.Minute)

	s.NoError(s.reconciler.Cycle(s.ctx))

	// One pass takes the instance all the way down
	s.Equal(models.InstanceStatusHalted, s.currentStatus(stale.ID))
	s.Equal([]string{"silent"}, s.gateway().Stopped())

	// Running -> Stalled -> Halting -> Halted, fully audited
	entries, err := s.lifecycle.History(s.ctx, stale.ID)
	s.NoError(err)
	s.Require().Len(entries, 3)
	s.Equal(models.InstanceStatusStalled, entries[0].ToStatus)
	s.Equal(models.InstanceStatusHalting, entries[1].ToStatus)
	s.Equal(models.InstanceStatusHalted, entries[2].ToStatus)
}

func (s *ReconcilerTestSuite) TestCycleLeavesHealthyInstancesAlone() {
	healthy := s.silentSince("healthy", time.Minute)
	fresh := s.seedInstance("fresh", models.InstanceStatusSubmitted)

	s.NoError(s.reconciler.Cycle(s.ctx))

	s.Equal(models.InstanceStatusRunning, s.currentStatus(healthy.ID))
	s.Equal(models.InstanceStatusSubmitted, s.currentStatus(fresh.ID))
	s.Empty(s.gateway().Stopped())
}

func (s *ReconcilerTestSuite) TestCycleRetriesFailedHalts() {
	stale := s.silentSince("flaky", testStallTimeout+time.Minute)
	s.gateway().FailHandles["flaky"] = true

	s.NoError(s.reconciler.Cycle(s.ctx))
	s.Equal(models.InstanceStatusStalled, s.currentStatus(stale.ID), "failed stop leaves the instance stalled")

	// Backend recovers; the next cycle picks the instance up again even
	// though it was declared stalled earlier
	delete(s.gateway().FailHandles, "flaky")
	s.NoError(s.reconciler.Cycle(s.ctx))
	s.Equal(models.InstanceStatusHalted, s.currentStatus(stale.ID))
}

func (s *ReconcilerTestSuite) TestCycleDispatchesPreexistingStalled() {
	stale := s.seedInstance("leftover", models.InstanceStatusStalled)

	s.NoError(s.reconciler.Cycle(s.ctx))

	s.Equal(models.InstanceStatusHalted, s.currentStatus(stale.ID))
	s.Equal([]string{"leftover"}, s.gateway().Stopped())
}

func (s *ReconcilerTestSuite) TestStartRunsImmediateCycle() {
	stale := s.silentSince("at-boot", testStallTimeout+time.Minute)

	s.reconciler.Start(s.ctx)
	defer s.reconciler.Stop()

	// Start runs the first cycle synchronously
	s.Equal(models.InstanceStatusHalted, s.currentStatus(stale.ID))
}

func (s *ReconcilerTestSuite) TestStopTerminatesLoop() {
	s.reconciler.Start(s.ctx)

	done := make(chan struct{})
	go func() {
		s.reconciler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("reconciler did not stop in time")
	}
}
