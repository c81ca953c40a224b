package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/types"
)

type HaltDispatcherTestSuite struct {
	ServiceTestSuite
}

func TestHaltDispatcher(t *testing.T) {
	suite.Run(t, new(HaltDispatcherTestSuite))
}

func (s *HaltDispatcherTestSuite) TestHaltInstances() {
	a := s.seedInstance("halt-a", models.InstanceStatusStalled)
	b := s.seedInstance("halt-b", models.InstanceStatusStalled)

	result := s.dispatcher.HaltInstances(s.ctx, []uint{a.ID, b.ID})

	s.Equal([]uint{a.ID, b.ID}, result.Successful)
	s.Empty(result.Failed)
	s.ElementsMatch([]string{"halt-a", "halt-b"}, s.gateway().Stopped())

	s.Equal(models.InstanceStatusHalted, s.currentStatus(a.ID))
	s.Equal(models.InstanceStatusHalted, s.currentStatus(b.ID))

	// Stalled instances pass through Halting on their way down
	entries, err := s.lifecycle.History(s.ctx, a.ID)
	s.NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(models.InstanceStatusHalting, entries[0].ToStatus)
	s.Equal(models.InstanceStatusHalted, entries[1].ToStatus)
}

func (s *HaltDispatcherTestSuite) TestHaltInstancesEmptyBatch() {
	result := s.dispatcher.HaltInstances(s.ctx, nil)
	s.Empty(result.Successful)
	s.Empty(result.Failed)
}

func (s *HaltDispatcherTestSuite) TestHaltInstancesFailureIsolation() {
	good := s.seedInstance("iso-good", models.InstanceStatusStalled)
	bad := s.seedInstance("iso-bad", models.InstanceStatusStalled)
	s.gateway().FailHandles["iso-bad"] = true

	result := s.dispatcher.HaltInstances(s.ctx, []uint{good.ID, bad.ID})

	s.Equal([]uint{good.ID}, result.Successful)
	s.Require().Contains(result.Failed, bad.ID)
	s.Contains(result.Failed[bad.ID], "backend call failed")

	// The failed instance keeps its status and stays eligible for retry
	s.Equal(models.InstanceStatusHalted, s.currentStatus(good.ID))
	s.Equal(models.InstanceStatusStalled, s.currentStatus(bad.ID))
}

func (s *HaltDispatcherTestSuite) TestHaltInstancesResolutionFailureIsolation() {
	before := s.seedInstance("gw-ok-1", models.InstanceStatusStalled)
	orphan := s.seedInstance("no-gw", models.InstanceStatusStalled, func(i *models.Instance) {
		i.Site = "CLOUD.Orphan"
	})
	after := s.seedInstance("gw-ok-2", models.InstanceStatusStalled)
	s.resolver.FailSites["CLOUD.Orphan::Cloud"] = true

	result := s.dispatcher.HaltInstances(s.ctx, []uint{before.ID, orphan.ID, after.ID})

	// The resolution failure lands on the orphan only
	s.Equal([]uint{before.ID, after.ID}, result.Successful)
	s.Require().Len(result.Failed, 1)
	s.Contains(result.Failed[orphan.ID], "backend unreachable")
	s.Equal(models.InstanceStatusStalled, s.currentStatus(orphan.ID))
}

func (s *HaltDispatcherTestSuite) TestHaltInstancesMissingHandle() {
	instance := s.seedInstance("", models.InstanceStatusStalled)

	result := s.dispatcher.HaltInstances(s.ctx, []uint{instance.ID})

	s.Require().Contains(result.Failed, instance.ID)
	s.Empty(s.gateway().Stopped(), "no backend call without a handle")
}

func (s *HaltDispatcherTestSuite) TestHaltInstancesMissingPublicIP() {
	instance := s.seedInstance("no-ip", models.InstanceStatusStalled, func(i *models.Instance) {
		i.PublicIP = ""
	})

	result := s.dispatcher.HaltInstances(s.ctx, []uint{instance.ID})

	s.Require().Contains(result.Failed, instance.ID)
	s.Contains(result.Failed[instance.ID], "no public address")
}

func (s *HaltDispatcherTestSuite) TestHaltInstancesUnknownID() {
	result := s.dispatcher.HaltInstances(s.ctx, []uint{31337})

	s.Require().Contains(result.Failed, uint(31337))
	s.Contains(result.Failed[31337], "unknown instance")
}

func (s *HaltDispatcherTestSuite) TestHaltInstancesAlreadyHalted() {
	instance := s.seedInstance("done", models.InstanceStatusHalted)

	result := s.dispatcher.HaltInstances(s.ctx, []uint{instance.ID})

	s.Equal([]uint{instance.ID}, result.Successful)
	s.Empty(s.gateway().Stopped(), "closed instances get no backend call")
	s.Zero(s.historyCount(instance.ID))
}

func (s *HaltDispatcherTestSuite) TestRequestStopNewInstance() {
	instance := s.seedInstance("stop-new", models.InstanceStatusNew)

	result := s.dispatcher.RequestStop(s.ctx, []uint{instance.ID})

	s.Equal([]uint{instance.ID}, result.Successful)
	s.Empty(s.gateway().Stopped(), "instances that never reached a backend close without a call")
	s.Equal(models.InstanceStatusHalted, s.currentStatus(instance.ID))
}

func (s *HaltDispatcherTestSuite) TestRequestStopStalledInstance() {
	instance := s.seedInstance("stop-stalled", models.InstanceStatusStalled)

	result := s.dispatcher.RequestStop(s.ctx, []uint{instance.ID})

	s.Equal([]uint{instance.ID}, result.Successful)
	s.Equal([]string{"stop-stalled"}, s.gateway().Stopped(), "stalled instances go straight to halt dispatch")
	s.Equal(models.InstanceStatusHalted, s.currentStatus(instance.ID))
}

func (s *HaltDispatcherTestSuite) TestRequestStopRunningInstance() {
	instance := s.seedInstance("stop-running", models.InstanceStatusRunning)

	result := s.dispatcher.RequestStop(s.ctx, []uint{instance.ID})

	// Running instances have no stop edge; they stall out or report
	// halting on their own
	s.Require().Contains(result.Failed, instance.ID)
	s.Contains(result.Failed[instance.ID], "invalid status transition")
	s.Equal(models.InstanceStatusRunning, s.currentStatus(instance.ID))
}

func (s *HaltDispatcherTestSuite) TestRequestStopHaltedInstance() {
	instance := s.seedInstance("stop-done", models.InstanceStatusHalted)

	result := s.dispatcher.RequestStop(s.ctx, []uint{instance.ID})

	s.Equal([]uint{instance.ID}, result.Successful)
	s.Empty(s.gateway().Stopped())
}

func (s *HaltDispatcherTestSuite) TestRequestStopMixedBatch() {
	fresh := s.seedInstance("mix-new", models.InstanceStatusNew)
	stalled := s.seedInstance("mix-stalled", models.InstanceStatusStalled)
	running := s.seedInstance("mix-running", models.InstanceStatusRunning)

	result := s.dispatcher.RequestStop(s.ctx, []uint{fresh.ID, stalled.ID, running.ID, 99999})

	s.Equal([]uint{fresh.ID, stalled.ID}, result.Successful)
	s.Contains(result.Failed, running.ID)
	s.Contains(result.Failed, uint(99999))
}

func (s *HaltDispatcherTestSuite) TestDeclareHalting() {
	instance := s.seedInstance("self-stop", models.InstanceStatusRunning)

	result, err := s.dispatcher.DeclareHalting(s.ctx, "self-stop", 0.05)
	s.NoError(err)
	s.Equal([]uint{instance.ID}, result.Successful)

	// The agent's report triggers the backend reclaim immediately
	s.Equal([]string{"self-stop"}, s.gateway().Stopped())
	s.Equal(models.InstanceStatusHalted, s.currentStatus(instance.ID))

	entries, lerr := s.lifecycle.History(s.ctx, instance.ID)
	s.NoError(lerr)
	s.Require().Len(entries, 2)
	s.Equal(models.InstanceStatusHalting, entries[0].ToStatus)
	s.InDelta(0.05, entries[0].Load, 1e-9)
	s.Equal(models.InstanceStatusHalted, entries[1].ToStatus)
}

func (s *HaltDispatcherTestSuite) TestDeclareHaltingBackendFailureLeavesHalting() {
	instance := s.seedInstance("self-fail", models.InstanceStatusRunning)
	s.gateway().FailHandles["self-fail"] = true

	result, err := s.dispatcher.DeclareHalting(s.ctx, "self-fail", 0.0)
	s.NoError(err)
	s.Contains(result.Failed, instance.ID)

	// The transition applied; only the backend reclaim is pending
	s.Equal(models.InstanceStatusHalting, s.currentStatus(instance.ID))
}

func (s *HaltDispatcherTestSuite) TestDeclareHaltingAlreadyReclaimed() {
	instance := s.seedInstance("late-report", models.InstanceStatusHalted)

	result, err := s.dispatcher.DeclareHalting(s.ctx, "late-report", 0.0)
	s.NoError(err, "a slow agent report after reclaim must not fail")
	s.Equal([]uint{instance.ID}, result.Successful)
	s.Empty(s.gateway().Stopped())
}

func (s *HaltDispatcherTestSuite) TestDeclareHaltingUnknownHandle() {
	_, err := s.dispatcher.DeclareHalting(s.ctx, "never-seen", 0.0)
	s.True(errors.Is(err, types.ErrUnknownHandle))
}

func (s *HaltDispatcherTestSuite) TestDeclareHaltingInvalidStatus() {
	s.seedInstance("too-early", models.InstanceStatusNew)

	_, err := s.dispatcher.DeclareHalting(s.ctx, "too-early", 0.0)
	s.True(errors.Is(err, types.ErrInvalidTransition))
}
