package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/types"
)

type LifecycleTestSuite struct {
	ServiceTestSuite
}

func TestLifecycle(t *testing.T) {
	suite.Run(t, new(LifecycleTestSuite))
}

func (s *LifecycleTestSuite) TestRegister() {
	id, err := s.lifecycle.Register(s.ctx, types.RegisterRequest{
		Handle:   "agent-1",
		Name:     "vm-agent-1",
		Image:    "centos-7",
		Site:     "CLOUD.Test",
		Endpoint: "Cloud",
	})
	s.NoError(err)
	s.NotZero(id)
	s.Equal(models.InstanceStatusNew, s.currentStatus(id))

	// Registration seeds the audit trail
	entries, err := s.lifecycle.History(s.ctx, id)
	s.NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.InstanceStatusUnknown, entries[0].FromStatus)
	s.Equal(models.InstanceStatusNew, entries[0].ToStatus)
}

func (s *LifecycleTestSuite) TestRegisterDuplicateHandle() {
	_, err := s.lifecycle.Register(s.ctx, types.RegisterRequest{
		Handle: "dup", Name: "vm-a", Image: "centos-7", Site: "CLOUD.Test", Endpoint: "Cloud",
	})
	s.Require().NoError(err)

	_, err = s.lifecycle.Register(s.ctx, types.RegisterRequest{
		Handle: "dup", Name: "vm-b", Image: "centos-7", Site: "CLOUD.Test", Endpoint: "Cloud",
	})
	s.True(errors.Is(err, types.ErrDuplicateHandle))
}

func (s *LifecycleTestSuite) TestRegisterHandleReuseAfterHalted() {
	s.seedInstance("freed", models.InstanceStatusHalted)

	id, err := s.lifecycle.Register(s.ctx, types.RegisterRequest{
		Handle: "freed", Name: "vm-c", Image: "centos-7", Site: "CLOUD.Test", Endpoint: "Cloud",
	})
	s.NoError(err, "a handle freed by a halted instance may be reused")
	s.NotZero(id)
}

func (s *LifecycleTestSuite) TestTransitionValid() {
	instance := s.seedInstance("t-1", models.InstanceStatusNew)

	s.NoError(s.lifecycle.Transition(s.ctx, instance.ID, models.InstanceStatusSubmitted))
	s.Equal(models.InstanceStatusSubmitted, s.currentStatus(instance.ID))
	s.Equal(int64(1), s.historyCount(instance.ID))
}

func (s *LifecycleTestSuite) TestTransitionInvalid() {
	instance := s.seedInstance("t-2", models.InstanceStatusNew)

	err := s.lifecycle.Transition(s.ctx, instance.ID, models.InstanceStatusRunning)
	s.True(errors.Is(err, types.ErrInvalidTransition))

	// Rejected transitions touch neither state nor history
	s.Equal(models.InstanceStatusNew, s.currentStatus(instance.ID))
	s.Zero(s.historyCount(instance.ID))
}

func (s *LifecycleTestSuite) TestTransitionUnknownInstance() {
	err := s.lifecycle.Transition(s.ctx, 9999, models.InstanceStatusSubmitted)
	s.True(errors.Is(err, types.ErrUnknownInstance))
}

func (s *LifecycleTestSuite) TestTransitionByHandleUnknown() {
	_, err := s.lifecycle.TransitionByHandle(s.ctx, "ghost", models.InstanceStatusSubmitted)
	s.True(errors.Is(err, types.ErrUnknownHandle))
}

func (s *LifecycleTestSuite) TestHaltedIdempotence() {
	instance := s.seedInstance("idem", models.InstanceStatusHalted)

	s.NoError(s.lifecycle.Transition(s.ctx, instance.ID, models.InstanceStatusHalted))
	s.NoError(s.lifecycle.RecordHalted(s.ctx, instance.ID))

	// No-op successes leave the audit trail untouched
	s.Zero(s.historyCount(instance.ID))
	s.Equal(models.InstanceStatusHalted, s.currentStatus(instance.ID))
}

func (s *LifecycleTestSuite) TestRecordHaltedDirectEdge() {
	instance := s.seedInstance("direct", models.InstanceStatusHalting)

	s.NoError(s.lifecycle.RecordHalted(s.ctx, instance.ID))
	s.Equal(models.InstanceStatusHalted, s.currentStatus(instance.ID))
	s.Equal(int64(1), s.historyCount(instance.ID))
}

func (s *LifecycleTestSuite) TestRecordHaltedRoutesThroughHalting() {
	instance := s.seedInstance("routed", models.InstanceStatusStalled)

	s.NoError(s.lifecycle.RecordHalted(s.ctx, instance.ID))
	s.Equal(models.InstanceStatusHalted, s.currentStatus(instance.ID))

	// The audit trail shows the intermediate Halting step
	entries, err := s.lifecycle.History(s.ctx, instance.ID)
	s.NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(models.InstanceStatusStalled, entries[0].FromStatus)
	s.Equal(models.InstanceStatusHalting, entries[0].ToStatus)
	s.Equal(models.InstanceStatusHalting, entries[1].FromStatus)
	s.Equal(models.InstanceStatusHalted, entries[1].ToStatus)
}

func (s *LifecycleTestSuite) TestFullLifecycleHistoryLength() {
	id, err := s.lifecycle.Register(s.ctx, types.RegisterRequest{
		Handle: "full", Name: "vm-full", Image: "centos-7", Site: "CLOUD.Test", Endpoint: "Cloud",
	})
	s.Require().NoError(err)

	steps := []models.InstanceStatus{
		models.InstanceStatusSubmitted,
		models.InstanceStatusRunning,
		models.InstanceStatusHalting,
		models.InstanceStatusHalted,
	}
	for _, target := range steps {
		s.Require().NoError(s.lifecycle.Transition(s.ctx, id, target))
	}

	// One entry per applied transition, plus the registration entry
	s.Equal(int64(len(steps)+1), s.historyCount(id))
}

func (s *LifecycleTestSuite) TestDeclareSubmittedAndRunning() {
	instance := s.seedInstance("boot", models.InstanceStatusNew, func(i *models.Instance) {
		i.PublicIP = ""
	})

	s.NoError(s.lifecycle.DeclareSubmitted(s.ctx, "boot"))
	s.Equal(models.InstanceStatusSubmitted, s.currentStatus(instance.ID))

	s.NoError(s.lifecycle.DeclareRunning(s.ctx, "boot", "198.51.100.7", "10.1.2.3"))

	found, err := s.lifecycle.GetInstance(s.ctx, instance.ID)
	s.NoError(err)
	s.Equal(models.InstanceStatusRunning, found.Status)
	s.Equal("198.51.100.7", found.PublicIP)
	s.Equal("10.1.2.3", found.PrivateIP)
	s.NotNil(found.LastHeartbeatAt)
}

func (s *LifecycleTestSuite) TestSetHandle() {
	instance := s.seedInstance("", models.InstanceStatusNew)

	s.NoError(s.lifecycle.SetHandle(s.ctx, instance.ID, "assigned-later"))

	found, err := s.lifecycle.GetByHandle(s.ctx, "assigned-later")
	s.NoError(err)
	s.Equal(instance.ID, found.ID)
}

func (s *LifecycleTestSuite) TestSetHandleDuplicate() {
	s.seedInstance("taken", models.InstanceStatusRunning)
	instance := s.seedInstance("", models.InstanceStatusNew)

	err := s.lifecycle.SetHandle(s.ctx, instance.ID, "taken")
	s.True(errors.Is(err, types.ErrDuplicateHandle))
}

func (s *LifecycleTestSuite) TestSetHandleOwnHandleIsNoConflict() {
	instance := s.seedInstance("mine", models.InstanceStatusNew)
	s.NoError(s.lifecycle.SetHandle(s.ctx, instance.ID, "mine"))
}

func (s *LifecycleTestSuite) TestGetByHandleExcludesClosed() {
	s.seedInstance("closed", models.InstanceStatusHalted)

	_, err := s.lifecycle.GetByHandle(s.ctx, "closed")
	s.True(errors.Is(err, types.ErrUnknownHandle))
}

func (s *LifecycleTestSuite) TestHistoryUnknownInstance() {
	_, err := s.lifecycle.History(s.ctx, 424242)
	s.True(errors.Is(err, types.ErrUnknownInstance))
}
