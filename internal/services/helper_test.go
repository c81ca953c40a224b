package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/virtfleet/virtfleet/internal/compute"
	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/db/repos"
)

const testStallTimeout = 10 * time.Minute

// testDBCounter gives every test its own in-memory database; a shared
// cache name would leak rows between tests in the same process
var testDBCounter atomic.Int64

// ServiceTestSuite wires the full engine over an in-memory store and a
// mock cloud backend
type ServiceTestSuite struct {
	suite.Suite
	ctx context.Context

	db           *gorm.DB
	instanceRepo *repos.InstanceRepository
	historyRepo  *repos.HistoryRepository

	resolver *compute.MockResolver

	lifecycle  *Lifecycle
	heartbeat  *Heartbeat
	dispatcher *HaltDispatcher
}

func (s *ServiceTestSuite) SetupTest() {
	dsn := fmt.Sprintf("file:services_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	err = db.AutoMigrate(&models.Instance{}, &models.HistoryEntry{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	s.ctx = context.Background()
	s.instanceRepo = repos.NewInstanceRepository(db)
	s.historyRepo = repos.NewHistoryRepository(db)
	s.resolver = compute.NewMockResolver()

	s.lifecycle = NewLifecycleService(s.instanceRepo, s.historyRepo)
	s.heartbeat = NewHeartbeatService(s.lifecycle, s.instanceRepo, testStallTimeout)
	s.dispatcher = NewHaltDispatcher(s.lifecycle, s.instanceRepo, s.resolver, 4, 5*time.Second)
}

func (s *ServiceTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// gateway is the shared mock backend every site resolves to
func (s *ServiceTestSuite) gateway() *compute.MockGateway {
	return s.resolver.Gateway
}

// seedInstance plants an instance directly in the store, bypassing the
// lifecycle rules, so tests can start from any status
func (s *ServiceTestSuite) seedInstance(handle string, status models.InstanceStatus, mutate ...func(*models.Instance)) *models.Instance {
	instance := &models.Instance{
		Handle:   handle,
		Name:     "vm-" + handle,
		Image:    "centos-7",
		Site:     "CLOUD.Test",
		Endpoint: "Cloud",
		PublicIP: "192.0.2.10",
		Status:   status,
	}
	for _, fn := range mutate {
		fn(instance)
	}
	err := s.instanceRepo.Create(s.ctx, instance)
	s.Require().NoError(err, "Failed to seed test instance")
	return instance
}

// historyCount is a shorthand for the instance's audit-trail length
func (s *ServiceTestSuite) historyCount(instanceID uint) int64 {
	count, err := s.historyRepo.CountByInstance(s.ctx, instanceID)
	s.Require().NoError(err)
	return count
}

// currentStatus re-reads the instance's status from the store
func (s *ServiceTestSuite) currentStatus(instanceID uint) models.InstanceStatus {
	instance, err := s.instanceRepo.GetByID(s.ctx, instanceID)
	s.Require().NoError(err)
	return instance.Status
}
