package repos

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

	"github.com/virtfleet/virtfleet/internal/db/models"
)

// testDBCounter gives every test its own in-memory database; a shared
// cache name would leak rows between tests in the same process
var testDBCounter atomic.Int64

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db           *gorm.DB
	ctx          context.Context
	instanceRepo *InstanceRepository
	historyRepo  *HistoryRepository
}

func (s *DBRepositoryTestSuite) SetupTest() {
	dsn := fmt.Sprintf("file:repos_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	err = db.AutoMigrate(&models.Instance{}, &models.HistoryEntry{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	s.instanceRepo = NewInstanceRepository(s.db)
	s.historyRepo = NewHistoryRepository(s.db)
	s.ctx = context.Background()
}

func (s *DBRepositoryTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// Helper methods for creating test data

func (s *DBRepositoryTestSuite) createTestInstance(handle string, status models.InstanceStatus) *models.Instance {
	instance := &models.Instance{
		Handle:   handle,
		Name:     "vm-" + handle,
		Image:    "centos-7",
		Site:     "CLOUD.Test",
		Endpoint: "Cloud",
		Status:   status,
	}
	err := s.instanceRepo.Create(s.ctx, instance)
	s.Require().NoError(err, "Failed to create test instance")
	s.Require().NotZero(instance.ID)
	return instance
}

func (s *DBRepositoryTestSuite) appendHistory(instanceID uint, from, to models.InstanceStatus, createdAt time.Time) *models.HistoryEntry {
	entry := &models.HistoryEntry{
		InstanceID: instanceID,
		FromStatus: from,
		ToStatus:   to,
		CreatedAt:  createdAt,
	}
	err := s.historyRepo.Append(s.ctx, entry)
	s.Require().NoError(err, "Failed to append history entry")
	return entry
}
