package repos

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/virtfleet/virtfleet/internal/db/models"
)

// groupableFields is the allowlist for grouped counters; anything else is
// rejected before it reaches SQL
var groupableFields = map[string]bool{
	"status":      true,
	"site":        true,
	"endpoint":    true,
	"image":       true,
	"running_pod": true,
}

// InstanceRepository provides access to instance-related database operations
type InstanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// Transaction runs fn inside a single database transaction. The callback
// receives repositories bound to the transaction so a status update and
// its history append commit or roll back as one unit.
func (r *InstanceRepository) Transaction(ctx context.Context, fn func(instances *InstanceRepository, history *HistoryRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&InstanceRepository{db: tx}, &HistoryRepository{db: tx})
	})
}

// withRowLock adds SELECT ... FOR UPDATE on dialects that support it.
// The sqlite test databases serialize through a single writer instead.
func (r *InstanceRepository) withRowLock(query *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() == "postgres" {
		return query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

// Create inserts a new instance record
func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	return r.db.WithContext(ctx).Create(instance).Error
}

// GetByID retrieves an instance by its ID
func (r *InstanceRepository) GetByID(ctx context.Context, id uint) (*models.Instance, error) {
	var instance models.Instance
	err := r.db.WithContext(ctx).First(&instance, id).Error
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetByIDForUpdate retrieves an instance by ID while holding a row lock
// for the remainder of the surrounding transaction
func (r *InstanceRepository) GetByIDForUpdate(ctx context.Context, id uint) (*models.Instance, error) {
	var instance models.Instance
	err := r.withRowLock(r.db.WithContext(ctx)).First(&instance, id).Error
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetByHandle retrieves the live (non-Halted) instance for a backend
// handle. The handle is unique among live instances, so at most one row
// can match.
func (r *InstanceRepository) GetByHandle(ctx context.Context, handle string) (*models.Instance, error) {
	var instance models.Instance
	err := r.db.WithContext(ctx).
		Where("handle = ? AND status != ?", handle, models.InstanceStatusHalted).
		First(&instance).Error
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetByHandleForUpdate is GetByHandle with a row lock for the remainder
// of the surrounding transaction
func (r *InstanceRepository) GetByHandleForUpdate(ctx context.Context, handle string) (*models.Instance, error) {
	var instance models.Instance
	err := r.withRowLock(r.db.WithContext(ctx)).
		Where("handle = ? AND status != ?", handle, models.InstanceStatusHalted).
		First(&instance).Error
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetByHandleIncludingClosed retrieves the most recent instance that ever
// carried the given handle, Halted rows included
func (r *InstanceRepository) GetByHandleIncludingClosed(ctx context.Context, handle string) (*models.Instance, error) {
	var instance models.Instance
	err := r.db.WithContext(ctx).
		Where("handle = ?", handle).
		Order("id DESC").
		First(&instance).Error
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetByName retrieves the most recently registered instance with the given name
func (r *InstanceRepository) GetByName(ctx context.Context, name string) (*models.Instance, error) {
	var instance models.Instance
	err := r.db.WithContext(ctx).
		Where(&models.Instance{Name: name}).
		Order("id DESC").
		First(&instance).Error
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// Update persists the given fields of an instance
func (r *InstanceRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Instance{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListByStatus returns all instances currently in the given status
func (r *InstanceRepository) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]models.Instance, error) {
	var instances []models.Instance
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list instances by status: %w", err)
	}
	return instances, nil
}

// applyListOptions applies filtering and pagination to the given query
func (r *InstanceRepository) applyListOptions(query *gorm.DB, opts *models.ListOptions) *gorm.DB {
	if opts == nil {
		return query.
			Where("status != ?", models.InstanceStatusHalted).
			Limit(models.DefaultLimit)
	}

	if opts.Status != nil {
		if opts.StatusFilter == models.StatusFilterNotEqual {
			query = query.Where("status != ?", *opts.Status)
		} else {
			query = query.Where("status = ?", *opts.Status)
		}
	} else if !opts.IncludeClosed {
		query = query.Where("status != ?", models.InstanceStatusHalted)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	if limit > models.MaxLimit {
		limit = models.MaxLimit
	}
	query = query.Limit(limit)

	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	return query
}

// List returns a page of instances based on the provided options
func (r *InstanceRepository) List(ctx context.Context, opts *models.ListOptions) ([]models.Instance, error) {
	var instances []models.Instance
	query := r.applyListOptions(r.db.WithContext(ctx), opts)

	err := query.Order("id ASC").Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

// CountByGroup returns instance counts grouped by the given field
func (r *InstanceRepository) CountByGroup(ctx context.Context, groupField string, opts *models.ListOptions) ([]GroupCount, error) {
	if !groupableFields[groupField] {
		return nil, fmt.Errorf("cannot group instances by field %q", groupField)
	}

	query := r.db.WithContext(ctx).Model(&models.Instance{})
	if opts != nil && opts.Status != nil {
		query = query.Where("status = ?", *opts.Status)
	} else if opts == nil || !opts.IncludeClosed {
		query = query.Where("status != ?", models.InstanceStatusHalted)
	}

	var counts []GroupCount
	err := query.
		Select("CAST(" + groupField + " AS TEXT) AS value, COUNT(*) AS count").
		Group(groupField).
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count instances by %s: %w", groupField, err)
	}
	return counts, nil
}

// GroupCount is one row of a grouped count query
type GroupCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}
