package repos

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/virtfleet/virtfleet/internal/db/models"
)

// HistoryRepository provides access to the append-only status history
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append writes one history entry. Entries are never updated or deleted.
func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByInstance returns the full status history of an instance, oldest first
func (r *HistoryRepository) ListByInstance(ctx context.Context, instanceID uint) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list history for instance %d: %w", instanceID, err)
	}
	return entries, nil
}

// CountByInstance returns the number of history entries for an instance
func (r *HistoryRepository) CountByInstance(ctx context.Context, instanceID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.HistoryEntry{}).
		Where("instance_id = ?", instanceID).
		Count(&count).Error
	return count, err
}

// RunningBucket is one time bucket of running-instance telemetry
type RunningBucket struct {
	Bucket time.Time
	Group  string
	Count  int64
	Load   float64
}

// RunningHistory aggregates transitions into Running over the given
// timespan into fixed-size buckets, optionally grouped by an instance
// field ("endpoint", "image" or "running_pod"). Bucketing is done in Go
// so the query stays portable across the production and test dialects.
func (r *HistoryRepository) RunningHistory(ctx context.Context, timespan, bucket time.Duration, groupField string) ([]RunningBucket, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("bucket size must be positive")
	}

	since := time.Now().Add(-timespan)

	type row struct {
		models.HistoryEntry
		Site       string
		Endpoint   string
		Image      string
		RunningPod string
	}

	var rows []row
	query := r.db.WithContext(ctx).
		Model(&models.HistoryEntry{}).
		Select("history_entries.*, instances.site, instances.endpoint, instances.image, instances.running_pod").
		Joins("JOIN instances ON instances.id = history_entries.instance_id").
		Where("history_entries.to_status = ? AND history_entries.created_at > ?", models.InstanceStatusRunning, since).
		Order("history_entries.created_at ASC")
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query running history: %w", err)
	}

	type key struct {
		bucket time.Time
		group  string
	}
	totals := map[key]*RunningBucket{}
	order := []key{}

	for _, entry := range rows {
		var group string
		switch groupField {
		case "":
		case "endpoint":
			group = fmt.Sprintf("%s::%s", entry.Site, entry.Endpoint)
		case "image":
			group = entry.Image
		case "running_pod":
			group = entry.RunningPod
		default:
			return nil, fmt.Errorf("cannot group history by field %q", groupField)
		}

		k := key{bucket: entry.CreatedAt.Truncate(bucket), group: group}
		agg, ok := totals[k]
		if !ok {
			agg = &RunningBucket{Bucket: k.bucket, Group: group}
			totals[k] = agg
			order = append(order, k)
		}
		agg.Count++
		agg.Load += entry.Load
	}

	buckets := make([]RunningBucket, 0, len(order))
	for _, k := range order {
		buckets = append(buckets, *totals[k])
	}
	return buckets, nil
}
