package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Classification labels stored with each entry.
const (
	ResultReal = "REAL"
	ResultFake = "FAKE"
)

// RecentLimit is the number of entries reported by Stats.
const RecentLimit = 5

// HistoryEntry is one completed inference request. Entries are append-only.
type HistoryEntry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"column:username;index;size:64;not null" json:"username"`
	ImageData   string    `gorm:"column:image_data;type:text" json:"image_data"`
	ImageSHA1   string    `gorm:"column:image_sha1;size:40" json:"image_sha1"`
	Result      string    `gorm:"column:result;size:16;not null" json:"result"`
	Confidence  int       `gorm:"column:confidence" json:"confidence"`
	Explanation string    `gorm:"column:explanation;type:text" json:"explanation"`
	Timestamp   time.Time `gorm:"column:timestamp;index" json:"timestamp"`
}

// TableName overrides the default table name.
func (HistoryEntry) TableName() string {
	return "history"
}

// HistoryStats aggregates one user's entries.
type HistoryStats struct {
	Total     int64
	RealCount int64
	FakeCount int64
	Recent    []*HistoryEntry
}

// HistoryRepository provides persistence APIs for history entries.
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new repository instance.
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Save appends entry and fills in its ID.
func (r *HistoryRepository) Save(ctx context.Context, entry *HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByUser returns all entries of username, newest first.
func (r *HistoryRepository) ListByUser(ctx context.Context, username string) ([]*HistoryEntry, error) {
	return r.listByUser(ctx, username, 0)
}

// FindByIDAndUser retrieves an entry only if username owns it.
func (r *HistoryRepository) FindByIDAndUser(ctx context.Context, id uint, username string) (*HistoryEntry, error) {
	var entry HistoryEntry
	if err := r.db.WithContext(ctx).First(&entry, "id = ? AND username = ?", id, username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Stats counts entries per label and loads the most recent ones.
func (r *HistoryRepository) Stats(ctx context.Context, username string) (*HistoryStats, error) {
	var rows []struct {
		Result string
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&HistoryEntry{}).
		Select("result, COUNT(*) AS count").
		Where("username = ?", username).
		Group("result").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &HistoryStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Result {
		case ResultReal:
			stats.RealCount = row.Count
		case ResultFake:
			stats.FakeCount = row.Count
		}
	}

	recent, err := r.listByUser(ctx, username, RecentLimit)
	if err != nil {
		return nil, err
	}
	stats.Recent = recent
	return stats, nil
}

func (r *HistoryRepository) listByUser(ctx context.Context, username string, limit int) ([]*HistoryEntry, error) {
	query := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("timestamp DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	entries := make([]*HistoryEntry, 0)
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
